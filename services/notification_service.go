package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/websocket"
	log "github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// financeInbox is the inbox recipient id shared by finance admins
const financeInbox = "finance"

// InboxStore persists in-app notifications
type InboxStore interface {
	SaveNotification(ctx context.Context, recipientID, title, message, notifType string, data interface{}) error
}

// PushSender delivers FCM messages; *messaging.Client satisfies it
type PushSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// MailSender delivers email; *gomail.Dialer satisfies it
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// AdminBroadcaster pushes live alerts to connected admin dashboards
type AdminBroadcaster interface {
	BroadcastToAdmins(notification websocket.Notification)
}

// NotificationDispatcher fans commission notifications out to the inbox, push,
// email and the admin websocket. Delivery runs in the background and failures
// are only logged.
type NotificationDispatcher struct {
	inbox         InboxStore
	push          PushSender
	mail          MailSender
	admins        AdminBroadcaster
	directory     ProviderDirectory
	mailFrom      string
	finance       []string
	adminPanelURL string
	timeout       time.Duration
	wg            sync.WaitGroup
}

// DispatcherOptions wires the delivery channels; nil channels are skipped
type DispatcherOptions struct {
	Inbox         InboxStore
	Push          PushSender
	Mail          MailSender
	Admins        AdminBroadcaster
	Directory     ProviderDirectory
	MailFrom      string
	Finance       []string
	AdminPanelURL string
}

func NewNotificationDispatcher(opts DispatcherOptions) *NotificationDispatcher {
	return &NotificationDispatcher{
		inbox:         opts.Inbox,
		push:          opts.Push,
		mail:          opts.Mail,
		admins:        opts.Admins,
		directory:     opts.Directory,
		mailFrom:      opts.MailFrom,
		finance:       opts.Finance,
		adminPanelURL: opts.AdminPanelURL,
		timeout:       30 * time.Second,
	}
}

// Dispatch hands a notification to background delivery and returns immediately
func (d *NotificationDispatcher) Dispatch(n models.OutboundNotification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("type", n.Type).Errorf("notification delivery panicked: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.deliver(ctx, n)
	}()
}

// Wait blocks until every dispatched notification has been attempted
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n models.OutboundNotification) {
	switch n.Audience {
	case models.AudienceProvider:
		d.deliverToProvider(ctx, n)
	case models.AudienceFinance:
		d.deliverToFinance(ctx, n)
	default:
		log.WithField("audience", n.Audience).Warn("notification with unknown audience dropped")
	}
}

func (d *NotificationDispatcher) deliverToProvider(ctx context.Context, n models.OutboundNotification) {
	entry := log.WithFields(log.Fields{"type": n.Type, "providerId": n.RecipientID})

	if d.inbox != nil {
		if err := d.inbox.SaveNotification(ctx, n.RecipientID, n.Title, n.Message, n.Type, n.Data); err != nil {
			entry.WithError(err).Warn("failed to save provider notification")
		}
	}

	if d.push == nil || d.directory == nil {
		return
	}
	provider, err := d.directory.GetProvider(ctx, n.RecipientID)
	if err != nil {
		entry.WithError(err).Warn("failed to load provider for push notification")
		return
	}
	if provider.FCMToken == "" {
		entry.Debug("service provider has no FCM token")
		return
	}

	message := &messaging.Message{
		Token: provider.FCMToken,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Data: stringData(n),
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				ChannelID: "barrim_fcm_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: n.Title,
						Body:  n.Message,
					},
					Sound:    "default",
					Category: "COMMISSION",
				},
			},
		},
	}
	response, err := d.push.Send(ctx, message)
	if err != nil {
		entry.WithError(err).Warn("failed to send FCM notification")
		return
	}
	entry.WithField("messageId", response).Info("FCM notification sent")
}

func (d *NotificationDispatcher) deliverToFinance(ctx context.Context, n models.OutboundNotification) {
	entry := log.WithField("type", n.Type)

	if d.inbox != nil {
		if err := d.inbox.SaveNotification(ctx, financeInbox, n.Title, n.Message, n.Type, n.Data); err != nil {
			entry.WithError(err).Warn("failed to save finance notification")
		}
	}

	if d.admins != nil {
		d.admins.BroadcastToAdmins(websocket.Notification{
			Type:    n.Type,
			Title:   n.Title,
			Message: n.Message,
			Data:    n.Data,
		})
	}

	if d.mail == nil || len(d.finance) == 0 {
		return
	}
	body := n.Message
	if d.adminPanelURL != "" {
		body += "\n\nReview it in the admin panel: " + d.adminPanelURL
	}

	m := gomail.NewMessage()
	m.SetHeader("From", d.mailFrom)
	m.SetHeader("To", d.finance...)
	m.SetHeader("Subject", n.Title)
	m.SetBody("text/plain", body)
	if err := d.mail.DialAndSend(m); err != nil {
		entry.WithError(err).Warn("failed to send finance alert email")
	}
}

// stringData flattens notification data into the string map FCM requires
func stringData(n models.OutboundNotification) map[string]string {
	out := map[string]string{
		"type":      n.Type,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	for key, value := range n.Data {
		switch v := value.(type) {
		case string:
			out[key] = v
		case []string:
			out[key] = strings.Join(v, ",")
		default:
			out[key] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
