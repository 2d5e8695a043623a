package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notification types for commission settlement messages
const (
	NotificationManualPaymentReceived = "manual_payment_received"
	NotificationManualPaymentAlert    = "manual_payment_alert"
	NotificationManualPaymentDecision = "manual_payment_decision"
	NotificationDebtSettled           = "commission_debt_settled"
	NotificationDebtCancelled         = "commission_debt_cancelled"
)

// Audience selects who receives an outbound notification
type Audience string

const (
	AudienceProvider Audience = "provider"
	AudienceFinance  Audience = "finance"
)

// Notification is the in-app inbox record stored in MongoDB
type Notification struct {
	ID          primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	RecipientID string             `json:"recipientId" bson:"recipientId"`
	Title       string             `json:"title" bson:"title"`
	Message     string             `json:"message" bson:"message"`
	Type        string             `json:"type" bson:"type"`
	Data        interface{}        `json:"data,omitempty" bson:"data"`
	IsRead      bool               `json:"isRead" bson:"isRead"`
	CreatedAt   time.Time          `json:"createdAt" bson:"createdAt"`
}

// OutboundNotification is a structured payload handed to the dispatcher.
// Delivery success never feeds back into ledger state.
type OutboundNotification struct {
	Type        string                 `json:"type"`
	Audience    Audience               `json:"audience"`
	RecipientID string                 `json:"recipientId,omitempty"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
}
