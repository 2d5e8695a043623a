package services

import (
	"context"
	"time"

	"github.com/HSouheill/barrim_settlement/models"
)

// PaymentProcessor is the external processor used by the collection cycle
type PaymentProcessor interface {
	GetBalance(ctx context.Context, account, currency string) (int64, error)
	Transfer(ctx context.Context, req models.TransferRequest) (models.TransferResult, error)
	Charge(ctx context.Context, req models.ChargeRequest) (models.ChargeResult, error)
}

// ProviderDirectory resolves provider profiles and processor references
type ProviderDirectory interface {
	GetProvider(ctx context.Context, providerID string) (models.ServiceProvider, error)
}

// Notifier hands structured payloads to delivery; it must not block the caller
type Notifier interface {
	Dispatch(n models.OutboundNotification)
}

// ReceiptStorage issues pre-signed receipt URLs
type ReceiptStorage interface {
	UploadURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	ReadURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	Bucket() string
}

// noopNotifier drops every notification
type noopNotifier struct{}

func (noopNotifier) Dispatch(models.OutboundNotification) {}
