package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HSouheill/barrim_settlement/metrics"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/repositories"
	"github.com/HSouheill/barrim_settlement/utils"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ManualPaymentService records provider-reported cash transfers against open debts
type ManualPaymentService struct {
	ledger   repositories.LedgerStore
	receipts ReceiptStorage
	notifier Notifier
	urlTTL   time.Duration
	now      func() time.Time
}

func NewManualPaymentService(ledger repositories.LedgerStore, receipts ReceiptStorage, notifier Notifier, urlTTL time.Duration) *ManualPaymentService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &ManualPaymentService{
		ledger:   ledger,
		receipts: receipts,
		notifier: notifier,
		urlTTL:   urlTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SubmitManualPayment binds a claimed transfer to every outstanding debt of the
// provider in the claimed currency and moves them all to review, atomically.
func (s *ManualPaymentService) SubmitManualPayment(ctx context.Context, providerID string, req models.ManualPaymentRequest) (models.ManualPaymentResult, error) {
	currency, err := s.validateSubmission(providerID, req)
	if err != nil {
		return models.ManualPaymentResult{}, err
	}

	payment := models.ManualCashPayment{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Amount:     req.Amount,
		Currency:   currency,
		Status:     models.ManualPaymentUnderReview,
		Reference:  utils.SanitizeInput(req.Reference),
		Notes:      utils.SanitizeInput(req.Notes),
		Receipt: models.ReceiptRef{
			Bucket:   req.Receipt.Bucket,
			Key:      strings.TrimSpace(req.Receipt.Key),
			Filename: utils.CleanFilename(req.Receipt.Filename),
		},
		Metadata: req.Metadata,
	}
	if payment.Receipt.Bucket == "" && s.receipts != nil {
		payment.Receipt.Bucket = s.receipts.Bucket()
	}

	var (
		debtIDs  []string
		totalDue int64
	)
	err = s.ledger.InTx(ctx, func(tx repositories.LedgerTx) error {
		debts, err := tx.LockOutstandingDebts(ctx, providerID, currency, models.ManualClaimStatuses)
		if err != nil {
			return err
		}
		if len(debts) == 0 {
			return &NotFoundError{Entity: "outstanding commission debts for provider", ID: providerID}
		}

		debtIDs = make([]string, 0, len(debts))
		totalDue = 0
		for _, d := range debts {
			debtIDs = append(debtIDs, d.ID)
			totalDue += d.Amount
		}

		if err := tx.CreateManualPayment(ctx, &payment); err != nil {
			return err
		}
		if err := tx.LinkDebts(ctx, payment.ID, debtIDs); err != nil {
			return err
		}

		paymentID := payment.ID
		for i := range debts {
			debt := debts[i]
			if err := debt.TransitionTo(models.DebtStatusUnderReview); err != nil {
				return &ConflictError{Entity: "commission debt", ID: debt.ID, State: string(debt.Status)}
			}
			debt.SettlementMethod = models.SettlementMethodManual
			debt.ManualPaymentID = &paymentID
			if err := tx.SaveDebt(ctx, &debt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = passThrough("submit manual payment", err)
		var pe *PersistenceError
		if errors.As(err, &pe) {
			log.WithFields(log.Fields{
				"providerId": providerID,
				"debtIds":    debtIDs,
				"amount":     req.Amount,
				"currency":   currency,
			}).WithError(err).Error("manual payment allocation rolled back")
		}
		return models.ManualPaymentResult{}, err
	}

	metrics.RecordManualPayment("submitted")
	result := models.ManualPaymentResult{
		Payment:        payment,
		AppliedDebtIDs: debtIDs,
		TotalDue:       totalDue,
		Difference:     payment.Amount - totalDue,
	}
	s.notifySubmitted(result)
	return result, nil
}

func (s *ManualPaymentService) validateSubmission(providerID string, req models.ManualPaymentRequest) (string, error) {
	if strings.TrimSpace(providerID) == "" {
		return "", &ValidationError{Field: "providerId", Reason: "is required"}
	}
	if req.Amount <= 0 {
		return "", &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	currency, ok := utils.NormalizeCurrency(req.Currency)
	if !ok {
		return "", &ValidationError{Field: "currency", Reason: "must be a 3-letter currency code"}
	}
	key := strings.TrimSpace(req.Receipt.Key)
	if key == "" {
		return "", &ValidationError{Field: "receipt", Reason: "is required"}
	}
	if !strings.HasPrefix(key, utils.ReceiptKeyPrefix(providerID)) {
		return "", &ValidationError{Field: "receipt", Reason: "does not belong to this provider"}
	}
	return currency, nil
}

func (s *ManualPaymentService) notifySubmitted(result models.ManualPaymentResult) {
	p := result.Payment
	amount := utils.ToMajorUnits(p.Amount, p.Currency)
	data := map[string]interface{}{
		"manualPaymentId": p.ID,
		"providerId":      p.ProviderID,
		"amount":          p.Amount,
		"currency":        p.Currency,
		"totalDue":        result.TotalDue,
		"difference":      result.Difference,
		"debtIds":         result.AppliedDebtIDs,
	}

	s.notifier.Dispatch(models.OutboundNotification{
		Type:        models.NotificationManualPaymentReceived,
		Audience:    models.AudienceProvider,
		RecipientID: p.ProviderID,
		Title:       "Payment received",
		Message:     fmt.Sprintf("We received your payment of %s %s. It is now under review.", amount, p.Currency),
		Data:        data,
	})
	s.notifier.Dispatch(models.OutboundNotification{
		Type:     models.NotificationManualPaymentAlert,
		Audience: models.AudienceFinance,
		Title:    "Manual commission payment to review",
		Message: fmt.Sprintf("Provider %s reported a payment of %s %s against %d debt(s), total due %s.",
			p.ProviderID, amount, p.Currency, len(result.AppliedDebtIDs), utils.ToMajorUnits(result.TotalDue, p.Currency)),
		Data: data,
	})
}

// ReceiptUploadLocator issues a pre-signed URL the provider uploads a receipt to
func (s *ManualPaymentService) ReceiptUploadLocator(ctx context.Context, providerID, filename string) (models.ReceiptLocator, error) {
	if err := utils.ValidateReceiptFile(filename); err != nil {
		return models.ReceiptLocator{}, &ValidationError{Field: "filename", Reason: err.Error()}
	}
	if s.receipts == nil {
		return models.ReceiptLocator{}, &PersistenceError{Op: "receipt upload url", Err: errors.New("receipt storage not configured")}
	}

	clean := utils.CleanFilename(filename)
	key := utils.ReceiptObjectKey(providerID, uuid.NewString(), clean)
	url, err := s.receipts.UploadURL(ctx, key, utils.ReceiptContentType(clean), s.urlTTL)
	if err != nil {
		return models.ReceiptLocator{}, &PersistenceError{Op: "receipt upload url", Err: err}
	}
	return models.ReceiptLocator{
		ReceiptRef: models.ReceiptRef{Bucket: s.receipts.Bucket(), Key: key, Filename: clean},
		UploadURL:  url,
		ExpiresAt:  s.now().Add(s.urlTTL),
	}, nil
}

// ReceiptURL issues a short-lived read URL for an admin reviewing a claim
func (s *ManualPaymentService) ReceiptURL(ctx context.Context, paymentID string) (string, error) {
	payment, err := s.ledger.GetManualPayment(ctx, paymentID)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", &NotFoundError{Entity: "manual payment", ID: paymentID}
	}
	if err != nil {
		return "", &PersistenceError{Op: "get manual payment", Err: err}
	}
	if s.receipts == nil {
		return "", &PersistenceError{Op: "receipt url", Err: errors.New("receipt storage not configured")}
	}
	bucket := payment.Receipt.Bucket
	if bucket == "" {
		bucket = s.receipts.Bucket()
	}
	url, err := s.receipts.ReadURL(ctx, bucket, payment.Receipt.Key, s.urlTTL)
	if err != nil {
		return "", &PersistenceError{Op: "receipt url", Err: err}
	}
	return url, nil
}
