package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/repositories"
	"github.com/HSouheill/barrim_settlement/utils"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// openStatuses are every non-terminal debt status
var openStatuses = []models.DebtStatus{
	models.DebtStatusPending,
	models.DebtStatusOverdue,
	models.DebtStatusUnderReview,
	models.DebtStatusRejected,
}

var manualPaymentStatuses = map[models.ManualPaymentStatus]bool{
	models.ManualPaymentUnderReview:           true,
	models.ManualPaymentApproved:              true,
	models.ManualPaymentRejected:              true,
	models.ManualPaymentResubmissionRequested: true,
}

// DebtService owns debt accrual, lifecycle sweeps and ledger reads
type DebtService struct {
	ledger   repositories.LedgerStore
	notifier Notifier
	now      func() time.Time
}

func NewDebtService(ledger repositories.LedgerStore, notifier Notifier) *DebtService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &DebtService{
		ledger:   ledger,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AccrueDebt creates a pending debt for a cash-collected transaction.
// Accruing the same source reference twice returns the existing debt.
func (s *DebtService) AccrueDebt(ctx context.Context, accrual models.DebtAccrual) (models.CommissionDebt, bool, error) {
	if strings.TrimSpace(accrual.ProviderID) == "" {
		return models.CommissionDebt{}, false, &ValidationError{Field: "providerId", Reason: "is required"}
	}
	if accrual.Amount <= 0 {
		return models.CommissionDebt{}, false, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	currency, ok := utils.NormalizeCurrency(accrual.Currency)
	if !ok {
		return models.CommissionDebt{}, false, &ValidationError{Field: "currency", Reason: "must be a 3-letter currency code"}
	}
	source := strings.TrimSpace(accrual.SourceReference)
	if source == "" {
		return models.CommissionDebt{}, false, &ValidationError{Field: "sourceReference", Reason: "is required"}
	}
	if accrual.DueDate.IsZero() {
		return models.CommissionDebt{}, false, &ValidationError{Field: "dueDate", Reason: "is required"}
	}

	var (
		debt    models.CommissionDebt
		created bool
	)
	err := s.ledger.InTx(ctx, func(tx repositories.LedgerTx) error {
		existing, err := tx.FindDebtBySource(ctx, source)
		if err == nil {
			debt = existing
			return nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		debt = models.CommissionDebt{
			ID:               uuid.NewString(),
			ProviderID:       accrual.ProviderID,
			Amount:           accrual.Amount,
			Currency:         currency,
			Status:           models.DebtStatusPending,
			DueDate:          accrual.DueDate.UTC(),
			SettlementMethod: models.SettlementMethodNone,
			SourceReference:  source,
		}
		if err := tx.CreateDebt(ctx, &debt); err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, repositories.ErrDuplicate) {
		// a concurrent accrual of the same source won the insert
		return s.findBySource(ctx, source)
	}
	if err != nil {
		return models.CommissionDebt{}, false, passThrough("accrue debt", err)
	}

	if created {
		log.WithFields(log.Fields{
			"debtId":     debt.ID,
			"providerId": debt.ProviderID,
			"amount":     debt.Amount,
			"currency":   debt.Currency,
		}).Info("commission debt accrued")
	}
	return debt, created, nil
}

func (s *DebtService) findBySource(ctx context.Context, source string) (models.CommissionDebt, bool, error) {
	var debt models.CommissionDebt
	err := s.ledger.InTx(ctx, func(tx repositories.LedgerTx) error {
		var err error
		debt, err = tx.FindDebtBySource(ctx, source)
		return err
	})
	if err != nil {
		return models.CommissionDebt{}, false, passThrough("find debt by source", err)
	}
	return debt, false, nil
}

// MarkOverdue moves every pending debt past its due date to overdue
func (s *DebtService) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.ledger.MarkOverdue(ctx, now)
	if err != nil {
		return 0, &PersistenceError{Op: "mark overdue", Err: err}
	}
	if n > 0 {
		log.WithField("debts", n).Info("commission debts marked overdue")
	}
	return n, nil
}

// CancelDebt writes off an open debt
func (s *DebtService) CancelDebt(ctx context.Context, debtID, adminID, reason string) (models.CommissionDebt, error) {
	debtID = strings.TrimSpace(debtID)
	if debtID == "" {
		return models.CommissionDebt{}, &ValidationError{Field: "debtId", Reason: "is required"}
	}

	var debt models.CommissionDebt
	err := s.ledger.InTx(ctx, func(tx repositories.LedgerTx) error {
		var err error
		debt, err = tx.LockDebt(ctx, debtID)
		if errors.Is(err, repositories.ErrNotFound) {
			return &NotFoundError{Entity: "commission debt", ID: debtID}
		}
		if err != nil {
			return err
		}
		if err := debt.TransitionTo(models.DebtStatusCancelled); err != nil {
			return &ConflictError{Entity: "commission debt", ID: debtID, State: string(debt.Status)}
		}
		return tx.SaveDebt(ctx, &debt)
	})
	if err != nil {
		return models.CommissionDebt{}, passThrough("cancel debt", err)
	}

	log.WithFields(log.Fields{
		"debtId":     debt.ID,
		"providerId": debt.ProviderID,
		"adminId":    adminID,
		"reason":     reason,
	}).Info("commission debt cancelled")

	s.notifier.Dispatch(models.OutboundNotification{
		Type:        models.NotificationDebtCancelled,
		Audience:    models.AudienceProvider,
		RecipientID: debt.ProviderID,
		Title:       "Commission cancelled",
		Message: fmt.Sprintf("Your commission of %s %s has been cancelled.",
			utils.ToMajorUnits(debt.Amount, debt.Currency), debt.Currency),
		Data: map[string]interface{}{
			"debtId": debt.ID,
			"reason": utils.SanitizeInput(reason),
		},
	})
	return debt, nil
}

// ListProviderDebts returns a provider's debts, optionally filtered by status
func (s *DebtService) ListProviderDebts(ctx context.Context, providerID string, statuses []models.DebtStatus) ([]models.CommissionDebt, error) {
	debts, err := s.ledger.ListProviderDebts(ctx, providerID, statuses)
	if err != nil {
		return nil, &PersistenceError{Op: "list provider debts", Err: err}
	}
	return debts, nil
}

// Summary aggregates a provider's open obligations per currency
func (s *DebtService) Summary(ctx context.Context, providerID string) (models.DebtSummary, error) {
	debts, err := s.ledger.ListProviderDebts(ctx, providerID, openStatuses)
	if err != nil {
		return models.DebtSummary{}, &PersistenceError{Op: "debt summary", Err: err}
	}

	summary := models.DebtSummary{ProviderID: providerID, Outstanding: map[string]int64{}}
	for _, d := range debts {
		summary.Outstanding[d.Currency] += d.Remaining()
		summary.OpenDebts++
		switch d.Status {
		case models.DebtStatusUnderReview:
			summary.UnderReview++
		case models.DebtStatusOverdue:
			summary.Overdue++
		}
	}
	return summary, nil
}

// ListManualPayments returns claims for the admin review queue
func (s *DebtService) ListManualPayments(ctx context.Context, status models.ManualPaymentStatus, limit int) ([]models.ManualCashPayment, error) {
	if status != "" && !manualPaymentStatuses[status] {
		return nil, &ValidationError{Field: "status", Reason: "is not a manual payment status"}
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	payments, err := s.ledger.ListManualPayments(ctx, status, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list manual payments", Err: err}
	}
	return payments, nil
}

// ListSettlements returns the audited settlement history of a debt
func (s *DebtService) ListSettlements(ctx context.Context, debtID string) ([]models.CommissionSettlement, error) {
	if _, err := s.ledger.GetDebt(ctx, debtID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, &NotFoundError{Entity: "commission debt", ID: debtID}
		}
		return nil, &PersistenceError{Op: "get debt", Err: err}
	}
	settlements, err := s.ledger.ListSettlements(ctx, debtID)
	if err != nil {
		return nil, &PersistenceError{Op: "list settlements", Err: err}
	}
	return settlements, nil
}

// ParseDebtStatuses parses a comma-separated status filter
func ParseDebtStatuses(raw string) ([]models.DebtStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	known := map[models.DebtStatus]bool{
		models.DebtStatusPending:     true,
		models.DebtStatusOverdue:     true,
		models.DebtStatusUnderReview: true,
		models.DebtStatusPaid:        true,
		models.DebtStatusRejected:    true,
		models.DebtStatusCancelled:   true,
	}
	var out []models.DebtStatus
	for _, part := range strings.Split(raw, ",") {
		st := models.DebtStatus(strings.TrimSpace(part))
		if !known[st] {
			return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown debt status %q", st)}
		}
		out = append(out, st)
	}
	return out, nil
}
