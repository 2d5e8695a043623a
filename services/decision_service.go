package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HSouheill/barrim_settlement/config"
	"github.com/HSouheill/barrim_settlement/metrics"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/repositories"
	"github.com/HSouheill/barrim_settlement/utils"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var errSettlementRecorded = errors.New("settlement already recorded")

// processor statuses that mean the charge did not go through
var failedChargeStatuses = map[string]bool{
	"failed":    true,
	"declined":  true,
	"canceled":  true,
	"cancelled": true,
}

// DecisionService applies admin verdicts and processor confirmations to the ledger
type DecisionService struct {
	ledger   repositories.LedgerStore
	notifier Notifier
	caps     config.Capabilities
	now      func() time.Time
}

func NewDecisionService(ledger repositories.LedgerStore, notifier Notifier, caps config.Capabilities) *DecisionService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &DecisionService{
		ledger:   ledger,
		notifier: notifier,
		caps:     caps,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Decide approves, rejects or asks for resubmission of a manual payment claim
func (s *DecisionService) Decide(ctx context.Context, paymentID string, req models.DecisionRequest, adminID string) (models.DecisionResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return models.DecisionResult{}, &ValidationError{Field: "paymentId", Reason: "is required"}
	}
	status, ok := req.Decision.ResultingStatus()
	if !ok {
		return models.DecisionResult{}, &ValidationError{Field: "decision", Reason: "must be approve, reject or resubmit"}
	}

	var (
		payment  models.ManualCashPayment
		affected []string
	)
	err := s.ledger.InTx(ctx, func(tx repositories.LedgerTx) error {
		var err error
		payment, err = tx.LockManualPayment(ctx, paymentID)
		if errors.Is(err, repositories.ErrNotFound) {
			return &NotFoundError{Entity: "manual payment", ID: paymentID}
		}
		if err != nil {
			return err
		}
		if !payment.IsDecidable() {
			return &ConflictError{Entity: "manual payment", ID: paymentID, State: string(payment.Status)}
		}

		debtIDs, err := tx.LinkedDebtIDs(ctx, paymentID)
		if err != nil {
			return err
		}

		affected = affected[:0]
		for _, debtID := range debtIDs {
			debt, err := tx.LockDebt(ctx, debtID)
			if err != nil {
				return err
			}

			var changed bool
			if req.Decision == models.DecisionApprove {
				changed, err = s.approveDebt(ctx, tx, &debt, paymentID)
			} else {
				changed, err = s.releaseDebt(&debt, paymentID)
			}
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			if err := tx.SaveDebt(ctx, &debt); err != nil {
				return err
			}
			affected = append(affected, debt.ID)
		}

		decidedAt := s.now()
		payment.Status = status
		payment.DecidedBy = adminID
		payment.DecisionNotes = utils.SanitizeInput(req.Notes)
		payment.DecidedAt = &decidedAt
		return tx.SaveManualPayment(ctx, &payment)
	})
	if err != nil {
		err = passThrough("decide manual payment", err)
		var pe *PersistenceError
		if errors.As(err, &pe) {
			log.WithFields(log.Fields{
				"paymentId": paymentID,
				"decision":  req.Decision,
				"adminId":   adminID,
			}).WithError(err).Error("manual payment decision rolled back")
		}
		return models.DecisionResult{}, err
	}

	metrics.RecordManualPayment(string(req.Decision))
	log.WithFields(log.Fields{
		"paymentId": paymentID,
		"decision":  req.Decision,
		"adminId":   adminID,
		"debtIds":   affected,
	}).Info("manual payment decided")

	s.notifyDecision(payment, req.Decision)
	return models.DecisionResult{Payment: payment, AffectedDebtIDs: affected}, nil
}

// approveDebt settles the remainder of a linked debt with a manual settlement row
func (s *DecisionService) approveDebt(ctx context.Context, tx repositories.LedgerTx, debt *models.CommissionDebt, paymentID string) (bool, error) {
	if debt.Status.IsTerminal() {
		return false, nil
	}
	if debt.ChargeInFlight() {
		log.WithFields(log.Fields{
			"debtId":    debt.ID,
			"paymentId": paymentID,
			"chargeId":  debt.PendingChargeReference,
		}).Warn("approving a debt whose card charge is unconfirmed; a late confirmation will be ignored")
	}
	remaining := debt.Remaining()
	if remaining > 0 {
		if err := tx.InsertSettlement(ctx, &models.CommissionSettlement{
			ID:                uuid.NewString(),
			DebtID:            debt.ID,
			ProviderID:        debt.ProviderID,
			SettledAmount:     remaining,
			Currency:          debt.Currency,
			Method:            models.SettlementMethodManual,
			ExternalReference: paymentID,
		}); err != nil {
			return false, err
		}
	}
	if _, err := debt.ApplyFunds(remaining); err != nil {
		return false, err
	}
	if err := debt.TransitionTo(models.DebtStatusPaid); err != nil {
		return false, &ConflictError{Entity: "commission debt", ID: debt.ID, State: string(debt.Status)}
	}
	debt.SettlementMethod = models.SettlementMethodManual
	pid := paymentID
	debt.ManualPaymentID = &pid
	return true, nil
}

// releaseDebt returns a debt held by the payment to the collectible pool
func (s *DecisionService) releaseDebt(debt *models.CommissionDebt, paymentID string) (bool, error) {
	if !s.heldBy(*debt, paymentID) {
		return false, nil
	}
	if err := debt.TransitionTo(models.DebtStatusPending); err != nil {
		return false, &ConflictError{Entity: "commission debt", ID: debt.ID, State: string(debt.Status)}
	}
	debt.SettlementMethod = models.SettlementMethodNone
	if debt.ChargeInFlight() {
		debt.SettlementMethod = models.SettlementMethodCardFallback
		debt.ExternalReference = debt.PendingChargeReference
	}
	debt.ManualPaymentID = nil
	return true, nil
}

// heldBy reports whether a linked debt is still under review for this payment.
// Without the debt-side link column the join row plus the manual method is the only evidence.
func (s *DecisionService) heldBy(debt models.CommissionDebt, paymentID string) bool {
	if debt.Status != models.DebtStatusUnderReview {
		return false
	}
	if s.caps.DebtPaymentLink {
		return debt.ManualPaymentID != nil && *debt.ManualPaymentID == paymentID
	}
	return debt.SettlementMethod == models.SettlementMethodManual
}

// ApplySettlement records a confirmed card-fallback charge exactly once
func (s *DecisionService) ApplySettlement(ctx context.Context, conf models.SettlementConfirmation) (models.SettlementOutcome, error) {
	conf.ExternalReference = strings.TrimSpace(conf.ExternalReference)
	conf.DebtID = strings.TrimSpace(conf.DebtID)
	if conf.ExternalReference == "" {
		return models.SettlementOutcome{}, &ValidationError{Field: "externalReference", Reason: "is required"}
	}
	if conf.DebtID == "" {
		return models.SettlementOutcome{}, &ValidationError{Field: "debtId", Reason: "is required"}
	}
	if conf.Amount <= 0 {
		return models.SettlementOutcome{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	var outcome models.SettlementOutcome
	err := s.ledger.InTx(ctx, func(tx repositories.LedgerTx) error {
		debt, err := tx.LockDebt(ctx, conf.DebtID)
		if errors.Is(err, repositories.ErrNotFound) {
			return &NotFoundError{Entity: "commission debt", ID: conf.DebtID}
		}
		if err != nil {
			return err
		}
		outcome = models.SettlementOutcome{Debt: debt}

		exists, err := tx.SettlementExists(ctx, models.SettlementMethodCardFallback, conf.ExternalReference)
		if err != nil {
			return err
		}
		if exists {
			outcome.Duplicate = true
			return nil
		}
		if debt.Status.IsTerminal() {
			log.WithFields(log.Fields{
				"debtId":            debt.ID,
				"status":            debt.Status,
				"externalReference": conf.ExternalReference,
				"amount":            conf.Amount,
			}).Warn("settlement confirmation for a closed debt ignored")
			return nil
		}
		if conf.Currency != "" && !strings.EqualFold(conf.Currency, debt.Currency) {
			return &ValidationError{Field: "currency", Reason: fmt.Sprintf("does not match debt currency %s", debt.Currency)}
		}

		if failedChargeStatuses[strings.ToLower(conf.Status)] {
			if debt.PendingChargeReference != conf.ExternalReference {
				return nil
			}
			debt.PendingChargeReference = ""
			if debt.SettlementMethod == models.SettlementMethodCardFallback && debt.ExternalReference == conf.ExternalReference {
				debt.SettlementMethod = models.SettlementMethodNone
				debt.ExternalReference = ""
			}
			if err := tx.SaveDebt(ctx, &debt); err != nil {
				return err
			}
			outcome.Debt = debt
			return nil
		}

		applied, err := debt.ApplyFunds(conf.Amount)
		if err != nil {
			return err
		}
		if err := tx.InsertSettlement(ctx, &models.CommissionSettlement{
			ID:                uuid.NewString(),
			DebtID:            debt.ID,
			ProviderID:        debt.ProviderID,
			SettledAmount:     applied,
			Currency:          debt.Currency,
			Method:            models.SettlementMethodCardFallback,
			ExternalReference: conf.ExternalReference,
		}); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return errSettlementRecorded
			}
			return err
		}
		if debt.PendingChargeReference == conf.ExternalReference {
			debt.PendingChargeReference = ""
		}
		if debt.Status != models.DebtStatusUnderReview {
			debt.SettlementMethod = models.SettlementMethodCardFallback
			debt.ExternalReference = conf.ExternalReference
		}
		if err := tx.SaveDebt(ctx, &debt); err != nil {
			return err
		}
		outcome.Debt = debt
		outcome.Applied = applied
		return nil
	})

	if errors.Is(err, errSettlementRecorded) {
		metrics.RecordWebhookSettlement("duplicate")
		debt, getErr := s.ledger.GetDebt(ctx, conf.DebtID)
		if getErr != nil {
			return models.SettlementOutcome{}, &PersistenceError{Op: "reload debt", Err: getErr}
		}
		return models.SettlementOutcome{Debt: debt, Duplicate: true}, nil
	}
	if err != nil {
		err = passThrough("apply settlement", err)
		metrics.RecordWebhookSettlement("failed")
		log.WithFields(log.Fields{
			"debtId":            conf.DebtID,
			"externalReference": conf.ExternalReference,
			"amount":            conf.Amount,
		}).WithError(err).Warn("settlement confirmation not applied")
		return models.SettlementOutcome{}, err
	}

	switch {
	case outcome.Duplicate:
		metrics.RecordWebhookSettlement("duplicate")
	case outcome.Applied > 0:
		metrics.RecordWebhookSettlement("applied")
	default:
		metrics.RecordWebhookSettlement("ignored")
	}

	if outcome.Applied > 0 && outcome.Debt.Status == models.DebtStatusPaid {
		s.notifier.Dispatch(models.OutboundNotification{
			Type:        models.NotificationDebtSettled,
			Audience:    models.AudienceProvider,
			RecipientID: outcome.Debt.ProviderID,
			Title:       "Commission settled",
			Message: fmt.Sprintf("Your commission of %s %s has been settled by card.",
				utils.ToMajorUnits(outcome.Debt.Amount, outcome.Debt.Currency), outcome.Debt.Currency),
			Data: map[string]interface{}{
				"debtId":            outcome.Debt.ID,
				"externalReference": conf.ExternalReference,
			},
		})
	}
	return outcome, nil
}

func (s *DecisionService) notifyDecision(payment models.ManualCashPayment, decision models.Decision) {
	var title, message string
	amount := utils.ToMajorUnits(payment.Amount, payment.Currency)
	switch decision {
	case models.DecisionApprove:
		title = "Payment approved"
		message = fmt.Sprintf("Your payment of %s %s was approved and your commissions are settled.", amount, payment.Currency)
	case models.DecisionReject:
		title = "Payment rejected"
		message = fmt.Sprintf("Your payment of %s %s was rejected.", amount, payment.Currency)
	default:
		title = "Payment needs resubmission"
		message = fmt.Sprintf("Please resubmit your payment of %s %s with a valid receipt.", amount, payment.Currency)
	}
	if payment.DecisionNotes != "" {
		message += " " + payment.DecisionNotes
	}

	s.notifier.Dispatch(models.OutboundNotification{
		Type:        models.NotificationManualPaymentDecision,
		Audience:    models.AudienceProvider,
		RecipientID: payment.ProviderID,
		Title:       title,
		Message:     message,
		Data: map[string]interface{}{
			"manualPaymentId": payment.ID,
			"decision":        string(decision),
			"status":          string(payment.Status),
		},
	})
}
