package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HSouheill/barrim_settlement/metrics"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/repositories"
	"github.com/HSouheill/barrim_settlement/utils"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// CollectionService closes outstanding debts through the payment processor
type CollectionService struct {
	ledger    repositories.LedgerStore
	processor PaymentProcessor
	directory ProviderDirectory
	notifier  Notifier
	now       func() time.Time
}

func NewCollectionService(ledger repositories.LedgerStore, processor PaymentProcessor, directory ProviderDirectory, notifier Notifier) *CollectionService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &CollectionService{
		ledger:    ledger,
		processor: processor,
		directory: directory,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IdempotencyKey derives the processor key for one debt on one UTC calendar day,
// so a rerun on the same day can never move money twice.
func IdempotencyKey(kind, debtID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", kind, debtID, at.UTC().Format("2006-01-02"))
}

// debtRun is the per-debt bookkeeping of one collection run
type debtRun struct {
	debt      models.CommissionDebt
	settled   int64
	closed    bool
	debited   bool
	charged   bool
	noMethod  bool
	lastError *models.DebtCollectionError
}

// RunCollectionCycle attempts automated closure of every pending or overdue debt.
// A failure on one debt is recorded in the result and never aborts the batch.
func (s *CollectionService) RunCollectionCycle(ctx context.Context) (models.CollectionResult, error) {
	started := s.now()
	result := models.CollectionResult{
		StartedAt:    started,
		TotalSettled: map[string]int64{},
		Errors:       []models.DebtCollectionError{},
	}
	defer func() {
		metrics.ObserveCollectionRun(time.Since(started))
	}()

	debts, err := s.ledger.ListCollectibleDebts(ctx)
	if err != nil {
		return result, &PersistenceError{Op: "list collectible debts", Err: err}
	}

	log.WithField("debts", len(debts)).Info("collection cycle started")

	providers := map[string]*models.ServiceProvider{}
	for _, debt := range debts {
		if err := ctx.Err(); err != nil {
			result.FinishedAt = s.now()
			return result, err
		}

		if debt.Remaining() <= 0 {
			result.Skipped++
			metrics.RecordCollectionOutcome(string(models.OutcomeSkipped))
			continue
		}

		result.Attempted++
		run := s.collectDebt(ctx, debt, providers)

		switch {
		case run.lastError != nil && !run.debited && !run.charged:
			metrics.RecordCollectionOutcome(string(models.OutcomeFailed))
		case run.charged:
			metrics.RecordCollectionOutcome(string(models.OutcomeCardCharge))
		case run.debited:
			metrics.RecordCollectionOutcome(string(models.OutcomeBalanceDebit))
		case run.noMethod:
			metrics.RecordCollectionOutcome(string(models.OutcomeNoPaymentMethod))
		}

		if run.debited {
			result.BalanceDebits++
		}
		if run.charged {
			result.CardCharges++
		}
		if run.noMethod {
			result.NoPaymentMethod++
		}
		if run.closed {
			result.Closed++
		}
		if run.settled > 0 {
			result.TotalSettled[debt.Currency] += run.settled
			metrics.RecordCollectionSettled(debt.Currency, run.settled)
		}
		if run.lastError != nil {
			result.Errors = append(result.Errors, *run.lastError)
		}
	}

	result.FinishedAt = s.now()
	log.WithFields(log.Fields{
		"attempted":       result.Attempted,
		"balanceDebits":   result.BalanceDebits,
		"cardCharges":     result.CardCharges,
		"noPaymentMethod": result.NoPaymentMethod,
		"closed":          result.Closed,
		"errors":          len(result.Errors),
	}).Info("collection cycle finished")
	return result, nil
}

func (s *CollectionService) collectDebt(ctx context.Context, debt models.CommissionDebt, providers map[string]*models.ServiceProvider) *debtRun {
	run := &debtRun{debt: debt}
	now := s.now()

	if err := s.ledger.RecordAttempt(ctx, debt.ID, now); err != nil {
		s.fail(run, "record_attempt", err)
		return run
	}

	// no tier moves money while a card charge awaits confirmation
	if debt.ChargeInFlight() {
		log.WithFields(log.Fields{
			"debtId":   debt.ID,
			"chargeId": debt.PendingChargeReference,
		}).Info("card charge awaiting confirmation")
		return run
	}

	provider, err := s.provider(ctx, debt.ProviderID, providers)
	if err != nil {
		s.fail(run, "provider", err)
		return run
	}

	if provider.HasSubAccount() {
		if stop := s.debitBalance(ctx, run, provider, now); stop {
			return run
		}
	}

	if run.closed || run.debt.Status.IsTerminal() {
		return run
	}

	if provider.HasPaymentMethod() {
		s.chargeCard(ctx, run, provider, now)
		return run
	}

	if !run.debited {
		run.noMethod = true
		log.WithFields(log.Fields{"debtId": debt.ID, "providerId": debt.ProviderID}).Info("no payment method available for debt")
	}
	return run
}

// debitBalance runs tier 1. It returns true when the debt must not fall through
// to the card tier, which is the case when a transfer may have moved money.
func (s *CollectionService) debitBalance(ctx context.Context, run *debtRun, provider models.ServiceProvider, now time.Time) bool {
	debt := run.debt
	available, err := s.processor.GetBalance(ctx, provider.Billing.SubAccountID, debt.Currency)
	if err != nil {
		s.fail(run, "balance", err)
		return false
	}
	if available <= 0 {
		return false
	}

	amount := debt.Remaining()
	if available < amount {
		amount = available
	}

	transfer, err := s.processor.Transfer(ctx, models.TransferRequest{
		FromAccount:    provider.Billing.SubAccountID,
		Amount:         amount,
		Currency:       debt.Currency,
		DebtID:         debt.ID,
		IdempotencyKey: IdempotencyKey("transfer", debt.ID, now),
	})
	if err != nil {
		s.fail(run, "transfer", err)
		var extErr *ExternalPaymentError
		if errors.As(err, &extErr) && IsPermanentCode(extErr.Code) {
			return false
		}
		return true
	}

	// the processor has moved the money; record it even if the caller went away
	writeCtx := context.WithoutCancel(ctx)
	updated, applied, err := s.recordTransfer(writeCtx, debt.ID, amount, transfer.ID)
	if err != nil {
		log.WithFields(log.Fields{
			"debtId":     debt.ID,
			"providerId": debt.ProviderID,
			"transferId": transfer.ID,
			"amount":     amount,
		}).WithError(err).Error("failed to record balance debit")
		s.fail(run, "record_transfer", err)
		return true
	}

	run.debt = updated
	run.debited = applied > 0
	run.settled += applied
	if applied > 0 && updated.Status == models.DebtStatusPaid {
		run.closed = true
		s.notifySettled(updated)
	}
	return false
}

// recordTransfer applies a completed transfer to the locked debt row
func (s *CollectionService) recordTransfer(ctx context.Context, debtID string, amount int64, transferID string) (models.CommissionDebt, int64, error) {
	var (
		updated models.CommissionDebt
		applied int64
	)
	err := s.ledger.InTx(ctx, func(tx repositories.LedgerTx) error {
		debt, err := tx.LockDebt(ctx, debtID)
		if err != nil {
			return err
		}
		updated = debt

		exists, err := tx.SettlementExists(ctx, models.SettlementMethodBalanceDebit, transferID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if debt.Status.IsTerminal() {
			log.WithFields(log.Fields{
				"debtId":     debt.ID,
				"status":     debt.Status,
				"transferId": transferID,
				"amount":     amount,
			}).Warn("debt closed before balance debit could be applied")
			return nil
		}

		applied, err = debt.ApplyFunds(amount)
		if err != nil {
			return err
		}
		if applied < amount {
			log.WithFields(log.Fields{
				"debtId":     debt.ID,
				"transferId": transferID,
				"collected":  amount,
				"applied":    applied,
			}).Warn("balance debit exceeded the remaining amount")
		}
		if applied == 0 {
			return nil
		}

		if err := tx.InsertSettlement(ctx, &models.CommissionSettlement{
			ID:                uuid.NewString(),
			DebtID:            debt.ID,
			ProviderID:        debt.ProviderID,
			SettledAmount:     applied,
			Currency:          debt.Currency,
			Method:            models.SettlementMethodBalanceDebit,
			ExternalReference: transferID,
		}); err != nil {
			return err
		}

		if debt.Status != models.DebtStatusUnderReview {
			debt.SettlementMethod = models.SettlementMethodBalanceDebit
			debt.ExternalReference = transferID
		}
		if err := tx.SaveDebt(ctx, &debt); err != nil {
			return err
		}
		updated = debt
		return nil
	})
	if err != nil {
		return models.CommissionDebt{}, 0, err
	}
	return updated, applied, nil
}

// chargeCard runs tier 2: it only initiates the charge. Funds are applied when
// the processor confirms the charge through the settlement webhook.
func (s *CollectionService) chargeCard(ctx context.Context, run *debtRun, provider models.ServiceProvider, now time.Time) {
	debt := run.debt
	remaining := debt.Remaining()
	if remaining <= 0 {
		return
	}

	charge, err := s.processor.Charge(ctx, models.ChargeRequest{
		Account:        provider.Billing.SubAccountID,
		PaymentMethod:  provider.Billing.DefaultPaymentMethod,
		Amount:         remaining,
		Currency:       debt.Currency,
		DebtID:         debt.ID,
		IdempotencyKey: IdempotencyKey("charge", debt.ID, now),
	})
	if err != nil {
		s.fail(run, "charge", err)
		return
	}

	writeCtx := context.WithoutCancel(ctx)
	err = s.ledger.InTx(writeCtx, func(tx repositories.LedgerTx) error {
		locked, err := tx.LockDebt(writeCtx, debt.ID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			log.WithFields(log.Fields{
				"debtId":   locked.ID,
				"status":   locked.Status,
				"chargeId": charge.ID,
			}).Warn("debt closed while its card charge was initiated")
			return nil
		}
		// a claim submitted meanwhile keeps its manual marking; the charge stays tracked
		locked.PendingChargeReference = charge.ID
		if locked.Status != models.DebtStatusUnderReview {
			locked.SettlementMethod = models.SettlementMethodCardFallback
			locked.ExternalReference = charge.ID
		}
		if err := tx.SaveDebt(writeCtx, &locked); err != nil {
			return err
		}
		run.debt = locked
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{
			"debtId":     debt.ID,
			"providerId": debt.ProviderID,
			"chargeId":   charge.ID,
			"amount":     remaining,
		}).WithError(err).Error("failed to record card charge")
		s.fail(run, "record_charge", err)
		return
	}
	run.charged = true
}

func (s *CollectionService) provider(ctx context.Context, providerID string, cache map[string]*models.ServiceProvider) (models.ServiceProvider, error) {
	if p, ok := cache[providerID]; ok {
		return *p, nil
	}
	p, err := s.directory.GetProvider(ctx, providerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.ServiceProvider{}, &NotFoundError{Entity: "service provider", ID: providerID}
	}
	if err != nil {
		return models.ServiceProvider{}, err
	}
	cache[providerID] = &p
	return p, nil
}

func (s *CollectionService) fail(run *debtRun, stage string, err error) {
	log.WithFields(log.Fields{
		"debtId":     run.debt.ID,
		"providerId": run.debt.ProviderID,
		"stage":      stage,
		"remaining":  run.debt.Remaining(),
	}).WithError(err).Warn("debt collection step failed")
	run.lastError = &models.DebtCollectionError{
		DebtID:     run.debt.ID,
		ProviderID: run.debt.ProviderID,
		Stage:      stage,
		Message:    err.Error(),
	}
}

func (s *CollectionService) notifySettled(debt models.CommissionDebt) {
	s.notifier.Dispatch(models.OutboundNotification{
		Type:        models.NotificationDebtSettled,
		Audience:    models.AudienceProvider,
		RecipientID: debt.ProviderID,
		Title:       "Commission settled",
		Message:     fmt.Sprintf("Your commission of %s %s has been settled.", utils.ToMajorUnits(debt.Amount, debt.Currency), debt.Currency),
		Data: map[string]interface{}{
			"debtId":           debt.ID,
			"settlementMethod": string(debt.SettlementMethod),
		},
	})
}
