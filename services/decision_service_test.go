package services

import (
	"context"
	"errors"
	"testing"

	"github.com/HSouheill/barrim_settlement/config"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decisionFixture struct {
	ledger   *memLedger
	notifier *recordingNotifier
	intake   *ManualPaymentService
	svc      *DecisionService
}

func newDecisionFixture(debts ...models.CommissionDebt) *decisionFixture {
	ledger := newMemLedger(debts...)
	notifier := &recordingNotifier{}
	return &decisionFixture{
		ledger:   ledger,
		notifier: notifier,
		intake:   NewManualPaymentService(ledger, &fakeReceipts{}, notifier, 0),
		svc:      NewDecisionService(ledger, notifier, ledger.caps),
	}
}

func (f *decisionFixture) submit(t *testing.T, amount int64) models.ManualPaymentResult {
	t.Helper()
	result, err := f.intake.SubmitManualPayment(context.Background(), "p1", claim(amount))
	require.NoError(t, err)
	return result
}

func TestDecide_RejectReleasesDebtsForResubmission(t *testing.T) {
	f := newDecisionFixture(
		openDebt("d1", "p1", 5000, testDay.AddDate(0, 0, -10)),
		openDebt("d2", "p1", 3000, testDay.AddDate(0, 0, -5)),
	)
	first := f.submit(t, 8000)

	result, err := f.svc.Decide(context.Background(), first.Payment.ID,
		models.DecisionRequest{Decision: models.DecisionReject, Notes: "receipt is unreadable"}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, models.ManualPaymentRejected, result.Payment.Status)
	assert.Equal(t, "admin-1", result.Payment.DecidedBy)
	assert.Equal(t, "receipt is unreadable", result.Payment.DecisionNotes)
	require.NotNil(t, result.Payment.DecidedAt)
	assert.ElementsMatch(t, []string{"d1", "d2"}, result.AffectedDebtIDs)

	for _, id := range []string{"d1", "d2"} {
		debt := f.ledger.debt(t, id)
		assert.Equal(t, models.DebtStatusPending, debt.Status)
		assert.Equal(t, models.SettlementMethodNone, debt.SettlementMethod)
		assert.Nil(t, debt.ManualPaymentID)
	}

	decisions := f.notifier.ofType(models.NotificationManualPaymentDecision)
	require.Len(t, decisions, 1)
	assert.Equal(t, "p1", decisions[0].RecipientID)
	assert.Equal(t, "reject", decisions[0].Data["decision"])
	assert.Contains(t, decisions[0].Message, "receipt is unreadable")

	second := f.submit(t, 8000)
	assert.Equal(t, []string{"d1", "d2"}, second.AppliedDebtIDs)
	assert.NotEqual(t, first.Payment.ID, second.Payment.ID)

	stored, err := f.ledger.GetManualPayment(context.Background(), first.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ManualPaymentRejected, stored.Status)
	f.ledger.requireInvariants(t)
}

func TestDecide_ResubmitReleasesDebts(t *testing.T) {
	f := newDecisionFixture(openDebt("d1", "p1", 5000, testDay))
	submitted := f.submit(t, 5000)

	result, err := f.svc.Decide(context.Background(), submitted.Payment.ID,
		models.DecisionRequest{Decision: models.DecisionResubmit}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, models.ManualPaymentResubmissionRequested, result.Payment.Status)
	assert.Equal(t, models.DebtStatusPending, f.ledger.debt(t, "d1").Status)
}

func TestDecide_ApproveSettlesRemainder(t *testing.T) {
	partly := openDebt("d1", "p1", 5000, testDay.AddDate(0, 0, -10))
	f := newDecisionFixture(partly, openDebt("d2", "p1", 3000, testDay.AddDate(0, 0, -5)))

	// an earlier balance debit covered part of d1
	require.NoError(t, f.ledger.InTx(context.Background(), func(tx repositories.LedgerTx) error {
		debt, err := tx.LockDebt(context.Background(), "d1")
		if err != nil {
			return err
		}
		applied, err := debt.ApplyFunds(2000)
		if err != nil {
			return err
		}
		if err := tx.InsertSettlement(context.Background(), &models.CommissionSettlement{
			ID: "s0", DebtID: "d1", ProviderID: "p1", SettledAmount: applied, Currency: "USD",
			Method: models.SettlementMethodBalanceDebit, ExternalReference: "tr_0",
		}); err != nil {
			return err
		}
		debt.SettlementMethod = models.SettlementMethodBalanceDebit
		return tx.SaveDebt(context.Background(), &debt)
	}))

	submitted := f.submit(t, 6000)
	result, err := f.svc.Decide(context.Background(), submitted.Payment.ID,
		models.DecisionRequest{Decision: models.DecisionApprove}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ManualPaymentApproved, result.Payment.Status)

	d1 := f.ledger.debt(t, "d1")
	assert.Equal(t, models.DebtStatusPaid, d1.Status)
	assert.Equal(t, int64(5000), d1.SettledAmount)
	assert.Equal(t, models.SettlementMethodManual, d1.SettlementMethod)

	rows := f.ledger.settlementsFor("d1")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3000), rows[1].SettledAmount)
	assert.Equal(t, models.SettlementMethodManual, rows[1].Method)
	assert.Equal(t, submitted.Payment.ID, rows[1].ExternalReference)

	d2 := f.ledger.debt(t, "d2")
	assert.Equal(t, models.DebtStatusPaid, d2.Status)
	assert.Len(t, f.ledger.settlementsFor("d2"), 1)
	f.ledger.requireInvariants(t)
}

func TestDecide_SecondDecisionConflicts(t *testing.T) {
	f := newDecisionFixture(openDebt("d1", "p1", 5000, testDay))
	submitted := f.submit(t, 5000)

	_, err := f.svc.Decide(context.Background(), submitted.Payment.ID,
		models.DecisionRequest{Decision: models.DecisionApprove}, "admin-1")
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), submitted.Payment.ID,
		models.DecisionRequest{Decision: models.DecisionReject}, "admin-2")

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, string(models.ManualPaymentApproved), ce.State)
	assert.Equal(t, models.DebtStatusPaid, f.ledger.debt(t, "d1").Status)
	assert.Len(t, f.ledger.settlementsFor("d1"), 1)
}

func TestDecide_InvalidInput(t *testing.T) {
	f := newDecisionFixture()

	_, err := f.svc.Decide(context.Background(), "missing", models.DecisionRequest{Decision: models.DecisionApprove}, "admin-1")
	assert.True(t, IsNotFound(err))

	_, err = f.svc.Decide(context.Background(), "missing", models.DecisionRequest{Decision: "maybe"}, "admin-1")
	assert.True(t, IsValidation(err))

	_, err = f.svc.Decide(context.Background(), " ", models.DecisionRequest{Decision: models.DecisionApprove}, "admin-1")
	assert.True(t, IsValidation(err))
	assert.Empty(t, f.notifier.sent)
}

func TestDecide_SkipsDebtsClosedDuringReview(t *testing.T) {
	f := newDecisionFixture(
		openDebt("d1", "p1", 5000, testDay.AddDate(0, 0, -2)),
		openDebt("d2", "p1", 3000, testDay.AddDate(0, 0, -1)),
	)
	submitted := f.submit(t, 8000)

	debts := NewDebtService(f.ledger, f.notifier)
	_, err := debts.CancelDebt(context.Background(), "d2", "admin-1", "duplicate booking")
	require.NoError(t, err)

	result, err := f.svc.Decide(context.Background(), submitted.Payment.ID,
		models.DecisionRequest{Decision: models.DecisionReject}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"d1"}, result.AffectedDebtIDs)
	assert.Equal(t, models.DebtStatusPending, f.ledger.debt(t, "d1").Status)
	assert.Equal(t, models.DebtStatusCancelled, f.ledger.debt(t, "d2").Status)
}

func TestDecide_WithoutDebtLinkColumn(t *testing.T) {
	ledger := newMemLedger(
		openDebt("d1", "p1", 5000, testDay.AddDate(0, 0, -10)),
		openDebt("d2", "p1", 3000, testDay.AddDate(0, 0, -5)),
	)
	ledger.caps = config.Capabilities{DebtPaymentLink: false}
	intake := NewManualPaymentService(ledger, &fakeReceipts{}, nil, 0)
	svc := NewDecisionService(ledger, nil, ledger.caps)

	submitted, err := intake.SubmitManualPayment(context.Background(), "p1", claim(8000))
	require.NoError(t, err)

	result, err := svc.Decide(context.Background(), submitted.Payment.ID,
		models.DecisionRequest{Decision: models.DecisionReject}, "admin-1")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"d1", "d2"}, result.AffectedDebtIDs)
	for _, id := range []string{"d1", "d2"} {
		assert.Equal(t, models.DebtStatusPending, ledger.debt(t, id).Status)
		assert.Equal(t, models.SettlementMethodNone, ledger.debt(t, id).SettlementMethod)
	}
}

func TestDecide_RollsBackOnWriteFailure(t *testing.T) {
	f := newDecisionFixture(
		openDebt("d1", "p1", 5000, testDay.AddDate(0, 0, -10)),
		openDebt("d2", "p1", 3000, testDay.AddDate(0, 0, -5)),
	)
	submitted := f.submit(t, 8000)
	f.ledger.failures["InsertSettlement"] = errors.New("disk full")
	before := len(f.notifier.sent)

	_, err := f.svc.Decide(context.Background(), submitted.Payment.ID,
		models.DecisionRequest{Decision: models.DecisionApprove}, "admin-1")

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	stored, err := f.ledger.GetManualPayment(context.Background(), submitted.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ManualPaymentUnderReview, stored.Status)
	assert.Equal(t, models.DebtStatusUnderReview, f.ledger.debt(t, "d1").Status)
	assert.Len(t, f.notifier.sent, before)
}

func cardChargedDebt(id string, amount int64, ref string) models.CommissionDebt {
	d := openDebt(id, "p1", amount, testDay)
	d.SettlementMethod = models.SettlementMethodCardFallback
	d.ExternalReference = ref
	d.PendingChargeReference = ref
	return d
}

func TestApplySettlement_AppliesOnce(t *testing.T) {
	f := newDecisionFixture(cardChargedDebt("d1", 10000, "ch_1"))
	conf := models.SettlementConfirmation{ExternalReference: "ch_1", DebtID: "d1", Amount: 10000, Currency: "usd", Status: "succeeded"}

	outcome, err := f.svc.ApplySettlement(context.Background(), conf)
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, int64(10000), outcome.Applied)
	assert.Equal(t, models.DebtStatusPaid, outcome.Debt.Status)

	again, err := f.svc.ApplySettlement(context.Background(), conf)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Zero(t, again.Applied)
	assert.Equal(t, int64(10000), again.Debt.SettledAmount)

	assert.Len(t, f.ledger.settlementsFor("d1"), 1)
	assert.Len(t, f.notifier.ofType(models.NotificationDebtSettled), 1)
	f.ledger.requireInvariants(t)
}

func TestApplySettlement_CapsAtRemaining(t *testing.T) {
	f := newDecisionFixture(cardChargedDebt("d1", 4000, "ch_9"))

	outcome, err := f.svc.ApplySettlement(context.Background(), models.SettlementConfirmation{
		ExternalReference: "ch_9", DebtID: "d1", Amount: 9000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(4000), outcome.Applied)
	assert.Equal(t, int64(4000), f.ledger.debt(t, "d1").SettledAmount)
	f.ledger.requireInvariants(t)
}

func TestApplySettlement_PartialKeepsDebtOpen(t *testing.T) {
	f := newDecisionFixture(cardChargedDebt("d1", 10000, "ch_2"))

	outcome, err := f.svc.ApplySettlement(context.Background(), models.SettlementConfirmation{
		ExternalReference: "ch_2", DebtID: "d1", Amount: 2500,
	})
	require.NoError(t, err)

	assert.Equal(t, models.DebtStatusPending, outcome.Debt.Status)
	assert.Equal(t, int64(2500), outcome.Debt.SettledAmount)
	assert.Empty(t, f.notifier.ofType(models.NotificationDebtSettled))
}

func TestApplySettlement_ClosedDebtIsNoop(t *testing.T) {
	cancelled := cardChargedDebt("d1", 5000, "ch_3")
	cancelled.Status = models.DebtStatusCancelled
	f := newDecisionFixture(cancelled)

	outcome, err := f.svc.ApplySettlement(context.Background(), models.SettlementConfirmation{
		ExternalReference: "ch_3", DebtID: "d1", Amount: 5000,
	})
	require.NoError(t, err)

	assert.Zero(t, outcome.Applied)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, models.DebtStatusCancelled, f.ledger.debt(t, "d1").Status)
	assert.Empty(t, f.ledger.settlementsFor("d1"))
}

func TestApplySettlement_CurrencyMismatch(t *testing.T) {
	f := newDecisionFixture(cardChargedDebt("d1", 5000, "ch_4"))

	_, err := f.svc.ApplySettlement(context.Background(), models.SettlementConfirmation{
		ExternalReference: "ch_4", DebtID: "d1", Amount: 5000, Currency: "LBP",
	})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "currency", ve.Field)
	assert.Zero(t, f.ledger.debt(t, "d1").SettledAmount)
}

func TestApplySettlement_FailedChargeRearmsCardTier(t *testing.T) {
	f := newDecisionFixture(cardChargedDebt("d1", 5000, "ch_5"), cardChargedDebt("d2", 5000, "ch_6"))

	outcome, err := f.svc.ApplySettlement(context.Background(), models.SettlementConfirmation{
		ExternalReference: "ch_5", DebtID: "d1", Amount: 5000, Status: "DECLINED",
	})
	require.NoError(t, err)
	assert.Zero(t, outcome.Applied)

	d1 := f.ledger.debt(t, "d1")
	assert.Equal(t, models.SettlementMethodNone, d1.SettlementMethod)
	assert.Empty(t, d1.ExternalReference)
	assert.False(t, d1.ChargeInFlight())
	assert.Zero(t, d1.SettledAmount)

	// a failure for some other charge leaves the current marking alone
	_, err = f.svc.ApplySettlement(context.Background(), models.SettlementConfirmation{
		ExternalReference: "ch_old", DebtID: "d2", Amount: 5000, Status: "failed",
	})
	require.NoError(t, err)
	assert.Equal(t, "ch_6", f.ledger.debt(t, "d2").ExternalReference)
	assert.Equal(t, "ch_6", f.ledger.debt(t, "d2").PendingChargeReference)
}

func TestApplySettlement_UnderReviewKeepsManualMarking(t *testing.T) {
	f := newDecisionFixture(openDebt("d1", "p1", 5000, testDay))
	submitted := f.submit(t, 5000)

	outcome, err := f.svc.ApplySettlement(context.Background(), models.SettlementConfirmation{
		ExternalReference: "ch_7", DebtID: "d1", Amount: 2000,
	})
	require.NoError(t, err)

	assert.Equal(t, models.DebtStatusUnderReview, outcome.Debt.Status)
	assert.Equal(t, models.SettlementMethodManual, outcome.Debt.SettlementMethod)
	require.NotNil(t, outcome.Debt.ManualPaymentID)
	assert.Equal(t, submitted.Payment.ID, *outcome.Debt.ManualPaymentID)

	// approval only settles what the card did not
	_, err = f.svc.Decide(context.Background(), submitted.Payment.ID,
		models.DecisionRequest{Decision: models.DecisionApprove}, "admin-1")
	require.NoError(t, err)
	rows := f.ledger.settlementsFor("d1")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3000), rows[1].SettledAmount)
	f.ledger.requireInvariants(t)
}

func TestApplySettlement_Validation(t *testing.T) {
	f := newDecisionFixture(cardChargedDebt("d1", 5000, "ch_8"))
	ctx := context.Background()

	_, err := f.svc.ApplySettlement(ctx, models.SettlementConfirmation{DebtID: "d1", Amount: 1})
	assert.True(t, IsValidation(err))
	_, err = f.svc.ApplySettlement(ctx, models.SettlementConfirmation{ExternalReference: "ch_8", Amount: 1})
	assert.True(t, IsValidation(err))
	_, err = f.svc.ApplySettlement(ctx, models.SettlementConfirmation{ExternalReference: "ch_8", DebtID: "d1"})
	assert.True(t, IsValidation(err))
	_, err = f.svc.ApplySettlement(ctx, models.SettlementConfirmation{ExternalReference: "ch_8", DebtID: "nope", Amount: 1})
	assert.True(t, IsNotFound(err))
}

func TestApplySettlement_StoreFailure(t *testing.T) {
	f := newDecisionFixture(cardChargedDebt("d1", 5000, "ch_10"))
	f.ledger.failures["LockDebt"] = errors.New("too many connections")

	_, err := f.svc.ApplySettlement(context.Background(), models.SettlementConfirmation{
		ExternalReference: "ch_10", DebtID: "d1", Amount: 5000,
	})

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
}
