package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HSouheill/barrim_settlement/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accrual(source string) models.DebtAccrual {
	return models.DebtAccrual{
		ProviderID:      "p1",
		Amount:          1250,
		Currency:        "usd",
		DueDate:         testDay.AddDate(0, 0, 7),
		SourceReference: source,
	}
}

func TestAccrueDebt_IdempotentOnSource(t *testing.T) {
	ledger := newMemLedger()
	svc := NewDebtService(ledger, nil)

	debt, created, err := svc.AccrueDebt(context.Background(), accrual("booking:42"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.DebtStatusPending, debt.Status)
	assert.Equal(t, models.SettlementMethodNone, debt.SettlementMethod)
	assert.Equal(t, "USD", debt.Currency)
	assert.Zero(t, debt.SettledAmount)

	again, created, err := svc.AccrueDebt(context.Background(), accrual("booking:42"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, debt.ID, again.ID)

	debts, err := svc.ListProviderDebts(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Len(t, debts, 1)
}

func TestAccrueDebt_Validation(t *testing.T) {
	svc := NewDebtService(newMemLedger(), nil)

	tests := []struct {
		name   string
		mutate func(a *models.DebtAccrual)
		field  string
	}{
		{"no provider", func(a *models.DebtAccrual) { a.ProviderID = "" }, "providerId"},
		{"zero amount", func(a *models.DebtAccrual) { a.Amount = 0 }, "amount"},
		{"bad currency", func(a *models.DebtAccrual) { a.Currency = "US" }, "currency"},
		{"no source", func(a *models.DebtAccrual) { a.SourceReference = " " }, "sourceReference"},
		{"no due date", func(a *models.DebtAccrual) { a.DueDate = time.Time{} }, "dueDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := accrual("booking:1")
			tt.mutate(&a)
			_, _, err := svc.AccrueDebt(context.Background(), a)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestAccrueDebt_StoreFailure(t *testing.T) {
	ledger := newMemLedger()
	ledger.failures["CreateDebt"] = errors.New("read-only transaction")

	_, _, err := NewDebtService(ledger, nil).AccrueDebt(context.Background(), accrual("booking:7"))

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
}

func TestMarkOverdue(t *testing.T) {
	late := openDebt("late", "p1", 1000, testDay.AddDate(0, 0, -1))
	review := openDebt("review", "p1", 1000, testDay.AddDate(0, 0, -1))
	review.Status = models.DebtStatusUnderReview
	ledger := newMemLedger(late, review, openDebt("future", "p1", 1000, testDay.AddDate(0, 0, 1)))

	n, err := NewDebtService(ledger, nil).MarkOverdue(context.Background(), testDay)
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	assert.Equal(t, models.DebtStatusOverdue, ledger.debt(t, "late").Status)
	assert.Equal(t, models.DebtStatusUnderReview, ledger.debt(t, "review").Status)
	assert.Equal(t, models.DebtStatusPending, ledger.debt(t, "future").Status)
}

func TestCancelDebt(t *testing.T) {
	paid := openDebt("paid", "p1", 1000, testDay)
	paid.Status, paid.SettledAmount = models.DebtStatusPaid, 1000
	ledger := newMemLedger(openDebt("d1", "p1", 1000, testDay), paid)
	notifier := &recordingNotifier{}
	svc := NewDebtService(ledger, notifier)

	debt, err := svc.CancelDebt(context.Background(), "d1", "admin-1", "booking refunded")
	require.NoError(t, err)
	assert.Equal(t, models.DebtStatusCancelled, debt.Status)

	cancelled := notifier.ofType(models.NotificationDebtCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "booking refunded", cancelled[0].Data["reason"])

	_, err = svc.CancelDebt(context.Background(), "paid", "admin-1", "too late")
	assert.True(t, IsConflict(err))

	_, err = svc.CancelDebt(context.Background(), "ghost", "admin-1", "nope")
	assert.True(t, IsNotFound(err))
	assert.Len(t, notifier.sent, 1)
}

func TestSummary(t *testing.T) {
	partly := openDebt("d1", "p1", 5000, testDay)
	partly.SettledAmount = 1500
	overdue := openDebt("d2", "p1", 2000, testDay)
	overdue.Status = models.DebtStatusOverdue
	review := openDebt("d3", "p1", 1000, testDay)
	review.Status = models.DebtStatusUnderReview
	lbp := openDebt("d4", "p1", 450000, testDay)
	lbp.Currency = "LBP"
	paid := openDebt("d5", "p1", 9999, testDay)
	paid.Status, paid.SettledAmount = models.DebtStatusPaid, 9999

	ledger := newMemLedger(partly, overdue, review, lbp, paid, openDebt("x", "p2", 700, testDay))

	summary, err := NewDebtService(ledger, nil).Summary(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, "p1", summary.ProviderID)
	assert.Equal(t, map[string]int64{"USD": 6500, "LBP": 450000}, summary.Outstanding)
	assert.Equal(t, 4, summary.OpenDebts)
	assert.Equal(t, 1, summary.UnderReview)
	assert.Equal(t, 1, summary.Overdue)
}

func TestListManualPayments(t *testing.T) {
	ledger := newMemLedger(openDebt("d1", "p1", 1000, testDay), openDebt("d2", "p2", 1000, testDay))
	intake := newIntake(ledger, nil)
	_, err := intake.SubmitManualPayment(context.Background(), "p1", claim(1000))
	require.NoError(t, err)
	req := claim(1000)
	req.Receipt.Key = "receipts/p2/r.png"
	_, err = intake.SubmitManualPayment(context.Background(), "p2", req)
	require.NoError(t, err)

	svc := NewDebtService(ledger, nil)

	all, err := svc.ListManualPayments(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approved, err := svc.ListManualPayments(context.Background(), models.ManualPaymentApproved, 10)
	require.NoError(t, err)
	assert.Empty(t, approved)

	_, err = svc.ListManualPayments(context.Background(), "lost", 10)
	assert.True(t, IsValidation(err))
}

func TestListSettlements(t *testing.T) {
	ledger := newMemLedger(cardChargedDebt("d1", 5000, "ch_1"))
	decisions := NewDecisionService(ledger, nil, ledger.caps)
	_, err := decisions.ApplySettlement(context.Background(), models.SettlementConfirmation{
		ExternalReference: "ch_1", DebtID: "d1", Amount: 5000,
	})
	require.NoError(t, err)

	svc := NewDebtService(ledger, nil)
	rows, err := svc.ListSettlements(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.SettlementMethodCardFallback, rows[0].Method)

	_, err = svc.ListSettlements(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))
}

func TestParseDebtStatuses(t *testing.T) {
	statuses, err := ParseDebtStatuses("pending, overdue")
	require.NoError(t, err)
	assert.Equal(t, []models.DebtStatus{models.DebtStatusPending, models.DebtStatusOverdue}, statuses)

	statuses, err = ParseDebtStatuses("")
	require.NoError(t, err)
	assert.Nil(t, statuses)

	_, err = ParseDebtStatuses("pending,settled")
	assert.True(t, IsValidation(err))
}
