package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/HSouheill/barrim_settlement/config"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/repositories"
	"github.com/stretchr/testify/require"
)

// memLedger is an in-memory LedgerStore. InTx works on a copy of the state and
// only commits it when fn succeeds, so rollbacks are observable in tests.
type memLedger struct {
	txMu sync.Mutex
	mu   sync.Mutex

	state ledgerState
	caps  config.Capabilities

	// failSaveDebtOn fails the Nth SaveDebt call (1-based) with errSaveDebt
	failSaveDebtOn int
	saveDebtCalls  int
	failures       map[string]error
}

type ledgerState struct {
	debts       map[string]models.CommissionDebt
	payments    map[string]models.ManualCashPayment
	links       map[string][]string
	settlements []models.CommissionSettlement
}

var errSaveDebt = errors.New("connection reset by peer")

func newMemLedger(debts ...models.CommissionDebt) *memLedger {
	l := &memLedger{
		state: ledgerState{
			debts:    map[string]models.CommissionDebt{},
			payments: map[string]models.ManualCashPayment{},
			links:    map[string][]string{},
		},
		caps:     config.Capabilities{DebtPaymentLink: true},
		failures: map[string]error{},
	}
	for _, d := range debts {
		if d.SettlementMethod == "" {
			d.SettlementMethod = models.SettlementMethodNone
		}
		l.state.debts[d.ID] = d
	}
	return l
}

func (s ledgerState) clone() ledgerState {
	out := ledgerState{
		debts:       make(map[string]models.CommissionDebt, len(s.debts)),
		payments:    make(map[string]models.ManualCashPayment, len(s.payments)),
		links:       make(map[string][]string, len(s.links)),
		settlements: append([]models.CommissionSettlement(nil), s.settlements...),
	}
	for k, v := range s.debts {
		out.debts[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.links {
		out.links[k] = append([]string(nil), v...)
	}
	return out
}

func (l *memLedger) fail(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures[op]
}

func (l *memLedger) InTx(ctx context.Context, fn func(tx repositories.LedgerTx) error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	tx := &memTx{ledger: l, state: l.state.clone()}
	l.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	l.mu.Lock()
	l.state = tx.state
	l.mu.Unlock()
	return nil
}

func (l *memLedger) GetDebt(_ context.Context, debtID string) (models.CommissionDebt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.state.debts[debtID]
	if !ok {
		return models.CommissionDebt{}, repositories.ErrNotFound
	}
	return d, nil
}

func (l *memLedger) ListCollectibleDebts(_ context.Context) ([]models.CommissionDebt, error) {
	if err := l.fail("ListCollectibleDebts"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.CommissionDebt
	for _, d := range l.state.debts {
		if hasStatus(d.Status, models.CollectibleStatuses) && d.SettledAmount < d.Amount {
			out = append(out, d)
		}
	}
	sortDebts(out)
	return out, nil
}

func (l *memLedger) ListProviderDebts(_ context.Context, providerID string, statuses []models.DebtStatus) ([]models.CommissionDebt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.CommissionDebt
	for _, d := range l.state.debts {
		if d.ProviderID != providerID {
			continue
		}
		if len(statuses) > 0 && !hasStatus(d.Status, statuses) {
			continue
		}
		out = append(out, d)
	}
	sortDebts(out)
	return out, nil
}

func (l *memLedger) RecordAttempt(_ context.Context, debtID string, at time.Time) error {
	if err := l.fail("RecordAttempt"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.state.debts[debtID]
	if !ok {
		return repositories.ErrNotFound
	}
	d.AttemptCount++
	d.LastAttemptAt = &at
	l.state.debts[debtID] = d
	return nil
}

func (l *memLedger) MarkOverdue(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, d := range l.state.debts {
		if d.Status == models.DebtStatusPending && d.DueDate.Before(cutoff) {
			d.Status = models.DebtStatusOverdue
			l.state.debts[id] = d
			n++
		}
	}
	return n, nil
}

func (l *memLedger) GetManualPayment(_ context.Context, paymentID string) (models.ManualCashPayment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.payments[paymentID]
	if !ok {
		return models.ManualCashPayment{}, repositories.ErrNotFound
	}
	return p, nil
}

func (l *memLedger) ListManualPayments(_ context.Context, status models.ManualPaymentStatus, limit int) ([]models.ManualCashPayment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ManualCashPayment
	for _, p := range l.state.payments {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) ListSettlements(_ context.Context, debtID string) ([]models.CommissionSettlement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.CommissionSettlement
	for _, s := range l.state.settlements {
		if s.DebtID == debtID {
			out = append(out, s)
		}
	}
	return out, nil
}

// debt returns the committed state of a debt
func (l *memLedger) debt(t *testing.T, id string) models.CommissionDebt {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.state.debts[id]
	require.True(t, ok, "debt %s not found", id)
	return d
}

func (l *memLedger) settlementsFor(debtID string) []models.CommissionSettlement {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.CommissionSettlement
	for _, s := range l.state.settlements {
		if s.DebtID == debtID {
			out = append(out, s)
		}
	}
	return out
}

func (l *memLedger) paymentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.payments)
}

// requireInvariants checks the ledger invariants over every committed debt
func (l *memLedger) requireInvariants(t *testing.T) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	sums := map[string]int64{}
	for _, s := range l.state.settlements {
		sums[s.DebtID] += s.SettledAmount
	}
	for id, d := range l.state.debts {
		require.NoError(t, d.Validate())
		require.Equal(t, d.SettledAmount, sums[id], "settlement rows of debt %s do not add up", id)
	}
}

type memTx struct {
	ledger *memLedger
	state  ledgerState
}

func (t *memTx) LockOutstandingDebts(_ context.Context, providerID, currency string, statuses []models.DebtStatus) ([]models.CommissionDebt, error) {
	if err := t.ledger.fail("LockOutstandingDebts"); err != nil {
		return nil, err
	}
	var out []models.CommissionDebt
	for _, d := range t.state.debts {
		if d.ProviderID != providerID || !hasStatus(d.Status, statuses) {
			continue
		}
		if currency != "" && d.Currency != currency {
			continue
		}
		out = append(out, d)
	}
	sortDebts(out)
	return out, nil
}

func (t *memTx) LockDebt(_ context.Context, debtID string) (models.CommissionDebt, error) {
	if err := t.ledger.fail("LockDebt"); err != nil {
		return models.CommissionDebt{}, err
	}
	d, ok := t.state.debts[debtID]
	if !ok {
		return models.CommissionDebt{}, repositories.ErrNotFound
	}
	return d, nil
}

func (t *memTx) LockManualPayment(_ context.Context, paymentID string) (models.ManualCashPayment, error) {
	p, ok := t.state.payments[paymentID]
	if !ok {
		return models.ManualCashPayment{}, repositories.ErrNotFound
	}
	return p, nil
}

func (t *memTx) LinkedDebtIDs(_ context.Context, paymentID string) ([]string, error) {
	return append([]string(nil), t.state.links[paymentID]...), nil
}

func (t *memTx) FindDebtBySource(_ context.Context, sourceReference string) (models.CommissionDebt, error) {
	for _, d := range t.state.debts {
		if d.SourceReference == sourceReference {
			return d, nil
		}
	}
	return models.CommissionDebt{}, repositories.ErrNotFound
}

func (t *memTx) CreateDebt(_ context.Context, debt *models.CommissionDebt) error {
	if err := t.ledger.fail("CreateDebt"); err != nil {
		return err
	}
	if _, exists := t.state.debts[debt.ID]; exists {
		return repositories.ErrDuplicate
	}
	now := time.Now().UTC()
	debt.CreatedAt, debt.UpdatedAt = now, now
	t.state.debts[debt.ID] = *debt
	return nil
}

func (t *memTx) SaveDebt(_ context.Context, debt *models.CommissionDebt) error {
	t.ledger.mu.Lock()
	t.ledger.saveDebtCalls++
	call := t.ledger.saveDebtCalls
	failOn := t.ledger.failSaveDebtOn
	t.ledger.mu.Unlock()
	if failOn > 0 && call == failOn {
		return errSaveDebt
	}

	if _, ok := t.state.debts[debt.ID]; !ok {
		return repositories.ErrNotFound
	}
	stored := *debt
	if !t.ledger.caps.DebtPaymentLink {
		// the column does not exist, so nothing is persisted for it
		stored.ManualPaymentID = nil
	}
	stored.UpdatedAt = time.Now().UTC()
	t.state.debts[debt.ID] = stored
	return nil
}

func (t *memTx) CreateManualPayment(_ context.Context, payment *models.ManualCashPayment) error {
	if err := t.ledger.fail("CreateManualPayment"); err != nil {
		return err
	}
	now := time.Now().UTC()
	payment.CreatedAt, payment.UpdatedAt = now, now
	t.state.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) SaveManualPayment(_ context.Context, payment *models.ManualCashPayment) error {
	if _, ok := t.state.payments[payment.ID]; !ok {
		return repositories.ErrNotFound
	}
	payment.UpdatedAt = time.Now().UTC()
	t.state.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) LinkDebts(_ context.Context, paymentID string, debtIDs []string) error {
	t.state.links[paymentID] = append(t.state.links[paymentID], debtIDs...)
	return nil
}

func (t *memTx) InsertSettlement(_ context.Context, settlement *models.CommissionSettlement) error {
	if err := t.ledger.fail("InsertSettlement"); err != nil {
		return err
	}
	for _, s := range t.state.settlements {
		if s.DebtID == settlement.DebtID && s.Method == settlement.Method && s.ExternalReference == settlement.ExternalReference {
			return repositories.ErrDuplicate
		}
	}
	settlement.CreatedAt = time.Now().UTC()
	t.state.settlements = append(t.state.settlements, *settlement)
	return nil
}

func (t *memTx) SettlementExists(_ context.Context, method models.SettlementMethod, externalReference string) (bool, error) {
	for _, s := range t.state.settlements {
		if s.Method == method && s.ExternalReference == externalReference {
			return true, nil
		}
	}
	return false, nil
}

func hasStatus(status models.DebtStatus, statuses []models.DebtStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func sortDebts(debts []models.CommissionDebt) {
	sort.Slice(debts, func(i, j int) bool {
		if !debts[i].DueDate.Equal(debts[j].DueDate) {
			return debts[i].DueDate.Before(debts[j].DueDate)
		}
		return debts[i].ID < debts[j].ID
	})
}

// fakeProcessor is a PaymentProcessor that honours idempotency keys
type fakeProcessor struct {
	mu sync.Mutex

	balances    map[string]int64
	balanceErr  error
	transferErr error
	chargeErr   error
	// failAccount limits the injected errors to one account when set
	failAccount string

	transfers []models.TransferRequest
	charges   []models.ChargeRequest
	byKey     map[string]string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{balances: map[string]int64{}, byKey: map[string]string{}}
}

func (p *fakeProcessor) affects(account string) bool {
	return p.failAccount == "" || p.failAccount == account
}

func (p *fakeProcessor) GetBalance(_ context.Context, account, _ string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balanceErr != nil && p.affects(account) {
		return 0, p.balanceErr
	}
	return p.balances[account], nil
}

func (p *fakeProcessor) Transfer(_ context.Context, req models.TransferRequest) (models.TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transferErr != nil && p.affects(req.FromAccount) {
		return models.TransferResult{}, p.transferErr
	}
	if id, ok := p.byKey[req.IdempotencyKey]; ok {
		return models.TransferResult{ID: id}, nil
	}
	p.transfers = append(p.transfers, req)
	p.balances[req.FromAccount] -= req.Amount
	id := fmt.Sprintf("tr_%d", len(p.transfers))
	p.byKey[req.IdempotencyKey] = id
	return models.TransferResult{ID: id}, nil
}

func (p *fakeProcessor) Charge(_ context.Context, req models.ChargeRequest) (models.ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chargeErr != nil && p.affects(req.Account) {
		return models.ChargeResult{}, p.chargeErr
	}
	if id, ok := p.byKey[req.IdempotencyKey]; ok {
		return models.ChargeResult{ID: id, Status: "pending"}, nil
	}
	p.charges = append(p.charges, req)
	id := fmt.Sprintf("ch_%d", len(p.charges))
	p.byKey[req.IdempotencyKey] = id
	return models.ChargeResult{ID: id, Status: "pending"}, nil
}

func (p *fakeProcessor) transferCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transfers)
}

func (p *fakeProcessor) chargeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.charges)
}

// fakeDirectory resolves providers from a map
type fakeDirectory struct {
	mu        sync.Mutex
	providers map[string]models.ServiceProvider
	calls     int
}

func (d *fakeDirectory) GetProvider(_ context.Context, providerID string) (models.ServiceProvider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	p, ok := d.providers[providerID]
	if !ok {
		return models.ServiceProvider{}, repositories.ErrNotFound
	}
	return p, nil
}

// recordingNotifier captures dispatched notifications
type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.OutboundNotification
}

func (n *recordingNotifier) Dispatch(msg models.OutboundNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) ofType(notifType string) []models.OutboundNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.OutboundNotification
	for _, msg := range n.sent {
		if msg.Type == notifType {
			out = append(out, msg)
		}
	}
	return out
}

// fakeReceipts is a ReceiptStorage returning predictable URLs
type fakeReceipts struct {
	err error
}

func (r *fakeReceipts) UploadURL(_ context.Context, key, contentType string, _ time.Duration) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "https://storage.test/upload/" + key + "?ct=" + contentType, nil
}

func (r *fakeReceipts) ReadURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "https://storage.test/" + bucket + "/" + key, nil
}

func (r *fakeReceipts) Bucket() string { return "receipts-test" }

var testDay = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

func openDebt(id, providerID string, amount int64, due time.Time) models.CommissionDebt {
	return models.CommissionDebt{
		ID:               id,
		ProviderID:       providerID,
		Amount:           amount,
		Currency:         "USD",
		Status:           models.DebtStatusPending,
		DueDate:          due,
		SettlementMethod: models.SettlementMethodNone,
	}
}
