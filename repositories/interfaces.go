package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/HSouheill/barrim_settlement/models"
)

// ErrNotFound is returned when a requested ledger record does not exist
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique ledger key already exists
var ErrDuplicate = errors.New("duplicate record")

// LedgerTx is the set of ledger operations available inside one transaction.
// Lock* methods hold row locks until the transaction ends.
type LedgerTx interface {
	LockOutstandingDebts(ctx context.Context, providerID, currency string, statuses []models.DebtStatus) ([]models.CommissionDebt, error)
	LockDebt(ctx context.Context, debtID string) (models.CommissionDebt, error)
	LockManualPayment(ctx context.Context, paymentID string) (models.ManualCashPayment, error)
	LinkedDebtIDs(ctx context.Context, paymentID string) ([]string, error)
	FindDebtBySource(ctx context.Context, sourceReference string) (models.CommissionDebt, error)

	CreateDebt(ctx context.Context, debt *models.CommissionDebt) error
	SaveDebt(ctx context.Context, debt *models.CommissionDebt) error
	CreateManualPayment(ctx context.Context, payment *models.ManualCashPayment) error
	SaveManualPayment(ctx context.Context, payment *models.ManualCashPayment) error
	LinkDebts(ctx context.Context, paymentID string, debtIDs []string) error

	InsertSettlement(ctx context.Context, settlement *models.CommissionSettlement) error
	SettlementExists(ctx context.Context, method models.SettlementMethod, externalReference string) (bool, error)
}

// LedgerStore is the commission ledger
type LedgerStore interface {
	// InTx runs fn in one transaction; any returned error rolls back every write
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetDebt(ctx context.Context, debtID string) (models.CommissionDebt, error)
	ListCollectibleDebts(ctx context.Context) ([]models.CommissionDebt, error)
	ListProviderDebts(ctx context.Context, providerID string, statuses []models.DebtStatus) ([]models.CommissionDebt, error)
	RecordAttempt(ctx context.Context, debtID string, at time.Time) error
	MarkOverdue(ctx context.Context, cutoff time.Time) (int64, error)

	GetManualPayment(ctx context.Context, paymentID string) (models.ManualCashPayment, error)
	ListManualPayments(ctx context.Context, status models.ManualPaymentStatus, limit int) ([]models.ManualCashPayment, error)

	ListSettlements(ctx context.Context, debtID string) ([]models.CommissionSettlement, error)
}
