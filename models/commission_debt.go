package models

import (
	"fmt"
	"time"
)

// DebtStatus is the lifecycle state of a commission debt
type DebtStatus string

const (
	DebtStatusPending     DebtStatus = "pending"
	DebtStatusOverdue     DebtStatus = "overdue"
	DebtStatusUnderReview DebtStatus = "under_review"
	DebtStatusPaid        DebtStatus = "paid"
	DebtStatusRejected    DebtStatus = "rejected"
	DebtStatusCancelled   DebtStatus = "cancelled"
)

// SettlementMethod identifies how funds were (or are being) applied to a debt
type SettlementMethod string

const (
	SettlementMethodNone         SettlementMethod = "none"
	SettlementMethodBalanceDebit SettlementMethod = "balance_debit"
	SettlementMethodCardFallback SettlementMethod = "card_fallback"
	SettlementMethodManual       SettlementMethod = "manual"
)

// CollectibleStatuses are the states the collection cycle works on
var CollectibleStatuses = []DebtStatus{DebtStatusPending, DebtStatusOverdue}

// ManualClaimStatuses are the states a manual cash payment may be allocated against
var ManualClaimStatuses = []DebtStatus{DebtStatusPending, DebtStatusOverdue, DebtStatusRejected}

var debtTransitions = map[DebtStatus]map[DebtStatus]bool{
	DebtStatusPending: {
		DebtStatusOverdue:     true,
		DebtStatusUnderReview: true,
		DebtStatusPaid:        true,
		DebtStatusCancelled:   true,
	},
	DebtStatusOverdue: {
		DebtStatusUnderReview: true,
		DebtStatusPaid:        true,
		DebtStatusCancelled:   true,
	},
	DebtStatusUnderReview: {
		DebtStatusPending:   true,
		DebtStatusPaid:      true,
		DebtStatusCancelled: true,
	},
	// rejected is kept for rows written before claims reverted debts to pending
	DebtStatusRejected: {
		DebtStatusPending:     true,
		DebtStatusUnderReview: true,
		DebtStatusPaid:        true,
		DebtStatusCancelled:   true,
	},
}

// IsTerminal reports whether no transition may leave the status
func (s DebtStatus) IsTerminal() bool {
	return s == DebtStatusPaid || s == DebtStatusCancelled
}

// CanTransition reports whether a debt may move from one status to another
func CanTransition(from, to DebtStatus) bool {
	return debtTransitions[from][to]
}

// CommissionDebt is money a service provider owes the platform for commissions
// accrued on cash-collected transactions. Amounts are in minor currency units.
type CommissionDebt struct {
	ID                     string           `json:"id"`
	ProviderID             string           `json:"providerId"`
	Amount                 int64            `json:"amount"`
	SettledAmount          int64            `json:"settledAmount"`
	Currency               string           `json:"currency"`
	Status                 DebtStatus       `json:"status"`
	DueDate                time.Time        `json:"dueDate"`
	SettlementMethod       SettlementMethod `json:"settlementMethod"`
	ManualPaymentID        *string          `json:"manualPaymentId,omitempty"`
	ExternalReference      string           `json:"externalReference,omitempty"`
	PendingChargeReference string           `json:"pendingChargeReference,omitempty"`
	SourceReference        string           `json:"sourceReference,omitempty"`
	AttemptCount           int              `json:"attemptCount"`
	LastAttemptAt          *time.Time       `json:"lastAttemptAt,omitempty"`
	CreatedAt              time.Time        `json:"createdAt"`
	UpdatedAt              time.Time        `json:"updatedAt"`
}

// ChargeInFlight reports whether an off-session card charge was initiated that the
// processor has neither confirmed nor failed yet. No tier may move money meanwhile.
func (d CommissionDebt) ChargeInFlight() bool {
	return d.PendingChargeReference != ""
}

// Remaining returns the amount still owed
func (d CommissionDebt) Remaining() int64 {
	return d.Amount - d.SettledAmount
}

// TransitionTo moves the debt to a new status, enforcing the state machine
func (d *CommissionDebt) TransitionTo(to DebtStatus) error {
	if d.Status == to {
		return nil
	}
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("debt %s: illegal transition %s -> %s", d.ID, d.Status, to)
	}
	d.Status = to
	return nil
}

// ApplyFunds credits up to amount against the debt and returns what was actually
// applied. The debt is closed to paid once the settled amount reaches the total.
func (d *CommissionDebt) ApplyFunds(amount int64) (int64, error) {
	if d.Status.IsTerminal() {
		return 0, fmt.Errorf("debt %s is %s", d.ID, d.Status)
	}
	if amount <= 0 {
		return 0, nil
	}
	applied := amount
	if remaining := d.Remaining(); applied > remaining {
		applied = remaining
	}
	if applied <= 0 {
		return 0, nil
	}
	d.SettledAmount += applied
	if d.SettledAmount == d.Amount {
		if err := d.TransitionTo(DebtStatusPaid); err != nil {
			d.SettledAmount -= applied
			return 0, err
		}
	}
	return applied, nil
}

// Validate checks the ledger invariants of a single debt
func (d CommissionDebt) Validate() error {
	if d.SettledAmount < 0 || d.SettledAmount > d.Amount {
		return fmt.Errorf("debt %s: settled %d outside [0, %d]", d.ID, d.SettledAmount, d.Amount)
	}
	if (d.Status == DebtStatusPaid) != (d.SettledAmount == d.Amount) {
		return fmt.Errorf("debt %s: status %s with settled %d of %d", d.ID, d.Status, d.SettledAmount, d.Amount)
	}
	return nil
}

// DebtSummary aggregates a provider's open obligations per currency
type DebtSummary struct {
	ProviderID  string           `json:"providerId"`
	Outstanding map[string]int64 `json:"outstanding"`
	OpenDebts   int              `json:"openDebts"`
	UnderReview int              `json:"underReview"`
	Overdue     int              `json:"overdue"`
}
