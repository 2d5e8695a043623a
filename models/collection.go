package models

import "time"

// CollectionOutcome is what the collection cycle did with one debt
type CollectionOutcome string

const (
	OutcomeBalanceDebit    CollectionOutcome = "balance_debit"
	OutcomeCardCharge      CollectionOutcome = "card_fallback"
	OutcomeNoPaymentMethod CollectionOutcome = "no_payment_method"
	OutcomeSkipped         CollectionOutcome = "skipped"
	OutcomeFailed          CollectionOutcome = "failed"
)

// DebtCollectionError records a per-debt failure inside a collection run
type DebtCollectionError struct {
	DebtID     string `json:"debtId"`
	ProviderID string `json:"providerId"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
}

// CollectionResult aggregates one run of the collection cycle
type CollectionResult struct {
	StartedAt       time.Time             `json:"startedAt"`
	FinishedAt      time.Time             `json:"finishedAt"`
	Attempted       int                   `json:"attempted"`
	BalanceDebits   int                   `json:"balanceDebits"`
	CardCharges     int                   `json:"cardCharges"`
	NoPaymentMethod int                   `json:"noPaymentMethod"`
	Skipped         int                   `json:"skipped"`
	Closed          int                   `json:"closed"`
	TotalSettled    map[string]int64      `json:"totalSettled"`
	Errors          []DebtCollectionError `json:"errors"`
}
