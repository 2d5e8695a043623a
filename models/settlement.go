package models

import "time"

// CommissionSettlement is one audited application of funds against a debt.
// Rows are append-only; the sum per debt always equals the debt's settled amount.
type CommissionSettlement struct {
	ID                string           `json:"id"`
	DebtID            string           `json:"debtId"`
	ProviderID        string           `json:"providerId"`
	SettledAmount     int64            `json:"settledAmount"`
	Currency          string           `json:"currency"`
	Method            SettlementMethod `json:"method"`
	ExternalReference string           `json:"externalReference"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// SettlementConfirmation is a processor event confirming a card-fallback charge
type SettlementConfirmation struct {
	ExternalReference string `json:"externalReference" validate:"required"`
	DebtID            string `json:"debtId" validate:"required"`
	Amount            int64  `json:"amount" validate:"required,gt=0"`
	Currency          string `json:"currency,omitempty"`
	Status            string `json:"status,omitempty"`
}

// SettlementOutcome describes what a confirmation did to the ledger
type SettlementOutcome struct {
	Debt      CommissionDebt `json:"debt"`
	Applied   int64          `json:"applied"`
	Duplicate bool           `json:"duplicate"`
}

// DebtAccrual is the external trigger creating a debt for a cash transaction
type DebtAccrual struct {
	ProviderID      string    `json:"providerId" validate:"required"`
	Amount          int64     `json:"amount" validate:"required,gt=0"`
	Currency        string    `json:"currency" validate:"required,len=3"`
	DueDate         time.Time `json:"dueDate" validate:"required"`
	SourceReference string    `json:"sourceReference" validate:"required"`
}
