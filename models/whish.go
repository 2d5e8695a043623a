package models

import "encoding/json"

// WhishRequest represents the standard request structure for Whish API
type WhishRequest struct {
	Account       string      `json:"account,omitempty"`
	Amount        json.Number `json:"amount,omitempty"`
	Currency      string      `json:"currency,omitempty"`
	Invoice       string      `json:"invoice,omitempty"`
	ExternalID    string      `json:"externalId,omitempty"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	OffSession    bool        `json:"offSession,omitempty"`
	Metadata      interface{} `json:"metadata,omitempty"`
}

// WhishResponse represents the standard response structure from Whish API
type WhishResponse struct {
	Status bool                   `json:"status"`
	Code   interface{}            `json:"code"`   // Can be string or null
	Dialog interface{}            `json:"dialog"` // Can be string, object, or null
	Extra  interface{}            `json:"extra"`
	Data   map[string]interface{} `json:"data"`
}

// TransferRequest moves funds from a provider sub-account to the platform
type TransferRequest struct {
	FromAccount    string
	Amount         int64
	Currency       string
	DebtID         string
	IdempotencyKey string
}

// TransferResult is the processor's acknowledgement of a transfer
type TransferResult struct {
	ID string `json:"transferId"`
}

// ChargeRequest initiates an off-session charge on a stored payment method
type ChargeRequest struct {
	Account        string
	PaymentMethod  string
	Amount         int64
	Currency       string
	DebtID         string
	IdempotencyKey string
}

// ChargeResult is returned before the charge is confirmed
type ChargeResult struct {
	ID     string `json:"chargeId"`
	Status string `json:"status"`
}
