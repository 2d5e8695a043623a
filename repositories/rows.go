package repositories

import "time"

// Row structs mirror the ledger tables. They never leave this package:
// mappers.go converts them to the typed records in models.

type commissionDebtRow struct {
	ID                string     `gorm:"column:id;primaryKey"`
	ProviderID        string     `gorm:"column:provider_id"`
	Amount            int64      `gorm:"column:amount"`
	SettledAmount     int64      `gorm:"column:settled_amount"`
	Currency          string     `gorm:"column:currency"`
	Status            string     `gorm:"column:status"`
	DueDate           time.Time  `gorm:"column:due_date"`
	SettlementMethod  string     `gorm:"column:settlement_method"`
	ManualPaymentID   *string    `gorm:"column:manual_payment_id"`
	ExternalReference *string    `gorm:"column:external_reference"`
	PendingCharge     *string    `gorm:"column:pending_charge_reference"`
	SourceReference   *string    `gorm:"column:source_reference"`
	AttemptCount      int        `gorm:"column:attempt_count"`
	LastAttemptAt     *time.Time `gorm:"column:last_attempt_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (commissionDebtRow) TableName() string { return "commission_debts" }

type manualCashPaymentRow struct {
	ID              string     `gorm:"column:id;primaryKey"`
	ProviderID      string     `gorm:"column:provider_id"`
	Amount          int64      `gorm:"column:amount"`
	Currency        string     `gorm:"column:currency"`
	Status          string     `gorm:"column:status"`
	Reference       string     `gorm:"column:reference"`
	Notes           string     `gorm:"column:notes"`
	ReceiptBucket   string     `gorm:"column:receipt_bucket"`
	ReceiptKey      string     `gorm:"column:receipt_key"`
	ReceiptFilename string     `gorm:"column:receipt_filename"`
	Metadata        []byte     `gorm:"column:metadata;type:jsonb"`
	DecidedBy       string     `gorm:"column:decided_by"`
	DecisionNotes   string     `gorm:"column:decision_notes"`
	DecidedAt       *time.Time `gorm:"column:decided_at"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (manualCashPaymentRow) TableName() string { return "manual_cash_payments" }

type manualPaymentDebtRow struct {
	ManualPaymentID string `gorm:"column:manual_payment_id;primaryKey"`
	DebtID          string `gorm:"column:debt_id;primaryKey"`
	Position        int    `gorm:"column:position"`
}

func (manualPaymentDebtRow) TableName() string { return "manual_payment_debts" }

type commissionSettlementRow struct {
	ID                string    `gorm:"column:id;primaryKey"`
	DebtID            string    `gorm:"column:debt_id"`
	ProviderID        string    `gorm:"column:provider_id"`
	SettledAmount     int64     `gorm:"column:settled_amount"`
	Currency          string    `gorm:"column:currency"`
	Method            string    `gorm:"column:method"`
	ExternalReference string    `gorm:"column:external_reference"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

func (commissionSettlementRow) TableName() string { return "commission_settlements" }
