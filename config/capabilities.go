package config

import (
	"context"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Capabilities records what the connected ledger schema supports.
// It is probed once at startup and never changes afterwards.
type Capabilities struct {
	// DebtPaymentLink is true when commission_debts carries manual_payment_id.
	// Without it the manual_payment_debts join table is the only link.
	DebtPaymentLink bool
}

// ProbeCapabilities inspects the ledger schema
func ProbeCapabilities(ctx context.Context, db *gorm.DB) Capabilities {
	caps := Capabilities{
		DebtPaymentLink: db.WithContext(ctx).Migrator().HasColumn("commission_debts", "manual_payment_id"),
	}
	if !caps.DebtPaymentLink {
		log.Warn("commission_debts.manual_payment_id is missing; manual payment links are kept in manual_payment_debts only")
	}
	return caps
}
