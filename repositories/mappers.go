package repositories

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/HSouheill/barrim_settlement/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func toDomainDebt(row commissionDebtRow) models.CommissionDebt {
	method := models.SettlementMethod(row.SettlementMethod)
	if method == "" {
		method = models.SettlementMethodNone
	}
	return models.CommissionDebt{
		ID:                     row.ID,
		ProviderID:             row.ProviderID,
		Amount:                 row.Amount,
		SettledAmount:          row.SettledAmount,
		Currency:               strings.TrimSpace(row.Currency),
		Status:                 models.DebtStatus(row.Status),
		DueDate:                row.DueDate,
		SettlementMethod:       method,
		ManualPaymentID:        row.ManualPaymentID,
		ExternalReference:      derefString(row.ExternalReference),
		PendingChargeReference: derefString(row.PendingCharge),
		SourceReference:        derefString(row.SourceReference),
		AttemptCount:           row.AttemptCount,
		LastAttemptAt:          row.LastAttemptAt,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}
}

func toDebtRow(d models.CommissionDebt) commissionDebtRow {
	method := d.SettlementMethod
	if method == "" {
		method = models.SettlementMethodNone
	}
	return commissionDebtRow{
		ID:                d.ID,
		ProviderID:        d.ProviderID,
		Amount:            d.Amount,
		SettledAmount:     d.SettledAmount,
		Currency:          d.Currency,
		Status:            string(d.Status),
		DueDate:           d.DueDate,
		SettlementMethod:  string(method),
		ManualPaymentID:   d.ManualPaymentID,
		ExternalReference: nullableString(d.ExternalReference),
		PendingCharge:     nullableString(d.PendingChargeReference),
		SourceReference:   nullableString(d.SourceReference),
		AttemptCount:      d.AttemptCount,
		LastAttemptAt:     d.LastAttemptAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toDomainPayment(row manualCashPaymentRow) models.ManualCashPayment {
	p := models.ManualCashPayment{
		ID:         row.ID,
		ProviderID: row.ProviderID,
		Amount:     row.Amount,
		Currency:   strings.TrimSpace(row.Currency),
		Status:     models.ManualPaymentStatus(row.Status),
		Reference:  row.Reference,
		Notes:      row.Notes,
		Receipt: models.ReceiptRef{
			Bucket:   row.ReceiptBucket,
			Key:      row.ReceiptKey,
			Filename: row.ReceiptFilename,
		},
		DecidedBy:     row.DecidedBy,
		DecisionNotes: row.DecisionNotes,
		DecidedAt:     row.DecidedAt,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &p.Metadata); err != nil {
			log.WithError(err).WithField("paymentId", row.ID).Warn("manual payment metadata is not valid JSON")
		}
	}
	return p
}

func toPaymentRow(p models.ManualCashPayment) (manualCashPaymentRow, error) {
	var metadata []byte
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return manualCashPaymentRow{}, err
		}
		metadata = raw
	}
	return manualCashPaymentRow{
		ID:              p.ID,
		ProviderID:      p.ProviderID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          string(p.Status),
		Reference:       p.Reference,
		Notes:           p.Notes,
		ReceiptBucket:   p.Receipt.Bucket,
		ReceiptKey:      p.Receipt.Key,
		ReceiptFilename: p.Receipt.Filename,
		Metadata:        metadata,
		DecidedBy:       p.DecidedBy,
		DecisionNotes:   p.DecisionNotes,
		DecidedAt:       p.DecidedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}, nil
}

func toDomainSettlement(row commissionSettlementRow) models.CommissionSettlement {
	return models.CommissionSettlement{
		ID:                row.ID,
		DebtID:            row.DebtID,
		ProviderID:        row.ProviderID,
		SettledAmount:     row.SettledAmount,
		Currency:          strings.TrimSpace(row.Currency),
		Method:            models.SettlementMethod(row.Method),
		ExternalReference: row.ExternalReference,
		CreatedAt:         row.CreatedAt,
	}
}

func toSettlementRow(s models.CommissionSettlement) commissionSettlementRow {
	return commissionSettlementRow{
		ID:                s.ID,
		DebtID:            s.DebtID,
		ProviderID:        s.ProviderID,
		SettledAmount:     s.SettledAmount,
		Currency:          s.Currency,
		Method:            string(s.Method),
		ExternalReference: s.ExternalReference,
		CreatedAt:         s.CreatedAt,
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func statusStrings(statuses []models.DebtStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// translateError maps gorm sentinel errors onto the repository's own
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
