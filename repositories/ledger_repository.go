package repositories

import (
	"context"
	"time"

	"github.com/HSouheill/barrim_settlement/config"
	"github.com/HSouheill/barrim_settlement/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository is the PostgreSQL commission ledger
type LedgerRepository struct {
	db   *gorm.DB
	caps config.Capabilities
}

// NewLedgerRepository creates a ledger bound to the probed schema capabilities
func NewLedgerRepository(db *gorm.DB, caps config.Capabilities) *LedgerRepository {
	return &LedgerRepository{db: db, caps: caps}
}

// InTx runs fn inside a single database transaction
func (r *LedgerRepository) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerTx{db: tx, caps: r.caps})
	})
}

// GetDebt loads a debt without locking it
func (r *LedgerRepository) GetDebt(ctx context.Context, debtID string) (models.CommissionDebt, error) {
	var row commissionDebtRow
	if err := r.db.WithContext(ctx).Where("id = ?", debtID).Take(&row).Error; err != nil {
		return models.CommissionDebt{}, translateError(err)
	}
	return toDomainDebt(row), nil
}

// ListCollectibleDebts returns every pending or overdue debt, oldest first
func (r *LedgerRepository) ListCollectibleDebts(ctx context.Context) ([]models.CommissionDebt, error) {
	var rows []commissionDebtRow
	err := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings(models.CollectibleStatuses)).
		Where("settled_amount < amount").
		Order("due_date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	return mapDebts(rows), nil
}

// ListProviderDebts returns a provider's debts, optionally filtered by status
func (r *LedgerRepository) ListProviderDebts(ctx context.Context, providerID string, statuses []models.DebtStatus) ([]models.CommissionDebt, error) {
	q := r.db.WithContext(ctx).Where("provider_id = ?", providerID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(statuses))
	}
	var rows []commissionDebtRow
	if err := q.Order("due_date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	return mapDebts(rows), nil
}

// RecordAttempt bumps the collection attempt counter of a debt
func (r *LedgerRepository) RecordAttempt(ctx context.Context, debtID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&commissionDebtRow{}).
		Where("id = ?", debtID).
		Updates(map[string]interface{}{
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": at,
			"updated_at":      at,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOverdue moves pending debts due before cutoff to overdue
func (r *LedgerRepository) MarkOverdue(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&commissionDebtRow{}).
		Where("status = ? AND due_date < ?", string(models.DebtStatusPending), cutoff).
		Updates(map[string]interface{}{
			"status":     string(models.DebtStatusOverdue),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, translateError(res.Error)
	}
	return res.RowsAffected, nil
}

// GetManualPayment loads a manual payment claim
func (r *LedgerRepository) GetManualPayment(ctx context.Context, paymentID string) (models.ManualCashPayment, error) {
	var row manualCashPaymentRow
	if err := r.db.WithContext(ctx).Where("id = ?", paymentID).Take(&row).Error; err != nil {
		return models.ManualCashPayment{}, translateError(err)
	}
	return toDomainPayment(row), nil
}

// ListManualPayments returns claims newest first, optionally filtered by status
func (r *LedgerRepository) ListManualPayments(ctx context.Context, status models.ManualPaymentStatus, limit int) ([]models.ManualCashPayment, error) {
	q := r.db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []manualCashPaymentRow
	if err := q.Order("created_at DESC, id ASC").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]models.ManualCashPayment, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainPayment(row))
	}
	return out, nil
}

// ListSettlements returns the settlement history of a debt in insertion order
func (r *LedgerRepository) ListSettlements(ctx context.Context, debtID string) ([]models.CommissionSettlement, error) {
	var rows []commissionSettlementRow
	err := r.db.WithContext(ctx).
		Where("debt_id = ?", debtID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]models.CommissionSettlement, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainSettlement(row))
	}
	return out, nil
}

type ledgerTx struct {
	db   *gorm.DB
	caps config.Capabilities
}

func (t *ledgerTx) forUpdate(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

// debtOmits lists the debt columns the connected schema cannot store
func (t *ledgerTx) debtOmits(extra ...string) []string {
	omits := append([]string{}, extra...)
	if !t.caps.DebtPaymentLink {
		omits = append(omits, "manual_payment_id")
	}
	return omits
}

func (t *ledgerTx) LockOutstandingDebts(ctx context.Context, providerID, currency string, statuses []models.DebtStatus) ([]models.CommissionDebt, error) {
	q := t.forUpdate(ctx).
		Where("provider_id = ?", providerID).
		Where("status IN ?", statusStrings(statuses))
	if currency != "" {
		q = q.Where("currency = ?", currency)
	}
	var rows []commissionDebtRow
	if err := q.Order("due_date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	return mapDebts(rows), nil
}

func (t *ledgerTx) LockDebt(ctx context.Context, debtID string) (models.CommissionDebt, error) {
	var row commissionDebtRow
	if err := t.forUpdate(ctx).Where("id = ?", debtID).Take(&row).Error; err != nil {
		return models.CommissionDebt{}, translateError(err)
	}
	return toDomainDebt(row), nil
}

func (t *ledgerTx) LockManualPayment(ctx context.Context, paymentID string) (models.ManualCashPayment, error) {
	var row manualCashPaymentRow
	if err := t.forUpdate(ctx).Where("id = ?", paymentID).Take(&row).Error; err != nil {
		return models.ManualCashPayment{}, translateError(err)
	}
	return toDomainPayment(row), nil
}

func (t *ledgerTx) LinkedDebtIDs(ctx context.Context, paymentID string) ([]string, error) {
	var ids []string
	err := t.db.WithContext(ctx).Model(&manualPaymentDebtRow{}).
		Where("manual_payment_id = ?", paymentID).
		Order("position ASC").
		Pluck("debt_id", &ids).Error
	if err != nil {
		return nil, translateError(err)
	}
	return ids, nil
}

func (t *ledgerTx) FindDebtBySource(ctx context.Context, sourceReference string) (models.CommissionDebt, error) {
	var row commissionDebtRow
	if err := t.db.WithContext(ctx).Where("source_reference = ?", sourceReference).Take(&row).Error; err != nil {
		return models.CommissionDebt{}, translateError(err)
	}
	return toDomainDebt(row), nil
}

func (t *ledgerTx) CreateDebt(ctx context.Context, debt *models.CommissionDebt) error {
	now := time.Now().UTC()
	if debt.CreatedAt.IsZero() {
		debt.CreatedAt = now
	}
	debt.UpdatedAt = now
	row := toDebtRow(*debt)
	q := t.db.WithContext(ctx)
	if omits := t.debtOmits(); len(omits) > 0 {
		q = q.Omit(omits...)
	}
	return translateError(q.Create(&row).Error)
}

func (t *ledgerTx) SaveDebt(ctx context.Context, debt *models.CommissionDebt) error {
	debt.UpdatedAt = time.Now().UTC()
	row := toDebtRow(*debt)
	res := t.db.WithContext(ctx).Model(&row).
		Select("*").
		Omit(t.debtOmits("id", "created_at")...).
		Updates(&row)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *ledgerTx) CreateManualPayment(ctx context.Context, payment *models.ManualCashPayment) error {
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	row, err := toPaymentRow(*payment)
	if err != nil {
		return err
	}
	return translateError(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *ledgerTx) SaveManualPayment(ctx context.Context, payment *models.ManualCashPayment) error {
	payment.UpdatedAt = time.Now().UTC()
	row, err := toPaymentRow(*payment)
	if err != nil {
		return err
	}
	res := t.db.WithContext(ctx).Model(&row).
		Select("*").
		Omit("id", "created_at").
		Updates(&row)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *ledgerTx) LinkDebts(ctx context.Context, paymentID string, debtIDs []string) error {
	if len(debtIDs) == 0 {
		return nil
	}
	links := make([]manualPaymentDebtRow, 0, len(debtIDs))
	for i, id := range debtIDs {
		links = append(links, manualPaymentDebtRow{ManualPaymentID: paymentID, DebtID: id, Position: i})
	}
	return translateError(t.db.WithContext(ctx).Create(&links).Error)
}

func (t *ledgerTx) InsertSettlement(ctx context.Context, settlement *models.CommissionSettlement) error {
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = time.Now().UTC()
	}
	row := toSettlementRow(*settlement)
	return translateError(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *ledgerTx) SettlementExists(ctx context.Context, method models.SettlementMethod, externalReference string) (bool, error) {
	var count int64
	err := t.db.WithContext(ctx).Model(&commissionSettlementRow{}).
		Where("method = ? AND external_reference = ?", string(method), externalReference).
		Count(&count).Error
	if err != nil {
		return false, translateError(err)
	}
	return count > 0, nil
}

func mapDebts(rows []commissionDebtRow) []models.CommissionDebt {
	out := make([]models.CommissionDebt, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainDebt(row))
	}
	return out
}
