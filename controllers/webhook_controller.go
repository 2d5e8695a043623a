package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/HSouheill/barrim_settlement/models"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// SettlementApplier records asynchronous processor confirmations
type SettlementApplier interface {
	ApplySettlement(ctx context.Context, conf models.SettlementConfirmation) (models.SettlementOutcome, error)
}

// DebtAccruer creates debts for cash-collected transactions
type DebtAccruer interface {
	AccrueDebt(ctx context.Context, accrual models.DebtAccrual) (models.CommissionDebt, bool, error)
}

// WebhookController receives processor callbacks and internal ledger events
type WebhookController struct {
	settlements SettlementApplier
	accruals    DebtAccruer
}

func NewWebhookController(settlements SettlementApplier, accruals DebtAccruer) *WebhookController {
	return &WebhookController{
		settlements: settlements,
		accruals:    accruals,
	}
}

// HandleSettlementConfirmation applies a Whish charge confirmation. Replays
// answer 200 so the processor stops retrying.
func (wc *WebhookController) HandleSettlementConfirmation(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	var conf models.SettlementConfirmation
	if ok, err := bindAndValidate(c, &conf); !ok {
		return err
	}

	log.WithFields(log.Fields{
		"externalReference": conf.ExternalReference,
		"debtId":            conf.DebtID,
		"status":            conf.Status,
		"ip":                c.RealIP(),
	}).Info("received Whish settlement confirmation")

	outcome, err := wc.settlements.ApplySettlement(ctx, conf)
	if err != nil {
		return respondError(c, err, "apply settlement")
	}

	message := "Settlement applied"
	if outcome.Duplicate {
		message = "Settlement already applied"
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: message,
		Data:    outcome,
	})
}

// HandleDebtAccrual records a commission debt raised by a cash transaction
func (wc *WebhookController) HandleDebtAccrual(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var accrual models.DebtAccrual
	if ok, err := bindAndValidate(c, &accrual); !ok {
		return err
	}

	debt, created, err := wc.accruals.AccrueDebt(ctx, accrual)
	if err != nil {
		return respondError(c, err, "accrue commission debt")
	}

	status, message := http.StatusCreated, "Commission debt created"
	if !created {
		status, message = http.StatusOK, "Commission debt already recorded"
	}
	return c.JSON(status, models.Response{
		Status:  status,
		Message: message,
		Data:    debt,
	})
}
