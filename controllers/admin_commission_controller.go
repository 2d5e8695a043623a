package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/HSouheill/barrim_settlement/middleware"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/services"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// LedgerAdmin is the finance-side view of the ledger
type LedgerAdmin interface {
	ListProviderDebts(ctx context.Context, providerID string, statuses []models.DebtStatus) ([]models.CommissionDebt, error)
	ListManualPayments(ctx context.Context, status models.ManualPaymentStatus, limit int) ([]models.ManualCashPayment, error)
	ListSettlements(ctx context.Context, debtID string) ([]models.CommissionSettlement, error)
	CancelDebt(ctx context.Context, debtID, adminID, reason string) (models.CommissionDebt, error)
}

// ReceiptViewer issues read URLs for submitted receipts
type ReceiptViewer interface {
	ReceiptURL(ctx context.Context, paymentID string) (string, error)
}

// ManualPaymentDecider resolves a manual payment claim
type ManualPaymentDecider interface {
	Decide(ctx context.Context, paymentID string, req models.DecisionRequest, adminID string) (models.DecisionResult, error)
}

// CollectionTrigger runs a collection cycle on demand
type CollectionTrigger interface {
	RunNow(ctx context.Context) (models.CollectionResult, error)
}

// AdminCommissionController serves the finance review endpoints
type AdminCommissionController struct {
	ledger     LedgerAdmin
	receipts   ReceiptViewer
	decisions  ManualPaymentDecider
	collection CollectionTrigger
}

func NewAdminCommissionController(ledger LedgerAdmin, receipts ReceiptViewer, decisions ManualPaymentDecider, collection CollectionTrigger) *AdminCommissionController {
	return &AdminCommissionController{
		ledger:     ledger,
		receipts:   receipts,
		decisions:  decisions,
		collection: collection,
	}
}

type cancelDebtRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ListManualPayments lists claims, newest first; ?status= and ?limit= are optional
func (ac *AdminCommissionController) ListManualPayments(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.Response{
				Status:  http.StatusBadRequest,
				Message: "Invalid limit",
			})
		}
		limit = parsed
	}

	payments, err := ac.ledger.ListManualPayments(ctx, models.ManualPaymentStatus(c.QueryParam("status")), limit)
	if err != nil {
		return respondError(c, err, "list manual payments")
	}
	if payments == nil {
		payments = []models.ManualCashPayment{}
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Manual payments retrieved successfully",
		Data:    payments,
	})
}

// GetReceiptURL returns a short-lived link to the claim's receipt
func (ac *AdminCommissionController) GetReceiptURL(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	url, err := ac.receipts.ReceiptURL(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err, "get receipt url")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Receipt URL created",
		Data:    map[string]string{"url": url},
	})
}

// DecideManualPayment approves, rejects or asks for resubmission of a claim
func (ac *AdminCommissionController) DecideManualPayment(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	var req models.DecisionRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	adminID := middleware.GetUserIDFromToken(c)
	result, err := ac.decisions.Decide(ctx, c.Param("id"), req, adminID)
	if err != nil {
		return respondError(c, err, "decide manual payment")
	}

	log.WithFields(log.Fields{
		"paymentId": result.Payment.ID,
		"decision":  req.Decision,
		"adminId":   adminID,
	}).Info("manual payment decided")

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Manual payment " + string(result.Payment.Status),
		Data:    result,
	})
}

// RunCollection triggers a collection cycle and returns its report
func (ac *AdminCommissionController) RunCollection(c echo.Context) error {
	// a cycle may walk many debts; it is bounded by the scheduler lock, not the request
	ctx := context.WithoutCancel(c.Request().Context())

	result, err := ac.collection.RunNow(ctx)
	if err != nil {
		return respondError(c, err, "run collection cycle")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Collection cycle completed",
		Data:    result,
	})
}

// CancelDebt waives an open debt
func (ac *AdminCommissionController) CancelDebt(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var req cancelDebtRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	debt, err := ac.ledger.CancelDebt(ctx, c.Param("id"), middleware.GetUserIDFromToken(c), req.Reason)
	if err != nil {
		return respondError(c, err, "cancel commission debt")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commission debt cancelled",
		Data:    debt,
	})
}

// GetSettlements lists the settlement records of a debt
func (ac *AdminCommissionController) GetSettlements(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	settlements, err := ac.ledger.ListSettlements(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err, "list settlements")
	}
	if settlements == nil {
		settlements = []models.CommissionSettlement{}
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Settlements retrieved successfully",
		Data:    settlements,
	})
}

// GetProviderDebts lists any provider's debts for the finance dashboard
func (ac *AdminCommissionController) GetProviderDebts(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	statuses, err := services.ParseDebtStatuses(c.QueryParam("status"))
	if err != nil {
		return respondError(c, err, "list commission debts")
	}

	debts, err := ac.ledger.ListProviderDebts(ctx, c.Param("providerId"), statuses)
	if err != nil {
		return respondError(c, err, "list commission debts")
	}
	if debts == nil {
		debts = []models.CommissionDebt{}
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commission debts retrieved successfully",
		Data:    debts,
	})
}
