package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/HSouheill/barrim_settlement/middleware"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/repositories"
	"github.com/HSouheill/barrim_settlement/services"
	"github.com/labstack/echo/v4"
)

// ProviderResolver maps the authenticated user onto a service provider id
type ProviderResolver interface {
	ResolveProviderID(ctx context.Context, userID string) (string, error)
}

// DebtReader serves the provider's view of the ledger
type DebtReader interface {
	ListProviderDebts(ctx context.Context, providerID string, statuses []models.DebtStatus) ([]models.CommissionDebt, error)
	Summary(ctx context.Context, providerID string) (models.DebtSummary, error)
}

// ManualPaymentIntake accepts provider-reported cash payments
type ManualPaymentIntake interface {
	SubmitManualPayment(ctx context.Context, providerID string, req models.ManualPaymentRequest) (models.ManualPaymentResult, error)
	ReceiptUploadLocator(ctx context.Context, providerID, filename string) (models.ReceiptLocator, error)
}

// CommissionController serves the service provider commission endpoints
type CommissionController struct {
	providers ProviderResolver
	debts     DebtReader
	intake    ManualPaymentIntake
}

func NewCommissionController(providers ProviderResolver, debts DebtReader, intake ManualPaymentIntake) *CommissionController {
	return &CommissionController{
		providers: providers,
		debts:     debts,
		intake:    intake,
	}
}

// currentProvider resolves the provider behind the token; when it reports
// false the error response has already been written.
func (cc *CommissionController) currentProvider(ctx context.Context, c echo.Context) (string, bool, error) {
	userID := middleware.GetUserIDFromToken(c)
	if userID == "" {
		return "", false, c.JSON(http.StatusUnauthorized, models.Response{
			Status:  http.StatusUnauthorized,
			Message: "User not authenticated",
		})
	}

	providerID, err := cc.providers.ResolveProviderID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", false, c.JSON(http.StatusNotFound, models.Response{
			Status:  http.StatusNotFound,
			Message: "Service provider not found",
		})
	}
	if err != nil {
		return "", false, respondError(c, err, "resolve service provider")
	}
	return providerID, true, nil
}

// GetDebts lists the provider's commission debts, optionally filtered by ?status=a,b
func (cc *CommissionController) GetDebts(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	statuses, err := services.ParseDebtStatuses(c.QueryParam("status"))
	if err != nil {
		return respondError(c, err, "list commission debts")
	}

	providerID, ok, err := cc.currentProvider(ctx, c)
	if !ok {
		return err
	}

	debts, err := cc.debts.ListProviderDebts(ctx, providerID, statuses)
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

// GetSummary returns outstanding totals for the provider
func (cc *CommissionController) GetSummary(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	providerID, ok, err := cc.currentProvider(ctx, c)
	if !ok {
		return err
	}

	summary, err := cc.debts.Summary(ctx, providerID)
	if err != nil {
		return respondError(c, err, "summarize commission debts")
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commission summary retrieved successfully",
		Data:    summary,
	})
}

// CreateReceiptUploadURL issues a pre-signed URL for the payment receipt
func (cc *CommissionController) CreateReceiptUploadURL(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var req models.ReceiptUploadRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	providerID, ok, err := cc.currentProvider(ctx, c)
	if !ok {
		return err
	}

	locator, err := cc.intake.ReceiptUploadLocator(ctx, providerID, req.Filename)
	if err != nil {
		return respondError(c, err, "create receipt upload url")
	}

	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Receipt upload URL created",
		Data:    locator,
	})
}

// SubmitManualPayment records a cash payment against every outstanding debt
// and places them under review.
func (cc *CommissionController) SubmitManualPayment(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	var req models.ManualPaymentRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	providerID, ok, err := cc.currentProvider(ctx, c)
	if !ok {
		return err
	}

	result, err := cc.intake.SubmitManualPayment(ctx, providerID, req)
	if err != nil {
		return respondError(c, err, "submit manual payment")
	}

	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Manual payment submitted for review",
		Data:    result,
	})
}
