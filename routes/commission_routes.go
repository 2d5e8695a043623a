// routes/commission_routes.go
package routes

import (
	"github.com/HSouheill/barrim_settlement/controllers"
	"github.com/HSouheill/barrim_settlement/middleware"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// RegisterCommissionRoutes sets up the service provider commission routes
func RegisterCommissionRoutes(e *echo.Echo, jwtSecret string, commissionController *controllers.CommissionController) {
	// Protected routes (require service provider authentication)
	commission := e.Group("/api/service-providers/commission")
	commission.Use(middleware.JWTMiddleware(jwtSecret))
	commission.Use(middleware.RequireUserType(middleware.UserTypeServiceProvider))

	commission.GET("/debts", commissionController.GetDebts)
	commission.GET("/summary", commissionController.GetSummary)
	commission.POST("/receipts/upload-url", commissionController.CreateReceiptUploadURL)
	commission.POST("/manual-payments", commissionController.SubmitManualPayment)

	log.Debug("Registered service provider commission routes")
}

// RegisterWebhookRoutes sets up the processor callback and internal accrual routes
func RegisterWebhookRoutes(e *echo.Echo, webhookSecret string, webhookController *controllers.WebhookController) {
	// Whish callbacks carry the shared secret instead of a user token
	whish := e.Group("/api/whish/commission")
	whish.Use(middleware.RequireWebhookSecret(webhookSecret))
	whish.POST("/settlement", webhookController.HandleSettlementConfirmation)

	internal := e.Group("/api/internal/commission")
	internal.Use(middleware.RequireWebhookSecret(webhookSecret))
	internal.POST("/debts", webhookController.HandleDebtAccrual)

	log.Debug("Registered commission webhook routes")
}
