package routes

import (
	"github.com/HSouheill/barrim_settlement/controllers"
	"github.com/HSouheill/barrim_settlement/middleware"
	"github.com/HSouheill/barrim_settlement/websocket"
	"github.com/labstack/echo/v4"
)

// RegisterAdminRoutes sets up the finance review routes and the admin websocket
func RegisterAdminRoutes(e *echo.Echo, jwtSecret string, adminController *controllers.AdminCommissionController, hub *websocket.Hub) {
	// Protected routes (require admin authentication)
	protected := e.Group("/api/admin")
	protected.Use(middleware.JWTMiddleware(jwtSecret))
	protected.Use(middleware.RequireUserType(middleware.UserTypeAdmin, middleware.UserTypeSuperAdmin))

	// Manual payment review
	protected.GET("/commission/manual-payments", adminController.ListManualPayments)
	protected.GET("/commission/manual-payments/:id/receipt", adminController.GetReceiptURL)
	protected.POST("/commission/manual-payments/:id/decision", adminController.DecideManualPayment)

	// Ledger
	protected.GET("/commission/providers/:providerId/debts", adminController.GetProviderDebts)
	protected.GET("/commission/debts/:id/settlements", adminController.GetSettlements)
	protected.POST("/commission/debts/:id/cancel", adminController.CancelDebt)

	// Collection
	protected.POST("/commission/collection/run", adminController.RunCollection)

	// Live alerts for the finance dashboard
	protected.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(c, hub, middleware.GetUserIDFromToken(c))
	})
}
