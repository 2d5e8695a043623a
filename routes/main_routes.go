package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/HSouheill/barrim_settlement/metrics"
	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}

// RegisterMainRoutes sets up the root, health and metrics endpoints
func RegisterMainRoutes(e *echo.Echo, checks ...HealthChecker) {
	e.Match([]string{http.MethodGet, http.MethodHead}, "/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "OK",
			"message": "Barrim commission settlement is running",
			"version": "1.0",
		})
	})

	e.Match([]string{http.MethodGet, http.MethodHead}, "/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		report := map[string]string{"status": "healthy"}
		for _, check := range checks {
			if err := check.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report["status"] = "degraded"
				report[check.Name()] = err.Error()
				continue
			}
			report[check.Name()] = "connected"
		}
		return c.JSON(status, report)
	})

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}
