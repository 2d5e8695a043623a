// middleware/auth_middleware.go
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/security"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// WebhookSecretHeader carries the shared secret on processor callbacks
const WebhookSecretHeader = "X-Whish-Webhook-Secret"

// RequireUserType checks if the authenticated user has one of the allowed user types
func RequireUserType(allowedTypes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userType := ExtractUserType(c)

			// If no user type found, deny access
			if userType == "" {
				return c.JSON(http.StatusUnauthorized, models.Response{
					Status:  http.StatusUnauthorized,
					Message: "Authentication failed: user type not found",
				})
			}

			for _, allowedType := range allowedTypes {
				if userType == allowedType {
					return next(c)
				}
			}

			log.WithFields(log.Fields{
				"path":     c.Request().URL.Path,
				"userType": userType,
				"allowed":  allowedTypes,
			}).Warn("access denied for user type")
			return c.JSON(http.StatusForbidden, models.Response{
				Status:  http.StatusForbidden,
				Message: "Access denied for your user type",
			})
		}
	}
}

// RequireWebhookSecret authenticates processor callbacks with a shared secret
func RequireWebhookSecret(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				log.Error("webhook secret is not configured; rejecting callback")
				return c.JSON(http.StatusServiceUnavailable, models.Response{
					Status:  http.StatusServiceUnavailable,
					Message: "Webhook is not configured",
				})
			}

			provided := strings.TrimSpace(c.Request().Header.Get(WebhookSecretHeader))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				log.WithFields(log.Fields{
					"ip":      c.RealIP(),
					"headers": security.RedactHeaders(c.Request().Header, WebhookSecretHeader),
				}).Warn("webhook call with invalid secret")
				return c.JSON(http.StatusUnauthorized, models.Response{
					Status:  http.StatusUnauthorized,
					Message: "Invalid webhook secret",
				})
			}
			return next(c)
		}
	}
}
