package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func okHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"userId":   GetUserIDFromToken(c),
		"userType": ExtractUserType(c),
	})
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, userType string, ttl time.Duration) string {
	t.Helper()
	token, err := GenerateJWT(testSecret, "u-1", "u1@barrim.com", userType, ttl)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestJWTMiddleware(t *testing.T) {
	e := echo.New()
	g := e.Group("/api/admin", JWTMiddleware(testSecret), RequireUserType(UserTypeAdmin, UserTypeSuperAdmin))
	g.GET("/ping", okHandler)

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"admin", bearer(t, UserTypeAdmin, time.Hour), http.StatusOK},
		{"super admin", bearer(t, UserTypeSuperAdmin, time.Hour), http.StatusOK},
		{"provider", bearer(t, UserTypeServiceProvider, time.Hour), http.StatusForbidden},
		{"no type", bearer(t, "", time.Hour), http.StatusUnauthorized},
		{"expired", bearer(t, UserTypeAdmin, -time.Minute), http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
			if tt.auth != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.auth)
			}
			rec := serve(e, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"userId":"u-1"`)
			}
		})
	}
}

func TestJWTMiddleware_WrongSecret(t *testing.T) {
	e := echo.New()
	e.GET("/me", okHandler, JWTMiddleware("another-secret"))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, bearer(t, UserTypeAdmin, time.Hour))

	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
}

func TestJWTMiddleware_NoSecretConfigured(t *testing.T) {
	e := echo.New()
	e.GET("/me", okHandler, JWTMiddleware(""))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, bearer(t, UserTypeAdmin, time.Hour))

	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	_, err := GenerateJWT("", "u-1", "", UserTypeAdmin, 0)
	assert.Error(t, err)
}

func TestRequireWebhookSecret(t *testing.T) {
	e := echo.New()
	e.POST("/hook", okHandler, RequireWebhookSecret("whsec_1"))
	e.POST("/unconfigured", okHandler, RequireWebhookSecret(""))

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set(WebhookSecretHeader, "whsec_1")
	assert.Equal(t, http.StatusOK, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set(WebhookSecretHeader, "whsec_2")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/hook", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/unconfigured", nil)
	req.Header.Set(WebhookSecretHeader, "")
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, req).Code)
}

func TestRateLimiter_EndpointLimitBlocksClient(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter()
	limiter.now = func() time.Time { return now }

	e := echo.New()
	e.Use(limiter.RateLimit())
	e.POST("/api/admin/commission/collection/run", okHandler)
	e.GET("/health", okHandler)

	run := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/commission/collection/run", nil)
		req.Header.Set(echo.HeaderXRealIP, ip)
		return serve(e, req).Code
	}
	health := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(echo.HeaderXRealIP, ip)
		return serve(e, req).Code
	}

	assert.Equal(t, http.StatusOK, run("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, run("10.0.0.1"))
	// the offending client is blocked everywhere, others are not
	assert.Equal(t, http.StatusTooManyRequests, health("10.0.0.1"))
	assert.Equal(t, http.StatusOK, run("10.0.0.2"))

	now = now.Add(6 * time.Minute)
	limiter.purgeExpired()
	assert.Equal(t, http.StatusOK, health("10.0.0.1"))
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/x", okHandler)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
