package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

// defaultOrigins are the dashboards and apps that call the commission API
var defaultOrigins = []string{
	"http://localhost:3000", // admin dashboard dev server
	"https://barrim.online",
	"https://www.barrim.online",
	"https://barrim.com",
	"https://www.barrim.com",
	"https://admin.barrim.com",
}

// GlobalCORS creates a global CORS middleware allowing the default origins plus extra
func GlobalCORS(extra ...string) echo.MiddlewareFunc {
	origins := append([]string{}, defaultOrigins...)
	origins = append(origins, extra...)

	return echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"X-Requested-With",
		},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength, echo.HeaderContentType},
		MaxAge:           86400, // 24 hours
	})
}
