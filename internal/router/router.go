package router

import (
	"newsletter-briefing/internal/handler"
	"newsletter-briefing/internal/middleware"

	"github.com/labstack/echo/v4"
)

const CallbackPath = "/callback"

// SetupRoutes registers the local endpoints used by the setup flow.
func SetupRoutes(e *echo.Echo, authHandler *handler.AuthHandler, state string) {
	e.GET(CallbackPath, authHandler.CallbackHandler, middleware.StateMiddleware(state))
	e.GET("/health", authHandler.HealthHandler)
}
