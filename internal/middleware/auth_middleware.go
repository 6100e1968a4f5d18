package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// StateMiddleware rejects OAuth redirects whose state parameter does not
// match the one sent with the authorization request.
func StateMiddleware(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.QueryParam("state") != expected {
				return c.String(http.StatusBadRequest, "Invalid state parameter.")
			}
			return next(c)
		}
	}
}
