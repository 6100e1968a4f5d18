package handler

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
)

// AuthResult is what the OAuth provider redirected back with.
type AuthResult struct {
	Code string
	Err  error
}

// AuthHandler receives the OAuth redirect during setup and hands the
// authorization code to whoever is waiting on Results.
type AuthHandler struct {
	results chan AuthResult
	once    sync.Once
	logger  echo.Logger
}

func NewAuthHandler(logger echo.Logger) *AuthHandler {
	return &AuthHandler{
		results: make(chan AuthResult, 1),
		logger:  logger,
	}
}

// Results delivers exactly one AuthResult.
func (h *AuthHandler) Results() <-chan AuthResult {
	return h.results
}

func (h *AuthHandler) deliver(r AuthResult) {
	h.once.Do(func() {
		h.results <- r
	})
}

// CallbackHandler handles the OAuth callback
func (h *AuthHandler) CallbackHandler(c echo.Context) error {
	if errParam := c.QueryParam("error"); errParam != "" {
		h.logger.Error("Authorization denied:", errParam)
		h.deliver(AuthResult{Err: fmt.Errorf("authorization denied: %s", errParam)})
		return c.String(http.StatusBadRequest, "Authorization was denied. You can close this window.")
	}

	code := c.QueryParam("code")
	if code == "" {
		return c.String(http.StatusBadRequest, "Missing authorization code.")
	}

	h.deliver(AuthResult{Code: code})
	return c.String(http.StatusOK, "Authentication complete. You can close this window and return to the terminal.")
}

func (h *AuthHandler) HealthHandler(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}
