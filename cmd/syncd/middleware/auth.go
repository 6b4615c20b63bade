package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// AccountIDKey is the context key for the authenticated account
	AccountIDKey ContextKey = "account_id"
)

// ExtractAccount extracts the X-Account-ID header and stores it in the
// request context. Every document, operation and snapshot is scoped to
// this account; there is no cross-account surface.
//
// Usage:
//
//	e := echo.New()
//	e.Use(middleware.ExtractAccount())
func ExtractAccount() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			accountID := c.Request().Header.Get("X-Account-ID")
			if accountID != "" {
				c.Set(string(AccountIDKey), accountID)
			}
			return next(c)
		}
	}
}

// GetAccountID retrieves the account id from the request context.
// Returns empty string if not set.
func GetAccountID(c echo.Context) string {
	accountID := c.Get(string(AccountIDKey))
	if accountID == nil {
		return ""
	}
	return accountID.(string)
}

// RequireAccountID ensures an account id exists in context
func RequireAccountID(c echo.Context) (string, error) {
	accountID := GetAccountID(c)
	if accountID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "X-Account-ID header is required")
	}
	return accountID, nil
}
