package api

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	xhttp "MirrorTrader/pkg/http"
)

// BearerAuth guards the API with a static token. Outside production, or
// with no token configured, requests pass through so local development and
// tests need no credentials.
func BearerAuth(environment, token string) echo.MiddlewareFunc {
	enforce := environment == "production" && token != ""
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !enforce {
				return next(c)
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return xhttp.UnauthorizedResponse(c, []*xhttp.AppError{
					xhttp.UnauthorizedError("missing or invalid bearer token"),
				})
			}
			return next(c)
		}
	}
}
