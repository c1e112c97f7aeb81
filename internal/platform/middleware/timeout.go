package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
)

const codeTimeout = "REQUEST_TIMEOUT"

// RequestTimeout puts a deadline on the request context. If the handler is
// still running when it expires the client gets a 504. Websocket connections
// (/api/v1/ws, /public/ws/display/...) live for hours and are not bounded.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || longLived(c) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() { done <- next(c) }()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return ctx.Err()
				}
				if c.Response().Committed {
					return nil
				}
				return c.JSON(http.StatusGatewayTimeout, apperr.ErrorResponse{
					Error:   http.StatusText(http.StatusGatewayTimeout),
					Message: "the server did not finish the request in time",
					Code:    codeTimeout,
				})
			}
		}
	}
}

func longLived(c echo.Context) bool {
	if c.IsWebSocket() {
		return true
	}
	path := c.Request().URL.Path
	return strings.HasSuffix(path, "/ws") || strings.Contains(path, "/ws/")
}
