package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/muslih-a/appklinik/internal/platform/metrics"
)

// Metrics records request count and latency by route template, so
// /appointments/:id is one series regardless of the id.
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(c.Request().Method, route, responseStatus(c, err), time.Since(start))
			return err
		}
	}
}
