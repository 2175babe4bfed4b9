package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicmanager/clinic/internal/platform/metrics"
)

// Metrics records request counts and latency by route template.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := responseStatus(c, err)
			route := routeOf(c)
			method := c.Request().Method

			metrics.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
