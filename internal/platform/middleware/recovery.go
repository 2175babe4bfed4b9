package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/metrics"
)

const stackSize = 8 << 10

// Recovery turns a handler panic into a 500 and logs the goroutine stack
// alongside the route and clinic that triggered it.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("component", "recovery").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				buf := make([]byte, stackSize)
				buf = buf[:runtime.Stack(buf, false)]
				route := routeOf(c)

				rid, _ := c.Get("request_id").(string)
				evt := logger.Error().
					Str("request_id", rid).
					Str("route", route).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", buf)
				if clinicID, ok := db.ClinicFromContext(c.Request().Context()); ok {
					evt = evt.Str("clinic_id", clinicID.String())
				}
				evt.Msg("panic recovered")

				metrics.PanicsRecovered.WithLabelValues(route).Inc()
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
