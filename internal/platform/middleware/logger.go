package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/internal/platform/db"
)

// Logger writes one access line per request. Server errors log at error,
// client errors at warn, and the rest at info. The clinic and user are read
// after the handler runs so values set by inner groups are included.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("component", "http").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			status := responseStatus(c, err)

			var evt *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				evt = logger.Error().Err(err)
			case status >= http.StatusBadRequest:
				evt = logger.Warn()
				if err != nil {
					evt = evt.Str("reason", err.Error())
				}
			default:
				evt = logger.Info()
			}

			rid, _ := c.Get("request_id").(string)
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("route", routeOf(c)).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			ctx := req.Context()
			if clinicID, ok := db.ClinicFromContext(ctx); ok {
				evt = evt.Str("clinic_id", clinicID.String())
			}
			if uid := auth.UserIDFromContext(ctx); uid != "" {
				evt = evt.Str("user_id", uid)
			}
			evt.Msg("request")

			return err
		}
	}
}

// responseStatus is the status the client will see once echo's error
// handler has rendered err.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	if c.Response().Committed {
		return c.Response().Status
	}
	return http.StatusInternalServerError
}

func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
