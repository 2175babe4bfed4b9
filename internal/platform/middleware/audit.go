package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/internal/platform/db"
)

// Audit logs every state-changing API call with the acting user and clinic.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("component", "audit").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutation(req.Method) || !strings.HasPrefix(req.URL.Path, "/api/") {
				return next(c)
			}

			err := next(c)

			ctx := c.Request().Context()
			status := responseStatus(c, err)
			rid, _ := c.Get("request_id").(string)

			evt := logger.Info().
				Str("request_id", rid).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("roles", auth.RolesFromContext(ctx)).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", status)
			if clinicID, ok := db.ClinicFromContext(ctx); ok {
				evt = evt.Str("clinic_id", clinicID.String())
			}
			evt.Msg("audit")

			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
