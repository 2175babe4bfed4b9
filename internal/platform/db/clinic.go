package db

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ClinicIDKey contextKey = "clinic_id"
	DBTxKey     contextKey = "db_tx"
	commitKey   contextKey = "db_after_commit"
)

// ClinicHeader is honoured only when the middleware is built with
// allowHeader, which the server does in development.
const ClinicHeader = "X-Clinic-ID"

// ClinicMiddleware resolves the clinic (tenant) of the request and stores it
// in the request context. Requests without a resolvable clinic are rejected.
func ClinicMiddleware(allowHeader bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := extractClinicID(c, allowHeader)
			if raw == "" {
				return echo.NewHTTPError(http.StatusForbidden, "no clinic associated with request")
			}
			clinicID, err := uuid.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic identifier")
			}

			ctx := WithClinic(c.Request().Context(), clinicID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(string(ClinicIDKey), clinicID)

			return next(c)
		}
	}
}

func extractClinicID(c echo.Context, allowHeader bool) string {
	// JWT claim set by the auth middleware always wins.
	if cid, ok := c.Get("jwt_clinic_id").(string); ok && cid != "" {
		return cid
	}
	if allowHeader {
		return c.Request().Header.Get(ClinicHeader)
	}
	return ""
}

// WithClinic returns a context carrying clinicID.
func WithClinic(ctx context.Context, clinicID uuid.UUID) context.Context {
	return context.WithValue(ctx, ClinicIDKey, clinicID)
}

// ClinicFromContext retrieves the clinic ID stored by ClinicMiddleware.
func ClinicFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ClinicIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// RequireClinic returns the clinic of an echo request or a 403 error.
func RequireClinic(c echo.Context) (uuid.UUID, error) {
	id, ok := ClinicFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no clinic associated with request")
	}
	return id, nil
}
