package notification

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.POST("/notifications/:id/read", h.MarkRead)
	api.POST("/notifications/read-all", h.MarkAllRead)
	api.POST("/save-subscription", h.SaveSubscription)
	api.GET("/webpush/vapid-public-key", h.VAPIDPublicKey)
}

// List shows the caller's inbox. Admins may read another recipient's inbox
// or a group's with ?recipient= and ?group=.
func (h *Handler) List(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	f := Filter{
		Recipient:  auth.UserIDFromContext(ctx),
		UnreadOnly: c.QueryParam("unread") == "true",
	}
	if auth.HasRole(ctx, auth.RoleAdmin) {
		if v := c.QueryParam("recipient"); v != "" {
			f.Recipient = v
		}
		if v := c.QueryParam("group"); v != "" {
			f.Recipient, f.Group = "", v
		}
	}
	if f.Recipient == "" && f.Group == "" {
		return echo.NewHTTPError(http.StatusForbidden, "no recipient for request")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(ctx, clinicID, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) MarkRead(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkRead(c.Request().Context(), clinicID, id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	n, err := h.svc.MarkAllRead(ctx, clinicID, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

// SaveSubscription answers 201 for subscribe and 202 for unsubscribe.
func (h *Handler) SaveSubscription(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var req SubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	created, err := h.svc.SaveSubscription(ctx, clinicID, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	if created {
		return c.JSON(http.StatusCreated, map[string]string{"status": "subscribed"})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "unsubscribed"})
}

func (h *Handler) VAPIDPublicKey(c echo.Context) error {
	key, err := h.svc.VAPIDPublicKey(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"public_key": key})
}
