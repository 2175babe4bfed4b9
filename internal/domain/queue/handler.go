package queue

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist, auth.RoleLab))
	staff.POST("/queues", h.Enqueue)
	staff.GET("/queues/:type/:target", h.List)
	staff.GET("/queues/:type/:target/next", h.Next)
	staff.GET("/queue-entries/:id", h.Get)

	clinical := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleLab))
	clinical.POST("/queue-entries/:id/start", h.Start)
	clinical.POST("/queue-entries/:id/complete", h.Complete)
	clinical.POST("/queue-entries/:id/skip", h.Skip)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/queues/:type/:target/audit", h.Audit)
}

func parseTarget(c echo.Context) (Target, error) {
	id, err := uuid.Parse(c.Param("target"))
	if err != nil {
		return Target{}, echo.NewHTTPError(http.StatusBadRequest, "invalid target id")
	}
	return Target{Type: c.Param("type"), ID: id}, nil
}

func (h *Handler) Enqueue(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Enqueue(c.Request().Context(), clinicID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Get(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Get(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) List(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	target, err := parseTarget(c)
	if err != nil {
		return err
	}
	items, err := h.svc.List(c.Request().Context(), clinicID, target, c.QueryParam("status"))
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*Entry{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Next(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	target, err := parseTarget(c)
	if err != nil {
		return err
	}
	e, err := h.svc.Next(c.Request().Context(), clinicID, target)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Audit(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	target, err := parseTarget(c)
	if err != nil {
		return err
	}
	report, err := h.svc.Audit(c.Request().Context(), clinicID, target)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, report)
}

type transitionFunc func(c echo.Context, clinicID, id uuid.UUID) (*Entry, error)

func (h *Handler) transition(c echo.Context, fn transitionFunc) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := fn(c, clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Start(c echo.Context) error {
	return h.transition(c, func(c echo.Context, clinicID, id uuid.UUID) (*Entry, error) {
		return h.svc.Start(c.Request().Context(), clinicID, id)
	})
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, func(c echo.Context, clinicID, id uuid.UUID) (*Entry, error) {
		return h.svc.Complete(c.Request().Context(), clinicID, id)
	})
}

func (h *Handler) Skip(c echo.Context) error {
	return h.transition(c, func(c echo.Context, clinicID, id uuid.UUID) (*Entry, error) {
		return h.svc.Skip(c.Request().Context(), clinicID, id)
	})
}
