package specialist

import (
	"net/http"
	"strconv"

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
	board := api.Group("", auth.RequireRole(auth.RoleSpecialist, auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	board.GET("/specialists/services", h.ListServices)
	board.GET("/specialists/tasks", h.ListTasks)
	board.POST("/specialists/tasks", h.CreateTask)
	board.GET("/specialists/tasks/:id", h.GetTask)

	work := api.Group("", auth.RequireRole(auth.RoleSpecialist, auth.RoleNurse))
	work.POST("/specialists/tasks/:id/start", h.Start)
	work.POST("/specialists/tasks/:id/complete", h.Complete)
	work.POST("/specialists/tasks/:id/cancel", h.Cancel)
	work.PUT("/specialists/tasks/:id/service", h.AssignService)
	work.POST("/specialists/tasks/:id/bill", h.BillTask)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/specialists/services", h.CreateService)
	admin.PATCH("/specialists/services/:id", h.SetServiceActive)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateService(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var e CatalogEntry
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateService(c.Request().Context(), clinicID, &e); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListServices(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	activeOnly := true
	if v := c.QueryParam("all"); v != "" {
		all, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "all must be true or false")
		}
		activeOnly = !all
	}
	out, err := h.svc.ListServices(c.Request().Context(), clinicID, c.QueryParam("role"), activeOnly)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SetServiceActive(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.IsActive == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "is_active is required")
	}
	e, err := h.svc.SetServiceActive(c.Request().Context(), clinicID, id, *body.IsActive)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) CreateTask(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.CreateTask(c.Request().Context(), clinicID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTask(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTask(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTasks(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	f := TaskFilter{
		Role:       c.QueryParam("role"),
		Status:     c.QueryParam("status"),
		AssignedTo: c.QueryParam("assigned_to"),
	}
	if c.QueryParam("mine") == "true" {
		f.AssignedTo = auth.UserIDFromContext(c.Request().Context())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTasks(c.Request().Context(), clinicID, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type transitionFunc func(s *Service, c echo.Context, clinicID, id uuid.UUID) (*Task, error)

func (h *Handler) transition(c echo.Context, fn transitionFunc) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := fn(h.svc, c, clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Start(c echo.Context) error {
	return h.transition(c, func(s *Service, c echo.Context, clinicID, id uuid.UUID) (*Task, error) {
		return s.Start(c.Request().Context(), clinicID, id)
	})
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, func(s *Service, c echo.Context, clinicID, id uuid.UUID) (*Task, error) {
		return s.Complete(c.Request().Context(), clinicID, id)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, func(s *Service, c echo.Context, clinicID, id uuid.UUID) (*Task, error) {
		return s.Cancel(c.Request().Context(), clinicID, id)
	})
}

func (h *Handler) AssignService(c echo.Context) error {
	return h.transition(c, func(s *Service, c echo.Context, clinicID, id uuid.UUID) (*Task, error) {
		var body struct {
			ServiceID *uuid.UUID `json:"service_id"`
		}
		if err := c.Bind(&body); err != nil {
			return nil, apperr.Invalid("%s", err.Error())
		}
		return s.AssignService(c.Request().Context(), clinicID, id, body.ServiceID)
	})
}

func (h *Handler) BillTask(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.BillTask(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}
