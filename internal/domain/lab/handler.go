package lab

import (
	"net/http"
	"strconv"
	"strings"

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
	read := api.Group("", auth.RequireRole(auth.RoleLab, auth.RoleDoctor, auth.RoleNurse))
	read.GET("/lab/tests", h.ListTests)
	read.GET("/lab/dashboard", h.Dashboard)
	read.GET("/consultations/:id/lab-results", h.ForConsultation)

	bench := api.Group("", auth.RequireRole(auth.RoleLab))
	bench.POST("/consultations/:id/lab-results", h.Record)
	bench.PATCH("/lab/results/:id", h.UpdateResult)
	bench.DELETE("/lab/results/:id", h.DeleteResult)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/lab/tests", h.CreateTest)
	admin.PATCH("/lab/tests/:id", h.SetTestActive)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateTest(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var in TestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.CreateTest(c.Request().Context(), clinicID, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTests(c echo.Context) error {
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
	out, err := h.svc.ListTests(c.Request().Context(), clinicID, activeOnly)
	if err != nil {
		return apperr.HTTP(err)
	}
	if out == nil {
		out = []*Test{}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SetTestActive(c echo.Context) error {
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
	if err := c.Bind(&body); err != nil || body.IsActive == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "is_active is required")
	}
	t, err := h.svc.SetTestActive(c.Request().Context(), clinicID, id, *body.IsActive)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Record(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	consultationID, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Results []ResultInput `json:"results"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.svc.RecordResults(ctx, clinicID, consultationID, body.Results, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ForConsultation(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	consultationID, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.ResultsForConsultation(c.Request().Context(), clinicID, consultationID)
	if err != nil {
		return apperr.HTTP(err)
	}
	if out == nil {
		out = []*Result{}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateResult(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ResultUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.UpdateResult(c.Request().Context(), clinicID, id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteResult(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteResult(c.Request().Context(), clinicID, id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Dashboard(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	out, total, err := h.svc.Dashboard(c.Request().Context(), clinicID, strings.TrimSpace(c.QueryParam("search")), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg))
}
