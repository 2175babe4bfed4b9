package prescription

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
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePharmacist, auth.RoleNurse))
	read.GET("/consultations/:id/prescriptions", h.ForConsultation)
	read.GET("/prescriptions", h.List)
	read.GET("/prescriptions/:id", h.Get)

	api.POST("/consultations/:id/prescriptions", h.Prescribe, auth.RequireRole(auth.RoleDoctor))
	api.POST("/prescriptions/:id/dispense", h.Dispense, auth.RequireRole(auth.RolePharmacist))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Prescribe(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	consultationID, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Items []Line `json:"items"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.svc.Prescribe(ctx, clinicID, consultationID, body.Items, auth.UserIDFromContext(ctx))
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
	out, err := h.svc.ForConsultation(c.Request().Context(), clinicID, consultationID)
	if err != nil {
		return apperr.HTTP(err)
	}
	if out == nil {
		out = []*Prescription{}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) List(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var f Filter
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("dispensed"); v != "" {
		d, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "dispensed must be true or false")
		}
		f.Dispensed = &d
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), clinicID, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Dispense(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Dispense(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}
