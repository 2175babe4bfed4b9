package clinic

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts clinic management. These routes span clinics, so
// they need the platform role rather than a clinic admin.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	platform := api.Group("", auth.RequireRole(auth.RolePlatform))
	platform.POST("/clinics", h.CreateClinic)
	platform.GET("/clinics", h.ListClinics)
	platform.GET("/clinics/:id", h.GetClinic)
	platform.POST("/clinics/:id/subaccount", h.ProvisionSubaccount)
}

func (h *Handler) CreateClinic(c echo.Context) error {
	var cl Clinic
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl.PaystackSubaccountCode = nil
	cl.PaystackRaw = nil
	if err := h.svc.Create(c.Request().Context(), &cl); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClinic(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cl, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListClinics(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ProvisionSubaccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cl, err := h.svc.ProvisionSubaccount(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}
