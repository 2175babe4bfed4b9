package inventory

import (
	"bytes"
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
	floor := api.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleDoctor, auth.RoleNurse, auth.RoleLab))
	floor.GET("/inventory/items", h.ListItems)
	floor.GET("/inventory/items/:id", h.GetItem)
	floor.GET("/inventory/items/:id/stock", h.StockLevels)
	floor.GET("/inventory/locations", h.ListLocations)
	floor.GET("/inventory/low-stock", h.LowStock)
	floor.POST("/inventory/consume", h.Consume)
	floor.GET("/inventory/consumption/:id", h.ConsultationConsumption)

	store := api.Group("", auth.RequireRole(auth.RolePharmacist))
	store.POST("/inventory/items", h.CreateItem)
	store.POST("/inventory/locations", h.CreateLocation)
	store.GET("/inventory/suppliers", h.ListSuppliers)
	store.POST("/inventory/suppliers", h.CreateSupplier)
	store.GET("/inventory/suppliers/:id", h.GetSupplier)
	store.POST("/inventory/movements", h.Move)
	store.GET("/inventory/movements", h.ListMovements)
	store.GET("/inventory/purchase-orders", h.ListPurchaseOrders)
	store.POST("/inventory/purchase-orders", h.CreatePurchaseOrder)
	store.GET("/inventory/purchase-orders/:id", h.GetPurchaseOrder)
	store.POST("/inventory/purchase-orders/:id/order", h.MarkOrdered)
	store.POST("/inventory/purchase-orders/:id/receive", h.ReceivePurchaseOrder)
	store.POST("/inventory/purchase-orders/:id/cancel", h.CancelPurchaseOrder)
	store.GET("/inventory/export.csv", h.ExportCSV)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateItem(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var it Item
	if err := c.Bind(&it); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateItem(c.Request().Context(), clinicID, &it); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, it)
}

func (h *Handler) GetItem(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	it, err := h.svc.GetItem(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) ListItems(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListItems(c.Request().Context(), clinicID, c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) StockLevels(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	levels, err := h.svc.StockLevels(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, levels)
}

func (h *Handler) LowStock(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	items, err := h.svc.LowStockItems(c.Request().Context(), clinicID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateLocation(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var l Location
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateLocation(c.Request().Context(), clinicID, &l); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListLocations(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	locs, err := h.svc.ListLocations(c.Request().Context(), clinicID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, locs)
}

func (h *Handler) CreateSupplier(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var s Supplier
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateSupplier(c.Request().Context(), clinicID, &s); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSupplier(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	s, err := h.svc.GetSupplier(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListSuppliers(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSuppliers(c.Request().Context(), clinicID, c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Move(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var req MoveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	m, err := h.svc.Move(ctx, clinicID, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Consume(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var req ConsumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	m, err := h.svc.Consume(ctx, clinicID, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

// ConsultationConsumption lists stock used by the consultation in :id.
func (h *Handler) ConsultationConsumption(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	used, err := h.svc.ConsultationConsumption(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, used)
}

func (h *Handler) ListMovements(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var itemID *uuid.UUID
	if v := c.QueryParam("item_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid item_id")
		}
		itemID = &id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMovements(c.Request().Context(), clinicID, itemID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CreatePurchaseOrder(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var req PurchaseOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	po, err := h.svc.CreatePurchaseOrder(ctx, clinicID, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, po)
}

func (h *Handler) GetPurchaseOrder(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	po, err := h.svc.GetPurchaseOrder(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, po)
}

func (h *Handler) ListPurchaseOrders(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPurchaseOrders(c.Request().Context(), clinicID,
		c.QueryParam("status"), c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type poAction func(h *Handler, c echo.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error)

func (h *Handler) poStatus(c echo.Context, fn poAction) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	po, err := fn(h, c, clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, po)
}

func (h *Handler) MarkOrdered(c echo.Context) error {
	return h.poStatus(c, func(h *Handler, c echo.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
		return h.svc.MarkOrdered(c.Request().Context(), clinicID, id)
	})
}

func (h *Handler) CancelPurchaseOrder(c echo.Context) error {
	return h.poStatus(c, func(h *Handler, c echo.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
		return h.svc.CancelPurchaseOrder(c.Request().Context(), clinicID, id)
	})
}

func (h *Handler) ReceivePurchaseOrder(c echo.Context) error {
	return h.poStatus(c, func(h *Handler, c echo.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
		ctx := c.Request().Context()
		return h.svc.ReceivePurchaseOrder(ctx, clinicID, id, auth.UserIDFromContext(ctx))
	})
}

func (h *Handler) ExportCSV(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(c.Request().Context(), clinicID, &buf); err != nil {
		return apperr.HTTP(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="inventory.csv"`)
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}
