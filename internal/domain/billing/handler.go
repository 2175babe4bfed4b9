package billing

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/paystack"
	"github.com/clinicmanager/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	desk := api.Group("", auth.RequireRole(auth.RoleAccountant, auth.RoleReceptionist))
	desk.GET("/bills", h.ListBills)
	desk.POST("/bills", h.CreateBill)
	desk.GET("/bills/:id", h.GetBill)
	desk.POST("/bills/:id/items", h.AddItem)
	desk.PUT("/bills/:id/items/:item", h.UpdateItem)
	desk.DELETE("/bills/:id/items/:item", h.RemoveItem)
	desk.POST("/bills/:id/mark-paid", h.MarkPaid)
	desk.POST("/bills/:id/pay", h.InitiatePayment)

	accounts := api.Group("", auth.RequireRole(auth.RoleAccountant))
	accounts.GET("/billing/revenue", h.RevenueReport)
	accounts.GET("/billing/transactions", h.ListGatewayTransactions)
	accounts.GET("/debt-cases", h.ListDebtCases)
	accounts.GET("/debt-cases/:id", h.GetDebtCase)
	accounts.PATCH("/debt-cases/:id", h.UpdateDebtCase)
	accounts.POST("/debt-cases/:id/followups", h.AddFollowUp)
}

// RegisterPublicRoutes mounts the gateway's callback and webhook. They carry
// no user credentials and must sit outside the auth and clinic middleware.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.GET("/billing/paystack/callback", h.Callback)
	g.POST("/billing/paystack/webhook", h.Webhook)
}

func parseUUIDParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) CreateBill(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var req CreateBillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.CreateBill(c.Request().Context(), clinicID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.GetBill(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBills(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var paid *bool
	if v := c.QueryParam("paid"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "paid must be true or false")
		}
		paid = &b
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBills(c.Request().Context(), clinicID, paid, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) AddItem(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	billID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in ItemInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, _, err := h.svc.AddItem(c.Request().Context(), clinicID, billID, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) UpdateItem(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	billID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	itemID, err := parseUUIDParam(c, "item")
	if err != nil {
		return err
	}
	var in ItemInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, _, err := h.svc.UpdateItem(c.Request().Context(), clinicID, billID, itemID, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) RemoveItem(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	billID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	itemID, err := parseUUIDParam(c, "item")
	if err != nil {
		return err
	}
	b, err := h.svc.RemoveItem(c.Request().Context(), clinicID, billID, itemID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	billID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	body := struct {
		Manual *bool `json:"manual"`
	}{}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	manual := body.Manual == nil || *body.Manual
	ctx := c.Request().Context()
	p, err := h.svc.MarkPaid(ctx, clinicID, billID, manual, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) InitiatePayment(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	billID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var req InitiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.InitiatePayment(c.Request().Context(), clinicID, billID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func parseDate(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "dates must be YYYY-MM-DD")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (h *Handler) RevenueReport(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	from, err := parseDate(c.QueryParam("start"), false)
	if err != nil {
		return err
	}
	to, err := parseDate(c.QueryParam("end"), true)
	if err != nil {
		return err
	}
	r, err := h.svc.RevenueReport(c.Request().Context(), clinicID, from, to)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListGatewayTransactions(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	n, _ := strconv.Atoi(c.QueryParam("n"))
	txns, err := h.svc.ListGatewayTransactions(c.Request().Context(), clinicID, n)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, txns)
}

func (h *Handler) ListDebtCases(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDebtCases(c.Request().Context(), clinicID, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetDebtCase(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDebtCase(c.Request().Context(), clinicID, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDebtCase(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in DebtCaseUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.UpdateDebtCase(c.Request().Context(), clinicID, id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) AddFollowUp(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var f FollowUp
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.AddFollowUp(ctx, clinicID, id, &f, auth.UserIDFromContext(ctx)); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, f)
}

// Callback handles the payer's redirect back from checkout; the reference
// only tells us which payment to verify.
func (h *Handler) Callback(c echo.Context) error {
	ref := c.QueryParam("trxref")
	if ref == "" {
		ref = c.QueryParam("reference")
	}
	p, err := h.svc.ConfirmPayment(c.Request().Context(), ref)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"reference": p.Reference,
		"status":    p.Status,
		"bill_id":   p.BillID,
	})
}

func (h *Handler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if err := h.svc.HandleWebhook(c.Request().Context(), body, c.Request().Header.Get(paystack.SignatureHeader)); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusOK)
}
