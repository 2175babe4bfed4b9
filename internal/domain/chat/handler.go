package chat

import (
	"net/http"
	"strconv"
	"time"

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

// RegisterRoutes mounts chat for any authenticated staff member.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/chat/rooms", h.ListRooms)
	api.POST("/chat/rooms", h.CreateRoom)
	api.GET("/chat/rooms/by-name/:name", h.OpenRoom)
	api.GET("/chat/rooms/:id/messages", h.History)
	api.POST("/chat/rooms/:id/messages", h.PostMessage)
}

func parseRoomID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateRoom(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.CreateRoom(c.Request().Context(), clinicID, body.Name)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) OpenRoom(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	r, err := h.svc.OpenRoom(c.Request().Context(), clinicID, c.Param("name"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRooms(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	rooms, err := h.svc.ListRooms(c.Request().Context(), clinicID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, rooms)
}

func (h *Handler) PostMessage(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	roomID, err := parseRoomID(c)
	if err != nil {
		return err
	}
	var req PostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	m, err := h.svc.PostMessage(ctx, clinicID, roomID, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) History(c echo.Context) error {
	clinicID, err := db.RequireClinic(c)
	if err != nil {
		return err
	}
	roomID, err := parseRoomID(c)
	if err != nil {
		return err
	}
	var before time.Time
	if v := c.QueryParam("before"); v != "" {
		if before, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "before must be an RFC 3339 timestamp")
		}
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
	}
	msgs, err := h.svc.History(c.Request().Context(), clinicID, roomID, before, limit)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, msgs)
}
