// Package websocket pushes live notifications to browsers. Clients join named
// broadcast groups ("patients", "lab_notifications", ...) that are always
// scoped to the clinic the connection was authenticated for.
package websocket

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/metrics"
)

// Message is what a subscribed browser receives.
type Message struct {
	Type      string          `json:"type"`
	Group     string          `json:"group"`
	Title     string          `json:"title,omitempty"`
	Body      string          `json:"body,omitempty"`
	URL       string          `json:"url,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe/unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Groups []string `json:"groups"`
}

type Client struct {
	ID       string
	ClinicID uuid.UUID
	Send     chan []byte

	groups map[string]struct{} // guarded by Hub.mu
}

func NewClient(clinicID uuid.UUID) *Client {
	return &Client{
		ID:       uuid.New().String(),
		ClinicID: clinicID,
		Send:     make(chan []byte, 256),
		groups:   make(map[string]struct{}),
	}
}

func groupKey(clinicID uuid.UUID, group string) string {
	return clinicID.String() + ":" + group
}

// Hub tracks clients and their group memberships.
type Hub struct {
	mu      sync.RWMutex
	members map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		members: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
}

// Unregister drops the client from every group and closes Send.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for g := range client.groups {
		h.leave(client, g)
	}
	delete(h.all, client)
	close(client.Send)
}

// Groups returns the unscoped group names client has joined, sorted.
func (h *Hub) Groups(client *Client) []string {
	h.mu.RLock()
	out := make([]string, 0, len(client.groups))
	for g := range client.groups {
		out = append(out, g)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (h *Hub) Join(client *Client, groups ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		key := groupKey(client.ClinicID, g)
		if h.members[key] == nil {
			h.members[key] = make(map[*Client]struct{})
		}
		h.members[key][client] = struct{}{}
		client.groups[g] = struct{}{}
	}
}

func (h *Hub) Leave(client *Client, groups ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range groups {
		h.leave(client, g)
	}
}

// leave requires h.mu held.
func (h *Hub) leave(client *Client, group string) {
	key := groupKey(client.ClinicID, group)
	if set, ok := h.members[key]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.members, key)
		}
	}
	delete(client.groups, group)
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Join(client, msg.Groups...)
	case "unsubscribe":
		h.Leave(client, msg.Groups...)
	}
}

// Broadcast delivers msg to every member of the clinic's group and returns
// how many clients accepted it. Clients with a full buffer are skipped.
func (h *Hub) Broadcast(clinicID uuid.UUID, group string, msg Message) int {
	msg.Group = group
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("group", group).Msg("marshal broadcast")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.members[groupKey(clinicID, group)] {
		select {
		case client.Send <- data:
			sent++
		default:
			metrics.PushDeliveries.WithLabelValues("websocket", "dropped").Inc()
		}
	}
	if sent > 0 {
		metrics.PushDeliveries.WithLabelValues("websocket", "ok").Add(float64(sent))
	}
	return sent
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) GroupCount(clinicID uuid.UUID, group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members[groupKey(clinicID, group)])
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Handler upgrades HTTP requests to websocket connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds a handler; an empty origins list accepts any origin.
func NewHandler(hub *Hub, origins []string) *Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

func (wh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wh.HandleConnect)
}

// HandleConnect joins the groups listed in ?groups=a,b and starts the pumps.
func (wh *Handler) HandleConnect(c echo.Context) error {
	clinicID, ok := db.ClinicFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "no clinic associated with request")
	}

	ws, err := wh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(clinicID)
	wh.hub.Register(client)
	if groups := c.QueryParam("groups"); groups != "" {
		wh.hub.Join(client, strings.Split(groups, ",")...)
	}

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)
	return nil
}

func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		wh.hub.ProcessMessage(client, msg)
	}
}

func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
