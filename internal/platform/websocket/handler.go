package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/muslih-a/appklinik/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS layer and the token; display boards
	// are served from arbitrary hosts.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClinicRoomPolicy lets clinic staff join only their own clinic's room.
// Patients and platform admins may join any room.
func ClinicRoomPolicy(c *Client, room string) bool {
	switch c.Role {
	case auth.RoleDoctor, auth.RoleAdminKlinik:
		return c.ClinicID != "" && c.ClinicID == room
	case auth.RoleAdmin, auth.RolePatient:
		return true
	default:
		return false
	}
}

// DisplayResolver maps a public display key to a clinic id.
type DisplayResolver func(ctx context.Context, displayKey string) (string, error)

type Handler struct {
	hub     *Hub
	resolve DisplayResolver
	logger  zerolog.Logger
}

func NewHandler(hub *Hub, resolve DisplayResolver, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, resolve: resolve, logger: logger.With().Str("component", "websocket").Logger()}
}

// RegisterRoutes mounts the authenticated endpoint. g must carry the auth
// middleware.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// RegisterPublicRoutes mounts the display board endpoint, which needs no
// token and is pinned to the clinic behind the display key.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.GET("/ws/display/:displayKey", h.HandleDisplay)
}

func (h *Handler) HandleConnect(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.NewString(), sendBuffer)
	client.UserID = actor.UserID
	client.Role = actor.Role
	client.ClinicID = actor.ClinicID
	h.hub.Register(client)
	if actor.ClinicID != "" {
		h.hub.Join(client, actor.ClinicID)
	}

	go h.writePump(client, ws)
	go h.readPump(client, ws, true)
	return nil
}

func (h *Handler) HandleDisplay(c echo.Context) error {
	clinicID, err := h.resolve(c.Request().Context(), c.Param("displayKey"))
	if err != nil || clinicID == "" {
		return echo.NewHTTPError(http.StatusNotFound, "display not found")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.NewString(), sendBuffer)
	client.Rooms = []string{clinicID}
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws, false)
	return nil
}

// readPump handles room commands until the connection drops. Display
// connections may not change rooms, so their commands are ignored.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn, commands bool) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client_id", client.ID).Msg("connection closed")
			}
			return
		}
		if !commands {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if ack := h.hub.ProcessMessage(client, msg); ack != nil {
			data, _ := json.Marshal(ack)
			select {
			case client.Send <- data:
			default:
			}
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
