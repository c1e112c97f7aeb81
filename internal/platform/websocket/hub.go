// Package websocket pushes queue events to display boards and apps. Clients
// join clinic rooms; the hub subscribes to the event bus and forwards every
// envelope to the members of its room.
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/muslih-a/appklinik/internal/platform/events"
	"github.com/muslih-a/appklinik/internal/platform/metrics"
)

// Frame is what clients receive.
type Frame struct {
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
}

// ClientMessage is an inbound room command.
type ClientMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

const (
	ActionJoinRoom  = "joinRoom"
	ActionLeaveRoom = "leaveRoom"
)

// Client is one websocket connection. Send is buffered; a client that falls
// behind loses frames rather than slowing the hub.
type Client struct {
	ID       string
	UserID   string
	Role     string
	ClinicID string
	Rooms    []string
	Send     chan []byte
}

func NewClient(id string, buffer int) *Client {
	return &Client{ID: id, Send: make(chan []byte, buffer)}
}

// RoomPolicy decides whether a client may join a room.
type RoomPolicy func(c *Client, room string) bool

// AllowAll is the policy for public display connections, which are bound to
// a single room by the server.
func AllowAll(*Client, string) bool { return true }

type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	policy  RoomPolicy
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewHub(policy RoomPolicy, logger zerolog.Logger, m *metrics.Metrics) *Hub {
	if policy == nil {
		policy = AllowAll
	}
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		policy:  policy,
		logger:  logger.With().Str("component", "websocket").Logger(),
		metrics: m,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.all[client] = struct{}{}
	for _, room := range client.Rooms {
		h.addLocked(client, room)
	}
	n := len(h.all)
	h.mu.Unlock()

	h.metrics.SetWSClients(n)
}

// Unregister removes the client from every room and closes Send.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.all[client]; !ok {
		h.mu.Unlock()
		return
	}
	for _, room := range client.Rooms {
		h.removeLocked(client, room)
	}
	delete(h.all, client)
	close(client.Send)
	n := len(h.all)
	h.mu.Unlock()

	h.metrics.SetWSClients(n)
}

func (h *Hub) addLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
}

func (h *Hub) removeLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Join adds client to room if the policy allows it. Joining twice is a no-op.
func (h *Hub) Join(client *Client, room string) bool {
	if room == "" || !h.policy(client, room) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return false
	}
	if _, already := h.rooms[room][client]; already {
		return true
	}
	h.addLocked(client, room)
	client.Rooms = append(client.Rooms, room)
	return true
}

func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(client, room)
	remaining := client.Rooms[:0]
	for _, r := range client.Rooms {
		if r != room {
			remaining = append(remaining, r)
		}
	}
	client.Rooms = remaining
}

// ProcessMessage applies a room command and returns the acknowledgement frame
// to send back, if any.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) *Frame {
	switch msg.Action {
	case ActionJoinRoom:
		if !h.Join(client, msg.Room) {
			return ackFrame("joinRejected", msg.Room)
		}
		return ackFrame("joinedRoom", msg.Room)
	case ActionLeaveRoom:
		h.Leave(client, msg.Room)
		return ackFrame("leftRoom", msg.Room)
	default:
		return nil
	}
}

func ackFrame(event, room string) *Frame {
	return &Frame{Event: event, Room: room, Data: json.RawMessage(`{}`)}
}

// Deliver implements events.Subscriber.
func (h *Hub) Deliver(env events.Envelope) {
	data, err := json.Marshal(Frame{Event: env.Event, Room: env.Topic, Data: env.Data})
	if err != nil {
		h.logger.Error().Err(err).Str("event", env.Event).Msg("encode frame")
		return
	}
	h.Broadcast(env.Topic, data)
}

// Broadcast queues data for every member of room without blocking.
func (h *Hub) Broadcast(room string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[room] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("room", room).Msg("client buffer full, dropping frame")
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
