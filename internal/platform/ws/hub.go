// Package ws pushes committed engine mutations to dashboard clients over
// WebSockets. Clients subscribe to per-clinic topics and receive an event
// for every flow, occupancy, assignment and layout change, which lets
// dashboards refresh without waiting for the next poll cycle.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Event is a committed engine mutation pushed to dashboard subscribers.
type Event struct {
	Topic      string    `json:"topic"`
	Subject    string    `json:"subject"` // FLOW | OCCUPANCY | ASSIGNMENT | LAYOUT
	SubjectID  string    `json:"subject_id"`
	FromValue  string    `json:"from_value,omitempty"`
	ToValue    string    `json:"to_value,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ClinicTopic names the broadcast topic for a clinic's dashboard stream.
func ClinicTopic(clinicID uuid.UUID) string {
	return "clinic/" + clinicID.String()
}

// subscribeMessage is the only inbound message clients send.
type subscribeMessage struct {
	Action string   `json:"action"` // subscribe | unsubscribe
	Topics []string `json:"topics"`
}

type client struct {
	id     string
	topics map[string]struct{}
	send   chan []byte
}

// Hub tracks dashboard connections and their topic subscriptions. All
// operations are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	logger zerolog.Logger
	byTopic map[string]map[*client]struct{}
	all     map[*client]struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		byTopic: make(map[string]map[*client]struct{}),
		all:     make(map[*client]struct{}),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.dropSubLocked(topic, c)
	}
	delete(h.all, c)
	close(c.send)
}

func (h *Hub) dropSubLocked(topic string, c *client) {
	if subs, ok := h.byTopic[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byTopic, topic)
		}
	}
}

func (h *Hub) handleMessage(c *client, msg subscribeMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, topic := range msg.Topics {
			if h.byTopic[topic] == nil {
				h.byTopic[topic] = make(map[*client]struct{})
			}
			h.byTopic[topic][c] = struct{}{}
			c.topics[topic] = struct{}{}
		}
	case "unsubscribe":
		for _, topic := range msg.Topics {
			h.dropSubLocked(topic, c)
			delete(c.topics, topic)
		}
	}
}

// Publish broadcasts an event to every subscriber of its topic. Slow
// clients are skipped rather than blocking the committing request.
func (h *Hub) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("ws: marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.byTopic[event.Topic] {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTopic[topic])
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades dashboard connections and runs their read/write pumps.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/dashboard", h.Connect)
}

func (h *Handler) Connect(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := &client{
		id:     uuid.NewString(),
		topics: make(map[string]struct{}),
		send:   make(chan []byte, 256),
	}
	h.hub.register(cl)

	go h.writePump(cl, conn)
	go h.readPump(cl, conn)
	return nil
}

func (h *Handler) readPump(cl *client, conn *gorillaws.Conn) {
	defer func() {
		h.hub.unregister(cl)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg subscribeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // ignore malformed messages
		}
		h.hub.handleMessage(cl, msg)
	}
}

func (h *Handler) writePump(cl *client, conn *gorillaws.Conn) {
	defer conn.Close()

	for message := range cl.send {
		if err := conn.WriteMessage(gorillaws.TextMessage, message); err != nil {
			break
		}
	}
}
