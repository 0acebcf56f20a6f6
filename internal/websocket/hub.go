// internal/websocket/hub.go
package websocket

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/events"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/metrics"
)

// Server message types besides events.
const (
	MsgWelcome               = "welcome"
	MsgSubscriptionConfirmed = "subscription_confirmed"
	MsgSubscriptionError     = "subscription_error"
	MsgUnsubscribed          = "unsubscribed"
	MsgPong                  = "pong"
	MsgError                 = "error"
)

// ErrDisconnected is returned for operations on a client that has left.
var ErrDisconnected = errors.New("client disconnected")

// Authorizer maps a client topic name to a topic the session may follow.
type Authorizer interface {
	ResolveTopic(s *auth.Session, wireName string) (events.Topic, error)
}

type HubOption func(*Hub)

// WithQueueSize sets the per-client outbound queue bound.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// Hub fans events out to subscribed clients. Delivery is best-effort: no
// persistence, no replay, and a slow client only loses its own oldest
// messages.
type Hub struct {
	registry  *Registry
	authz     Authorizer
	log       *zap.Logger
	queueSize int
	now       func() time.Time
}

func NewHub(registry *Registry, authz Authorizer, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		registry:  registry,
		authz:     authz,
		log:       logger.Named("hub"),
		queueSize: DefaultQueueSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers an authenticated session and queues its welcome message.
// conn may be nil when the caller drives the client without a socket.
func (h *Hub) Connect(s *auth.Session, conn *websocket.Conn) *Client {
	c := newClient(h, conn, s, h.queueSize)
	h.registry.Add(c)
	metrics.HubSessions.Inc()
	h.control(c, MsgWelcome, "", map[string]interface{}{
		"connectionId": s.ConnectionID,
		"identity":     s.Identity,
		"expiresAt":    s.ExpiresAt,
	})
	c.log.Info("client connected")
	return c
}

// Serve runs the client's pumps and returns when the connection ends.
func (h *Hub) Serve(c *Client) {
	go c.WritePump()
	c.ReadPump()
}

// Subscribe adds c to topic. Subscribing twice is a no-op.
func (h *Hub) Subscribe(c *Client, t events.Topic) error {
	added, ok := h.registry.Subscribe(c, t)
	if !ok {
		return ErrDisconnected
	}
	if added {
		metrics.HubSubscriptions.Inc()
	}
	return nil
}

// Unsubscribe removes c from topic. Unsubscribing twice is a no-op.
func (h *Hub) Unsubscribe(c *Client, t events.Topic) {
	if h.registry.Unsubscribe(c, t) {
		metrics.HubSubscriptions.Dec()
	}
}

// Disconnect removes every subscription of c, discards its pending messages
// and stops its writer. Safe to call more than once.
func (h *Hub) Disconnect(c *Client) {
	topics := h.registry.Remove(c)
	if len(topics) > 0 {
		metrics.HubSubscriptions.Sub(float64(len(topics)))
	}
	if c.close() {
		metrics.HubSessions.Dec()
		c.log.Info("client disconnected", zap.Int("topics", len(topics)))
	}
}

// Heartbeat answers a client ping.
func (h *Hub) Heartbeat(c *Client) {
	h.control(c, MsgPong, "", nil)
}

// Publish delivers ev to every client subscribed to topic at the time of the
// call and returns how many clients it was queued for. A client reached
// through more than one fan-out key gets one copy.
func (h *Hub) Publish(t events.Topic, ev events.Event) int {
	msg, err := events.Encode(t, ev, h.now())
	if err != nil {
		h.log.Error("encode event", zap.String("kind", string(ev.Kind())), zap.Error(err))
		return 0
	}

	delivered := 0
	seen := make(map[*Client]struct{})
	for _, key := range t.Fanout() {
		h.registry.ForEach(key, func(c *Client) {
			if _, dup := seen[c]; dup {
				return
			}
			seen[c] = struct{}{}
			if c.enqueue(msg) {
				delivered++
			}
		})
	}
	metrics.HubDeliveredTotal.WithLabelValues(string(ev.Kind())).Add(float64(delivered))
	return delivered
}

// Emit publishes ev on every topic it is routed to.
func (h *Hub) Emit(ev events.Event) int {
	total := 0
	for _, t := range ev.Topics() {
		if t.ID == "" {
			continue
		}
		total += h.Publish(t, ev)
	}
	return total
}

// Counts returns connected clients and live subscriptions.
func (h *Hub) Counts() (clients, subscriptions int) {
	return h.registry.Counts()
}

func (h *Hub) handle(c *Client, msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		t, err := h.authz.ResolveTopic(c.session, msg.Topic)
		if err == nil {
			err = h.Subscribe(c, t)
		}
		if err != nil {
			c.log.Debug("subscription refused", zap.String("topic", msg.Topic), zap.Error(err))
			h.control(c, MsgSubscriptionError, msg.Topic, map[string]string{"error": subscriptionErrorText(err)})
			return
		}
		h.control(c, MsgSubscriptionConfirmed, msg.Topic, nil)

	case "unsubscribe":
		t, err := h.authz.ResolveTopic(c.session, msg.Topic)
		if err != nil {
			h.control(c, MsgSubscriptionError, msg.Topic, map[string]string{"error": subscriptionErrorText(err)})
			return
		}
		h.Unsubscribe(c, t)
		h.control(c, MsgUnsubscribed, msg.Topic, nil)

	case "ping":
		h.Heartbeat(c)

	default:
		h.sendError(c, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func subscriptionErrorText(err error) string {
	switch {
	case errors.Is(err, data.ErrOwnership):
		return "not authorized for topic"
	case errors.Is(err, data.ErrValidation):
		return "unknown topic"
	default:
		return "subscription failed"
	}
}

func (h *Hub) sendError(c *Client, text string) {
	h.control(c, MsgError, "", map[string]string{"error": text})
}

func (h *Hub) control(c *Client, msgType, topic string, payload interface{}) {
	msg, err := events.Control(msgType, topic, payload, h.now())
	if err != nil {
		h.log.Error("encode control message", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.enqueue(msg)
}
