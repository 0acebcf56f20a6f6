package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/events"
)

type ownerMap map[string]string

func (m ownerMap) NodeOwner(nodeID string) (string, bool) {
	owner, ok := m[nodeID]
	return owner, ok
}

type frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func newTestHub(t *testing.T, shared bool, opts ...HubOption) (*Hub, *auth.Gateway) {
	t.Helper()
	gw := auth.NewGateway(auth.Config{
		JWTSecret:        "hub-secret",
		JWTExpiration:    60,
		SharedVisibility: shared,
	}, ownerMap{"node-a": "alice", "node-b": "bob"})
	return NewHub(NewRegistry(), gw, zap.NewNop(), opts...), gw
}

func session(t *testing.T, gw *auth.Gateway, user string) *auth.Session {
	t.Helper()
	token, _, err := gw.GenerateJWT(user, "owner")
	require.NoError(t, err)
	s, err := gw.Authenticate(auth.Handshake{Token: token})
	require.NoError(t, err)
	return s
}

func frames(t *testing.T, c *Client) []frame {
	t.Helper()
	var out []frame
	for _, raw := range c.drain() {
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

// connect opens a client and discards its welcome message.
func connect(t *testing.T, h *Hub, gw *auth.Gateway, user string) *Client {
	t.Helper()
	c := h.Connect(session(t, gw, user), nil)
	got := frames(t, c)
	require.Len(t, got, 1)
	require.Equal(t, MsgWelcome, got[0].Type)
	return c
}

func TestConnectSendsWelcome(t *testing.T) {
	h, gw := newTestHub(t, false)
	s := session(t, gw, "alice")
	c := h.Connect(s, nil)

	got := frames(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, MsgWelcome, got[0].Type)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, s.ConnectionID, payload["connectionId"])
	assert.Equal(t, "alice", payload["identity"])

	clients, subs := h.Counts()
	assert.Equal(t, 1, clients)
	assert.Equal(t, 0, subs)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h, gw := newTestHub(t, false)
	c := connect(t, h, gw, "alice")

	require.NoError(t, h.Subscribe(c, events.NodeTopic("node-a")))
	require.NoError(t, h.Subscribe(c, events.NodeTopic("node-a")))
	_, subs := h.Counts()
	assert.Equal(t, 1, subs)

	h.Unsubscribe(c, events.NodeTopic("node-a"))
	h.Unsubscribe(c, events.NodeTopic("node-a"))
	_, subs = h.Counts()
	assert.Equal(t, 0, subs)
}

func TestPublishReachesOnlySubscribers(t *testing.T) {
	h, gw := newTestHub(t, false)
	alice := connect(t, h, gw, "alice")
	bob := connect(t, h, gw, "bob")

	h.handle(alice, clientMessage{Type: "subscribe", Topic: "alerts"})
	h.handle(bob, clientMessage{Type: "subscribe", Topic: "sensor_node-b"})
	for _, c := range []*Client{alice, bob} {
		got := frames(t, c)
		require.Len(t, got, 1)
		require.Equal(t, MsgSubscriptionConfirmed, got[0].Type)
	}

	n := h.Publish(events.AlertsTopic("alice"), events.AlertUpdated{AlertID: "A1", OwnerID: "alice", Status: data.AlertResolved})
	assert.Equal(t, 1, n)

	got := frames(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, string(events.KindAlertUpdated), got[0].Type)
	assert.Equal(t, "alerts", got[0].Topic)
	var payload events.AlertUpdated
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, "A1", payload.AlertID)
	assert.Equal(t, data.AlertResolved, payload.Status)

	assert.Empty(t, frames(t, bob))
}

func TestUnsubscribeBeforePublishStopsDelivery(t *testing.T) {
	h, gw := newTestHub(t, false)
	c := connect(t, h, gw, "alice")
	topic := events.NodeTopic("node-a")

	require.NoError(t, h.Subscribe(c, topic))
	h.Unsubscribe(c, topic)

	ev := events.ReadingReceived{NodeID: "node-a", Owner: "alice", Data: &data.SensorReading{NodeID: "node-a"}}
	assert.Equal(t, 0, h.Publish(topic, ev))
	assert.Empty(t, frames(t, c))
}

func TestSlowClientDropsOldest(t *testing.T) {
	h, gw := newTestHub(t, false, WithQueueSize(3))
	c := connect(t, h, gw, "alice")
	require.NoError(t, h.Subscribe(c, events.DashboardTopic("alice")))

	for i := 1; i <= 5; i++ {
		h.Publish(events.DashboardTopic("alice"), events.AlertsMarkedRead{OwnerID: "alice", Count: i})
	}

	got := frames(t, c)
	require.Len(t, got, 3)
	for i, f := range got {
		var payload events.AlertsMarkedRead
		require.NoError(t, json.Unmarshal(f.Payload, &payload))
		assert.Equal(t, i+3, payload.Count)
	}
	assert.Equal(t, uint64(2), c.Dropped())
}

func TestSlowClientDoesNotAffectOthers(t *testing.T) {
	h, gw := newTestHub(t, true, WithQueueSize(2))
	slow := connect(t, h, gw, "alice")
	fast := connect(t, h, gw, "bob")
	require.NoError(t, h.Subscribe(slow, events.NodeTopic("node-a")))
	require.NoError(t, h.Subscribe(fast, events.NodeTopic("node-a")))

	ev := events.NodeDeleted{NodeID: "node-a", Owner: "alice"}
	for i := 0; i < 4; i++ {
		assert.Equal(t, 2, h.Publish(events.NodeTopic("node-a"), ev))
		assert.Len(t, frames(t, fast), 1)
	}
	assert.Len(t, frames(t, slow), 2)
	assert.Equal(t, uint64(2), slow.Dropped())
	assert.Zero(t, fast.Dropped())
}

func TestDisconnectRemovesSubscriptions(t *testing.T) {
	h, gw := newTestHub(t, false)
	c := connect(t, h, gw, "alice")
	require.NoError(t, h.Subscribe(c, events.NodeTopic("node-a")))
	require.NoError(t, h.Subscribe(c, events.DashboardTopic("alice")))

	h.Disconnect(c)
	h.Disconnect(c)

	clients, subs := h.Counts()
	assert.Zero(t, clients)
	assert.Zero(t, subs)
	assert.Equal(t, 0, h.Emit(events.NodeDeleted{NodeID: "node-a", Owner: "alice"}))
	assert.ErrorIs(t, h.Subscribe(c, events.NodeTopic("node-a")), ErrDisconnected)

	select {
	case <-c.Done():
	default:
		t.Fatal("client not closed")
	}
}

func TestSubscribeOutsideScopeIsRefused(t *testing.T) {
	h, gw := newTestHub(t, false)
	c := connect(t, h, gw, "alice")

	for _, topic := range []string{"sensor_node-b", "dashboard_bob", "alerts:bob", "alerts:*", "weather"} {
		h.handle(c, clientMessage{Type: "subscribe", Topic: topic})
		got := frames(t, c)
		require.Len(t, got, 1, topic)
		assert.Equal(t, MsgSubscriptionError, got[0].Type, topic)
		assert.Equal(t, topic, got[0].Topic)
	}
	_, subs := h.Counts()
	assert.Zero(t, subs)
}

func TestSharedAlertsFeed(t *testing.T) {
	h, gw := newTestHub(t, true)
	alice := connect(t, h, gw, "alice")
	bob := connect(t, h, gw, "bob")

	h.handle(alice, clientMessage{Type: "subscribe", Topic: "alerts"})
	h.handle(bob, clientMessage{Type: "subscribe", Topic: "alerts"})
	frames(t, alice)
	frames(t, bob)

	n := h.Publish(events.AlertsTopic("alice"), events.AlertUpdated{AlertID: "A1", OwnerID: "alice", Status: data.AlertAcknowledged})
	assert.Equal(t, 2, n)
	assert.Len(t, frames(t, alice), 1)
	assert.Len(t, frames(t, bob), 1)
}

func TestOwnAndSharedAlertsDeliverOnce(t *testing.T) {
	h, gw := newTestHub(t, true)
	c := connect(t, h, gw, "alice")
	require.NoError(t, h.Subscribe(c, events.AlertsTopic("alice")))
	require.NoError(t, h.Subscribe(c, events.SharedAlertsTopic()))

	assert.Equal(t, 1, h.Publish(events.AlertsTopic("alice"), events.AlertsMarkedRead{OwnerID: "alice", Count: 1}))
	assert.Len(t, frames(t, c), 1)
}

func TestEmitRoutesToEveryTopic(t *testing.T) {
	h, gw := newTestHub(t, false)
	c := connect(t, h, gw, "alice")
	require.NoError(t, h.Subscribe(c, events.NodeTopic("node-a")))
	require.NoError(t, h.Subscribe(c, events.DashboardTopic("alice")))

	ev := events.AlertCreated{OwnerID: "alice", Alert: data.AlertSummary{ID: "A1", NodeID: "node-a"}}
	assert.Equal(t, 2, h.Emit(ev))

	got := frames(t, c)
	require.Len(t, got, 2)
	topics := []string{got[0].Topic, got[1].Topic}
	assert.ElementsMatch(t, []string{"sensor_node-a", "dashboard_alice"}, topics)
}

func TestClientProtocol(t *testing.T) {
	h, gw := newTestHub(t, false)
	c := connect(t, h, gw, "alice")

	h.handle(c, clientMessage{Type: "ping"})
	h.handle(c, clientMessage{Type: "subscribe", Topic: "dashboard_alice"})
	h.handle(c, clientMessage{Type: "unsubscribe", Topic: "dashboard_alice"})
	h.handle(c, clientMessage{Type: "shout"})

	got := frames(t, c)
	require.Len(t, got, 4)
	assert.Equal(t, MsgPong, got[0].Type)
	assert.Equal(t, MsgSubscriptionConfirmed, got[1].Type)
	assert.Equal(t, MsgUnsubscribed, got[2].Type)
	assert.Equal(t, MsgError, got[3].Type)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	h, gw := newTestHub(t, true, WithQueueSize(8))
	clients := make([]*Client, 8)
	for i := range clients {
		clients[i] = connect(t, h, gw, fmt.Sprintf("user-%d", i))
	}
	topic := events.NodeTopic("node-a")
	ev := events.NodeDeleted{NodeID: "node-a", Owner: "alice"}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(2)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = h.Subscribe(c, topic)
				h.Unsubscribe(c, topic)
			}
		}(c)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h.Publish(topic, ev)
			}
		}()
	}
	wg.Wait()

	for _, c := range clients {
		h.Disconnect(c)
	}
	clientsLeft, subs := h.Counts()
	assert.Zero(t, clientsLeft)
	assert.Zero(t, subs)
}

func TestWebsocketEndToEnd(t *testing.T) {
	h, gw := newTestHub(t, false)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := gw.Authenticate(auth.HandshakeFromRequest(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(h.Connect(s, conn))
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bogus", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, _, err := gw.GenerateJWT("alice", "owner")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() frame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	assert.Equal(t, MsgWelcome, read().Type)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "subscribe", Topic: "sensor_node-a"}))
	confirmed := read()
	assert.Equal(t, MsgSubscriptionConfirmed, confirmed.Type)
	assert.Equal(t, "sensor_node-a", confirmed.Topic)

	v := 42.0
	reading := &data.SensorReading{ID: "r1", NodeID: "node-a", Metrics: data.Metrics{SoilMoisture: &v}}
	assert.Equal(t, 1, h.Emit(events.ReadingReceived{NodeID: "node-a", Owner: "alice", Data: reading}))

	got := read()
	assert.Equal(t, string(events.KindReadingReceived), got.Type)
	assert.Equal(t, "sensor_node-a", got.Topic)
	var payload struct {
		NodeID string `json:"nodeId"`
	}
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "node-a", payload.NodeID)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "ping"}))
	assert.Equal(t, MsgPong, read().Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		clients, _ := h.Counts()
		return clients == 0
	}, 5*time.Second, 10*time.Millisecond)
}
