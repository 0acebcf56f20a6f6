package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/ingest"
)

type fakeTransport struct {
	topic        string
	qos          byte
	handler      MessageHandler
	unsubscribed []string
}

func (f *fakeTransport) Subscribe(topic string, qos byte, h MessageHandler) error {
	f.topic, f.qos, f.handler = topic, qos, h
	return nil
}

func (f *fakeTransport) Unsubscribe(topics ...string) error {
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

type submission struct {
	nodeID string
	caller string
	in     data.ReadingInput
	ctx    context.Context
}

type fakeSubmitter struct {
	mu   sync.Mutex
	subs []submission
	err  error
}

func (f *fakeSubmitter) Submit(ctx context.Context, nodeID string, in data.ReadingInput, caller string) (*ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.subs = append(f.subs, submission{nodeID: nodeID, caller: caller, in: in, ctx: ctx})
	return &ingest.Result{Reading: &data.SensorReading{ID: "r1", NodeID: nodeID}}, nil
}

func setup(t *testing.T) (*fakeTransport, *fakeSubmitter, *auth.Gateway) {
	t.Helper()
	gw := auth.NewGateway(auth.Config{JWTSecret: "mqtt-secret", JWTExpiration: 60, APIKeys: []string{"device-key"}}, nil)
	tr := &fakeTransport{}
	sub := &fakeSubmitter{}
	s := NewSubscriber(tr, sub, gw, "agromesh/nodes/", 1, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	return tr, sub, gw
}

func payload(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSubscriberTopic(t *testing.T) {
	tr, _, _ := setup(t)
	assert.Equal(t, "agromesh/nodes/+/readings", tr.topic)
	assert.Equal(t, byte(1), tr.qos)
}

func TestHandleMessageWithToken(t *testing.T) {
	tr, sub, gw := setup(t)
	token, _, err := gw.GenerateJWT("alice", "owner")
	require.NoError(t, err)

	msg := payload(t, map[string]interface{}{
		"token":   token,
		"reading": map[string]interface{}{"soilMoisture": 15, "temperature": 22.5},
	})
	require.NoError(t, tr.handler("agromesh/nodes/node-a/readings", msg))

	require.Len(t, sub.subs, 1)
	got := sub.subs[0]
	assert.Equal(t, "node-a", got.nodeID)
	assert.Equal(t, "alice", got.caller)
	v, ok := got.in.Metrics.Value(data.MetricSoilMoisture)
	assert.True(t, ok)
	assert.Equal(t, 15.0, v)
}

func TestHandleMessageWithAPIKey(t *testing.T) {
	tr, sub, _ := setup(t)

	msg := payload(t, map[string]interface{}{
		"apiKey":  "device-key",
		"ownerId": "bob",
		"reading": map[string]interface{}{"ph": 6.2},
	})
	require.NoError(t, tr.handler("agromesh/nodes/node-b/readings", msg))
	require.Len(t, sub.subs, 1)
	assert.Equal(t, "bob", sub.subs[0].caller)

	noOwner := payload(t, map[string]interface{}{"apiKey": "device-key", "reading": map[string]interface{}{"ph": 6.2}})
	assert.ErrorIs(t, tr.handler("agromesh/nodes/node-b/readings", noOwner), data.ErrAuthentication)
}

func TestHandleMessageRejects(t *testing.T) {
	tr, sub, gw := setup(t)
	token, _, err := gw.GenerateJWT("alice", "owner")
	require.NoError(t, err)
	reading := map[string]interface{}{"soilMoisture": 30}

	cases := []struct {
		name    string
		topic   string
		payload []byte
		want    error
	}{
		{"bad token", "agromesh/nodes/node-a/readings", payload(t, map[string]interface{}{"token": "nope", "reading": reading}), data.ErrAuthentication},
		{"bad api key", "agromesh/nodes/node-a/readings", payload(t, map[string]interface{}{"apiKey": "stolen", "ownerId": "alice", "reading": reading}), data.ErrAuthentication},
		{"no credential", "agromesh/nodes/node-a/readings", payload(t, map[string]interface{}{"reading": reading}), data.ErrAuthentication},
		{"malformed", "agromesh/nodes/node-a/readings", []byte(`{token`), data.ErrValidation},
		{"no reading", "agromesh/nodes/node-a/readings", payload(t, map[string]interface{}{"token": token}), data.ErrValidation},
		{"foreign topic", "other/node-a/readings", payload(t, map[string]interface{}{"token": token, "reading": reading}), data.ErrValidation},
		{"nested node", "agromesh/nodes/a/b/readings", payload(t, map[string]interface{}{"token": token, "reading": reading}), data.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tr.handler(tc.topic, tc.payload), tc.want)
		})
	}
	assert.Empty(t, sub.subs)
}

func TestHandleMessagePropagatesIntakeErrors(t *testing.T) {
	tr, sub, gw := setup(t)
	sub.err = data.ErrOwnership
	token, _, err := gw.GenerateJWT("mallory", "owner")
	require.NoError(t, err)

	msg := payload(t, map[string]interface{}{"token": token, "reading": map[string]interface{}{"soilMoisture": 30}})
	assert.ErrorIs(t, tr.handler("agromesh/nodes/node-a/readings", msg), data.ErrOwnership)
}

func TestStopUnsubscribes(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSubscriber(tr, &fakeSubmitter{}, nil, "", 0, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	assert.Equal(t, []string{DefaultTopicPrefix + "/+/readings"}, tr.unsubscribed)
}
