package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

func TestParseWireName(t *testing.T) {
	cases := []struct {
		in   string
		want Topic
	}{
		{"sensor_node-1", NodeTopic("node-1")},
		{"dashboard_user_7", DashboardTopic("user_7")},
		{"alerts", Topic{Kind: TopicAlerts}},
		{"node:abc", NodeTopic("abc")},
		{"alerts:owner-1", AlertsTopic("owner-1")},
	}
	for _, tc := range cases {
		got, err := ParseWireName(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "sensor_", "weather_x", "node:"} {
		_, err := ParseWireName(bad)
		assert.ErrorIs(t, err, data.ErrValidation, bad)
	}
}

func TestTopicWireNameRoundTrip(t *testing.T) {
	for _, topic := range []Topic{NodeTopic("n1"), DashboardTopic("u1")} {
		got, err := ParseWireName(topic.WireName())
		require.NoError(t, err)
		assert.Equal(t, topic, got)
	}
	assert.Equal(t, "alerts", AlertsTopic("u1").WireName())
}

func TestFanout(t *testing.T) {
	assert.Equal(t, []Topic{AlertsTopic("u1"), SharedAlertsTopic()}, AlertsTopic("u1").Fanout())
	assert.Equal(t, []Topic{SharedAlertsTopic()}, SharedAlertsTopic().Fanout())
	assert.Equal(t, []Topic{NodeTopic("n1")}, NodeTopic("n1").Fanout())
}

func TestEventRouting(t *testing.T) {
	var ev Event = AlertCreated{OwnerID: "u1", Alert: data.AlertSummary{ID: "a1", NodeID: "n1"}}
	assert.ElementsMatch(t, []Topic{AlertsTopic("u1"), NodeTopic("n1"), DashboardTopic("u1")}, ev.Topics())

	ev = ReadingReceived{NodeID: "n1", Owner: "u1"}
	assert.ElementsMatch(t, []Topic{NodeTopic("n1"), DashboardTopic("u1")}, ev.Topics())
}

func TestEncodeAlertUpdated(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	raw, err := Encode(AlertsTopic("u1"), AlertUpdated{AlertID: "A1", OwnerID: "u1", Status: data.AlertResolved}, at)
	require.NoError(t, err)

	var msg struct {
		Type    string          `json:"type"`
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "alert.updated", msg.Type)
	assert.Equal(t, "alerts", msg.Topic)
	assert.JSONEq(t, `{"alertId":"A1","ownerId":"u1","status":"resolved"}`, string(msg.Payload))
}
