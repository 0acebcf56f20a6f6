// Package events defines the real-time event set. Event is a closed union:
// only the types in this file implement it, and each one declares the topics
// it is routed to.
package events

import (
	"encoding/json"
	"time"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

type Kind string

const (
	KindReadingReceived  Kind = "reading.received"
	KindNodeRegistered   Kind = "node.registered"
	KindNodeDeleted      Kind = "node.deleted"
	KindAlertCreated     Kind = "alert.created"
	KindAlertUpdated     Kind = "alert.updated"
	KindAlertsMarkedRead Kind = "alerts.markedRead"
)

type Event interface {
	Kind() Kind
	// Topics lists where the event is delivered.
	Topics() []Topic
	sealed()
}

type ReadingReceived struct {
	NodeID string              `json:"nodeId"`
	Owner  string              `json:"-"`
	Data   *data.SensorReading `json:"data"`
}

type NodeRegistered struct {
	NodeID string `json:"nodeId"`
	Name   string `json:"name"`
	Owner  string `json:"owner"`
}

type NodeDeleted struct {
	NodeID string `json:"nodeId"`
	Owner  string `json:"-"`
}

type AlertCreated struct {
	OwnerID string            `json:"ownerId"`
	Alert   data.AlertSummary `json:"alert"`
}

type AlertUpdated struct {
	AlertID string           `json:"alertId"`
	OwnerID string           `json:"ownerId"`
	Status  data.AlertStatus `json:"status"`
}

type AlertsMarkedRead struct {
	OwnerID string `json:"ownerId"`
	Count   int    `json:"count"`
}

func (ReadingReceived) Kind() Kind  { return KindReadingReceived }
func (NodeRegistered) Kind() Kind   { return KindNodeRegistered }
func (NodeDeleted) Kind() Kind      { return KindNodeDeleted }
func (AlertCreated) Kind() Kind     { return KindAlertCreated }
func (AlertUpdated) Kind() Kind     { return KindAlertUpdated }
func (AlertsMarkedRead) Kind() Kind { return KindAlertsMarkedRead }

func (e ReadingReceived) Topics() []Topic {
	return []Topic{NodeTopic(e.NodeID), DashboardTopic(e.Owner)}
}

func (e NodeRegistered) Topics() []Topic {
	return []Topic{DashboardTopic(e.Owner)}
}

func (e NodeDeleted) Topics() []Topic {
	return []Topic{NodeTopic(e.NodeID), DashboardTopic(e.Owner)}
}

func (e AlertCreated) Topics() []Topic {
	return []Topic{AlertsTopic(e.OwnerID), NodeTopic(e.Alert.NodeID), DashboardTopic(e.OwnerID)}
}

func (e AlertUpdated) Topics() []Topic {
	return []Topic{AlertsTopic(e.OwnerID), DashboardTopic(e.OwnerID)}
}

func (e AlertsMarkedRead) Topics() []Topic {
	return []Topic{AlertsTopic(e.OwnerID), DashboardTopic(e.OwnerID)}
}

func (ReadingReceived) sealed()  {}
func (NodeRegistered) sealed()   {}
func (NodeDeleted) sealed()      {}
func (AlertCreated) sealed()     {}
func (AlertUpdated) sealed()     {}
func (AlertsMarkedRead) sealed() {}

// Message is the frame written to real-time clients.
type Message struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Encode frames ev for delivery on topic.
func Encode(topic Topic, ev Event, at time.Time) ([]byte, error) {
	return json.Marshal(Message{
		Type:      string(ev.Kind()),
		Topic:     topic.WireName(),
		Payload:   ev,
		Timestamp: at.UTC(),
	})
}

// Control frames a protocol message such as welcome or pong.
func Control(msgType string, topic string, payload interface{}, at time.Time) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Topic:     topic,
		Payload:   payload,
		Timestamp: at.UTC(),
	})
}
