package events

import (
	"fmt"
	"strings"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

type TopicKind string

const (
	TopicNode      TopicKind = "node"
	TopicAlerts    TopicKind = "alerts"
	TopicDashboard TopicKind = "dashboard"
)

const allOwners = "*"

// Topic is a logical delivery channel: node:<id>, alerts:<owner> or
// dashboard:<owner>. The alerts topic with owner "*" is the shared feed every
// owner's alerts are also delivered to.
type Topic struct {
	Kind TopicKind
	ID   string
}

func NodeTopic(nodeID string) Topic { return Topic{Kind: TopicNode, ID: nodeID} }
func AlertsTopic(owner string) Topic { return Topic{Kind: TopicAlerts, ID: owner} }
func DashboardTopic(owner string) Topic { return Topic{Kind: TopicDashboard, ID: owner} }
func SharedAlertsTopic() Topic { return Topic{Kind: TopicAlerts, ID: allOwners} }
func (t Topic) Shared() bool { return t.Kind == TopicAlerts && t.ID == allOwners }
func (t Topic) Key() string { return string(t.Kind) + ":" + t.ID }
func (t Topic) String() string { return t.Key() }

// WireName is the name clients use on the real-time channel.
func (t Topic) WireName() string {
	switch t.Kind {
	case TopicNode:
		return "sensor_" + t.ID
	case TopicDashboard:
		return "dashboard_" + t.ID
	default:
		return "alerts"
	}
}

// Fanout lists the registry keys a publish to t reaches. An owner's alerts
// also reach the shared alerts feed.
func (t Topic) Fanout() []Topic {
	if t.Kind == TopicAlerts && !t.Shared() {
		return []Topic{t, SharedAlertsTopic()}
	}
	return []Topic{t}
}

// ParseWireName parses a client-supplied topic. The bare "alerts" name comes
// back with an empty ID; the session gateway decides which alerts feed it means.
func ParseWireName(name string) (Topic, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "alerts":
		return Topic{Kind: TopicAlerts}, nil
	case strings.HasPrefix(name, "sensor_"):
		return nonEmpty(TopicNode, strings.TrimPrefix(name, "sensor_"), name)
	case strings.HasPrefix(name, "dashboard_"):
		return nonEmpty(TopicDashboard, strings.TrimPrefix(name, "dashboard_"), name)
	}
	if kind, id, ok := strings.Cut(name, ":"); ok {
		switch TopicKind(kind) {
		case TopicNode, TopicAlerts, TopicDashboard:
			return nonEmpty(TopicKind(kind), id, name)
		}
	}
	return Topic{}, fmt.Errorf("%w: unknown topic %q", data.ErrValidation, name)
}

func nonEmpty(kind TopicKind, id, name string) (Topic, error) {
	if id == "" {
		return Topic{}, fmt.Errorf("%w: topic %q has no id", data.ErrValidation, name)
	}
	return Topic{Kind: kind, ID: id}, nil
}
