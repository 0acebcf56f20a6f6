package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/events"
)

// Handshake carries the credentials a real-time client presents when it
// connects: an Authorization header or a token query parameter.
type Handshake struct {
	Authorization string
	Token         string
}

func HandshakeFromRequest(r *http.Request) Handshake {
	return Handshake{
		Authorization: r.Header.Get("Authorization"),
		Token:         r.URL.Query().Get("token"),
	}
}

// Session is one authenticated real-time connection.
type Session struct {
	ConnectionID string    `json:"connectionId"`
	Identity     string    `json:"identity"`
	Role         string    `json:"role"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Authenticate validates the handshake credential and opens a session. The
// header wins over the query parameter when both are present.
func (g *Gateway) Authenticate(h Handshake) (*Session, error) {
	token := extractBearer(h.Authorization)
	if token == "" {
		token = strings.TrimSpace(h.Token)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing credential", data.ErrAuthentication)
	}
	claims, err := g.ValidateJWT(token)
	if err != nil {
		return nil, err
	}
	return &Session{
		ConnectionID: uuid.NewString(),
		Identity:     claims.Username,
		Role:         claims.Role,
		ExpiresAt:    time.Unix(claims.ExpiresAt, 0),
	}, nil
}

// ResolveTopic parses a client topic name and applies the session's scope.
// The bare "alerts" name means the caller's own feed, or the all-owners feed
// under shared visibility.
func (g *Gateway) ResolveTopic(s *Session, wireName string) (events.Topic, error) {
	topic, err := events.ParseWireName(wireName)
	if err != nil {
		return events.Topic{}, err
	}
	if topic.Kind == events.TopicAlerts && topic.ID == "" {
		if g.config.SharedVisibility {
			topic = events.SharedAlertsTopic()
		} else {
			topic = events.AlertsTopic(s.Identity)
		}
	}
	if !g.Authorize(s, topic) {
		return events.Topic{}, fmt.Errorf("%w: %s", data.ErrOwnership, wireName)
	}
	return topic, nil
}

// Authorize reports whether the session may follow topic. Dashboards are
// always limited to their owner.
func (g *Gateway) Authorize(s *Session, topic events.Topic) bool {
	if s == nil || s.Identity == "" || s.Expired(g.now()) {
		return false
	}
	switch topic.Kind {
	case events.TopicDashboard:
		return topic.ID == s.Identity
	case events.TopicAlerts:
		if topic.ID == s.Identity {
			return true
		}
		return g.config.SharedVisibility && topic.Shared()
	case events.TopicNode:
		if g.config.SharedVisibility {
			return true
		}
		if g.owners == nil {
			return false
		}
		owner, ok := g.owners.NodeOwner(topic.ID)
		return ok && owner == s.Identity
	}
	return false
}

func extractBearer(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
