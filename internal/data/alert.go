// internal/data/alert.go
package data

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Escalated returns the next severity up. critical has no successor.
func (s Severity) Escalated() (Severity, bool) {
	for i, v := range severityOrder {
		if v == s && i+1 < len(severityOrder) {
			return severityOrder[i+1], true
		}
	}
	return s, false
}

func (s Severity) Valid() bool {
	for _, v := range severityOrder {
		if v == s {
			return true
		}
	}
	return false
}

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertDismissed    AlertStatus = "dismissed"
)

// Terminal reports whether no further transition is permitted.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertDismissed
}

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertActive, AlertAcknowledged, AlertResolved, AlertDismissed:
		return true
	}
	return false
}

type AlertType string

const (
	AlertIrrigation   AlertType = "irrigation"
	AlertPestRisk     AlertType = "pestRisk"
	AlertAnomaly      AlertType = "anomaly"
	AlertAISuggestion AlertType = "aiSuggestion"
	AlertSystem       AlertType = "system"
	AlertMaintenance  AlertType = "maintenance"
	AlertThreshold    AlertType = "threshold"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertIrrigation, AlertPestRisk, AlertAnomaly, AlertAISuggestion, AlertSystem, AlertMaintenance, AlertThreshold:
		return true
	}
	return false
}

type ActionType string

const (
	ActionAcknowledge ActionType = "acknowledge"
	ActionResolve     ActionType = "resolve"
	ActionDismiss     ActionType = "dismiss"
	ActionEscalate    ActionType = "escalate"
)

// AlertAction is one audit-trail entry of an alert.
type AlertAction struct {
	Action      ActionType `json:"action"`
	PerformedBy string     `json:"performedBy"`
	PerformedAt time.Time  `json:"performedAt"`
	Notes       string     `json:"notes,omitempty"`
}

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

func (c Channel) Valid() bool {
	return c == ChannelPush || c == ChannelSMS || c == ChannelEmail
}

// NotificationRecord tracks a dispatch attempt on one channel.
type NotificationRecord struct {
	Channel     Channel    `json:"channel"`
	Sent        bool       `json:"sent"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	Destination string     `json:"destination,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// AlertMetadata describes the reading value that raised a threshold alert.
type AlertMetadata struct {
	Metric    Metric  `json:"metric,omitempty"`
	Value     float64 `json:"value"`
	Bound     string  `json:"bound,omitempty"`
	Threshold float64 `json:"threshold"`
}

type Alert struct {
	ID            string                         `json:"id"`
	Type          AlertType                      `json:"type"`
	Severity      Severity                       `json:"severity"`
	Title         string                         `json:"title"`
	Message       string                         `json:"message"`
	Owner         string                         `json:"owner"`
	NodeID        string                         `json:"nodeId"`
	ReadingID     string                         `json:"readingId,omitempty"`
	Status        AlertStatus                    `json:"status"`
	IsRead        bool                           `json:"isRead"`
	Actions       []AlertAction                  `json:"actions"`
	Notifications map[Channel]NotificationRecord `json:"notifications"`
	Metadata      AlertMetadata                  `json:"metadata"`
	CreatedAt     time.Time                      `json:"createdAt"`
	UpdatedAt     time.Time                      `json:"updatedAt"`
	ExpiresAt     *time.Time                     `json:"expiresAt,omitempty"`
}

// Clone returns a deep copy; callers outside a store only ever see copies.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	out := *a
	out.Actions = append([]AlertAction(nil), a.Actions...)
	out.Notifications = make(map[Channel]NotificationRecord, len(a.Notifications))
	for ch, rec := range a.Notifications {
		if rec.SentAt != nil {
			at := *rec.SentAt
			rec.SentAt = &at
		}
		out.Notifications[ch] = rec
	}
	if a.ExpiresAt != nil {
		at := *a.ExpiresAt
		out.ExpiresAt = &at
	}
	return &out
}

// LastAction returns the most recent audit entry, if any.
func (a *Alert) LastAction() (AlertAction, bool) {
	if len(a.Actions) == 0 {
		return AlertAction{}, false
	}
	return a.Actions[len(a.Actions)-1], true
}

// AlertSummary is the shape returned to API clients.
type AlertSummary struct {
	ID        string        `json:"id"`
	Type      AlertType     `json:"type"`
	Severity  Severity      `json:"severity"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Status    AlertStatus   `json:"status"`
	IsRead    bool          `json:"isRead"`
	CreatedAt time.Time     `json:"createdAt"`
	NodeID    string        `json:"nodeId"`
	Metadata  AlertMetadata `json:"metadata"`
}

func (a *Alert) Summary() AlertSummary {
	return AlertSummary{
		ID:        a.ID,
		Type:      a.Type,
		Severity:  a.Severity,
		Title:     a.Title,
		Message:   a.Message,
		Status:    a.Status,
		IsRead:    a.IsRead,
		CreatedAt: a.CreatedAt,
		NodeID:    a.NodeID,
		Metadata:  a.Metadata,
	}
}

// AlertFilter selects an owner's alerts. Zero fields match everything; a
// zero Limit returns all matches.
type AlertFilter struct {
	Owner  string
	Status AlertStatus
	Type   AlertType
	NodeID string
	Limit  int
	Offset int
}

func (f AlertFilter) Match(a *Alert) bool {
	if f.Owner != "" && a.Owner != f.Owner {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	return f.NodeID == "" || a.NodeID == f.NodeID
}
