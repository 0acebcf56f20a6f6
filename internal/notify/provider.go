// Package notify delivers alert notifications over external providers and
// records each attempt on the alert.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

// Message is what a provider sends for one alert on one channel.
type Message struct {
	AlertID     string         `json:"alertId"`
	Owner       string         `json:"ownerId"`
	NodeID      string         `json:"nodeId"`
	Channel     data.Channel   `json:"channel"`
	Destination string         `json:"destination"`
	Type        data.AlertType `json:"type"`
	Severity    data.Severity  `json:"severity"`
	Title       string         `json:"title"`
	Body        string         `json:"message"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Provider delivers a message. Retrying is up to the provider.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookProvider posts messages as JSON to a delivery gateway (mail relay,
// SMS aggregator, push service).
type WebhookProvider struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

func NewWebhookProvider(url string, timeout time.Duration, logger *zap.Logger) *WebhookProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookProvider{client: client, url: url, logger: logger}
}

func (p *WebhookProvider) Send(ctx context.Context, msg Message) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(p.url)
	if err != nil {
		p.logger.Warn("webhook call failed",
			zap.String("alert_id", msg.AlertID),
			zap.String("channel", string(msg.Channel)),
			zap.Error(err),
		)
		return fmt.Errorf("post %s webhook: %w", msg.Channel, err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(resp.String())
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("%s webhook returned %d: %s", msg.Channel, resp.StatusCode(), body)
	}
	p.logger.Debug("webhook delivered",
		zap.String("alert_id", msg.AlertID),
		zap.String("channel", string(msg.Channel)),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}

// LogProvider writes the message to the log instead of delivering it. It
// backs channels that are enabled without a webhook.
type LogProvider struct {
	logger *zap.Logger
}

func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Send(_ context.Context, msg Message) error {
	p.logger.Info("notification",
		zap.String("alert_id", msg.AlertID),
		zap.String("channel", string(msg.Channel)),
		zap.String("destination", msg.Destination),
		zap.String("severity", string(msg.Severity)),
		zap.String("title", msg.Title),
	)
	return nil
}

// Contact holds where an owner receives notifications.
type Contact struct {
	Owner     string
	Email     string
	Phone     string
	PushToken string
}

// ContactBook resolves an owner's destination per channel.
type ContactBook map[string]Contact

func NewContactBook(contacts ...Contact) ContactBook {
	b := make(ContactBook, len(contacts))
	for _, c := range contacts {
		if c.Owner != "" {
			b[c.Owner] = c
		}
	}
	return b
}

func (b ContactBook) Destination(owner string, ch data.Channel) (string, bool) {
	c, ok := b[owner]
	if !ok {
		return "", false
	}
	var dest string
	switch ch {
	case data.ChannelEmail:
		dest = c.Email
	case data.ChannelSMS:
		dest = c.Phone
	case data.ChannelPush:
		dest = c.PushToken
	}
	return dest, dest != ""
}
