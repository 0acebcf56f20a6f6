package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/ingest"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/metrics"
)

const DefaultTopicPrefix = "agromesh/nodes"

// Transport is the broker side the subscriber needs.
type Transport interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
}

type Submitter interface {
	Submit(ctx context.Context, nodeID string, in data.ReadingInput, caller string) (*ingest.Result, error)
}

// Authenticator checks device credentials.
type Authenticator interface {
	ValidateJWT(token string) (*auth.Claims, error)
	ValidateAPIKey(key string) bool
}

// envelope is the device message. A device presents either a bearer token
// or an API key together with the owner it reports for.
type envelope struct {
	Token   string          `json:"token"`
	APIKey  string          `json:"apiKey"`
	OwnerID string          `json:"ownerId"`
	Reading json.RawMessage `json:"reading"`
}

// Subscriber feeds readings from <prefix>/<nodeId>/readings into intake.
type Subscriber struct {
	transport Transport
	submitter Submitter
	auth      Authenticator
	prefix    string
	qos       byte
	log       *zap.Logger
	ctx       context.Context
}

func NewSubscriber(transport Transport, submitter Submitter, authn Authenticator, prefix string, qos byte, logger *zap.Logger) *Subscriber {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Subscriber{
		transport: transport,
		submitter: submitter,
		auth:      authn,
		prefix:    prefix,
		qos:       qos,
		log:       logger.Named("mqtt"),
		ctx:       context.Background(),
	}
}

func (s *Subscriber) Topic() string {
	return s.prefix + "/+/readings"
}

// Start subscribes. Readings are submitted with ctx.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx = ingest.WithSource(ctx, "mqtt")
	if err := s.transport.Subscribe(s.Topic(), s.qos, s.handleMessage); err != nil {
		return err
	}
	s.log.Info("mqtt subscriber started", zap.String("topic", s.Topic()))
	return nil
}

func (s *Subscriber) Stop() {
	if err := s.transport.Unsubscribe(s.Topic()); err != nil {
		s.log.Warn("mqtt unsubscribe", zap.Error(err))
	}
	s.log.Info("mqtt subscriber stopped")
}

func (s *Subscriber) handleMessage(topic string, payload []byte) error {
	nodeID, err := s.nodeID(topic)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		metrics.ReadingsTotal.WithLabelValues("mqtt", "invalid").Inc()
		return fmt.Errorf("%w: malformed message on %s: %v", data.ErrValidation, topic, err)
	}
	caller, err := s.identify(env)
	if err != nil {
		metrics.ReadingsTotal.WithLabelValues("mqtt", "unauthenticated").Inc()
		return err
	}
	if len(env.Reading) == 0 {
		metrics.ReadingsTotal.WithLabelValues("mqtt", "invalid").Inc()
		return fmt.Errorf("%w: message on %s has no reading", data.ErrValidation, topic)
	}
	in, err := data.ParseReading(env.Reading)
	if err != nil {
		metrics.ReadingsTotal.WithLabelValues("mqtt", "invalid").Inc()
		return err
	}

	res, err := s.submitter.Submit(s.ctx, nodeID, in, caller)
	if err != nil {
		return fmt.Errorf("submit reading for %s: %w", nodeID, err)
	}
	s.log.Debug("mqtt reading accepted",
		zap.String("node_id", nodeID),
		zap.String("reading_id", res.Reading.ID),
		zap.Int("alerts", len(res.Alerts)),
	)
	return nil
}

func (s *Subscriber) nodeID(topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/")
	if !ok {
		return "", fmt.Errorf("%w: unexpected topic %s", data.ErrValidation, topic)
	}
	nodeID, ok := strings.CutSuffix(rest, "/readings")
	if !ok || nodeID == "" || strings.Contains(nodeID, "/") {
		return "", fmt.Errorf("%w: unexpected topic %s", data.ErrValidation, topic)
	}
	return nodeID, nil
}

func (s *Subscriber) identify(env envelope) (string, error) {
	if env.Token != "" {
		claims, err := s.auth.ValidateJWT(env.Token)
		if err != nil {
			return "", err
		}
		return claims.Username, nil
	}
	if env.APIKey != "" && s.auth.ValidateAPIKey(env.APIKey) {
		if env.OwnerID == "" {
			return "", fmt.Errorf("%w: api key requires ownerId", data.ErrAuthentication)
		}
		return env.OwnerID, nil
	}
	return "", fmt.Errorf("%w: missing or invalid device credential", data.ErrAuthentication)
}
