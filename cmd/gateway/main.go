// cmd/gateway/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/alerting"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/anomaly"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/api"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/config"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/ingest"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/logger"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/mqtt"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/nodes"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/notify"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/storage"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/websocket"
)

type readingStore interface {
	ingest.Readings
	nodes.Readings
}

func main() {
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "agromesh-gateway")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logr.Sync() }()

	if err := run(cfg, logr); err != nil {
		logr.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logr.Info("starting gateway",
		zap.String("config_file", cfg.File),
		zap.Bool("shared_visibility", cfg.Auth.SharedVisibility),
	)

	// --- Storage ---
	nodeStore := storage.NewMemoryNodeStore()
	alertStore := storage.NewMemoryAlertStore()

	var readings readingStore = storage.NewMemoryReadingStore(cfg.Storage.ReadingsPerNode)
	if cfg.Postgres.DSN != "" {
		db, err := storage.OpenPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		archive := storage.NewPostgresReadingArchive(db, logr)
		if err := archive.EnsureSchema(ctx); err != nil {
			return err
		}
		readings = archive
		logr.Info("reading archive on postgres")
	}

	var quiet alerting.QuietPeriod = storage.NewMemoryQuietPeriod()
	if cfg.Redis.Addr != "" {
		rdb, err := storage.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		quiet = storage.NewRedisQuietPeriod(rdb, "agromesh:quiet:")
		logr.Info("quiet period on redis", zap.String("addr", cfg.Redis.Addr))
	}

	// --- Core services ---
	gateway := auth.NewGateway(cfg.Auth, nodeStore)
	hub := websocket.NewHub(websocket.NewRegistry(), gateway, logr, websocket.WithQueueSize(cfg.Realtime.QueueSize))

	alerts := alerting.NewManager(alertStore, logr,
		alerting.WithPublisher(hub),
		alerting.WithQuietPeriod(quiet, cfg.Alerts.QuietPeriod),
		alerting.WithRetention(cfg.Alerts.Retention),
	)

	dispatcher := notify.NewDispatcher(notify.Config{
		Recorder:  alerts.Tracker(),
		Providers: providers(cfg.Notify, logr),
		Contacts:  contacts(cfg.Notify.Contacts),
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
		Timeout:   cfg.Notify.Timeout,
		Logger:    logr,
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	policy, err := cfg.Anomaly.Policy()
	if err != nil {
		return err
	}
	nodeSvc := nodes.NewService(nodeStore, readings, alerts, logr,
		nodes.WithPublisher(hub),
		nodes.WithDefaultPolicy(policy),
		nodes.WithOfflineAfter(cfg.Alerts.OfflineAfter),
	)

	intake := ingest.NewService(nodeSvc, readings, alerts, logr,
		ingest.WithDetector(anomaly.NewDetector(rules(cfg.Anomaly.Rules)...)),
		ingest.WithDispatcher(dispatcher),
		ingest.WithPublisher(hub),
	)

	go alerts.RunJanitor(ctx, cfg.Alerts.JanitorInterval)

	// --- MQTT ---
	if cfg.MQTT.Broker != "" {
		client, err := mqtt.NewClient(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logr)
		if err != nil {
			return err
		}
		defer client.Disconnect()
		sub := mqtt.NewSubscriber(client, intake, gateway, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, logr)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
	}

	// --- HTTP ---
	handler := api.NewHandler(api.Deps{
		Auth:           gateway,
		Nodes:          nodeSvc,
		Alerts:         alerts,
		Ingest:         intake,
		Hub:            hub,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		Logger:         logr,
	})

	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.Server.DataPort), Handler: api.SetupDataRouter(handler), ReadHeaderTimeout: 10 * time.Second},
		{Addr: fmt.Sprintf(":%d", cfg.Server.UIPort), Handler: api.SetupUIRouter(handler), ReadHeaderTimeout: 10 * time.Second},
	}

	errc := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			logr.Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case runErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Warn("http shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	logr.Info("gateway stopped")
	return runErr
}

// providers builds one provider per enabled channel. A channel without a
// webhook logs its notifications.
func providers(cfg config.NotifyConfig, logr *zap.Logger) map[data.Channel]notify.Provider {
	channels := map[data.Channel]config.ChannelConfig{
		data.ChannelEmail: cfg.Email,
		data.ChannelSMS:   cfg.SMS,
		data.ChannelPush:  cfg.Push,
	}
	out := make(map[data.Channel]notify.Provider, len(channels))
	for ch, cc := range channels {
		if !cc.Enabled {
			continue
		}
		if cc.WebhookURL != "" {
			out[ch] = notify.NewWebhookProvider(cc.WebhookURL, cfg.Timeout, logr)
		} else {
			out[ch] = notify.NewLogProvider(logr)
		}
	}
	return out
}

func contacts(in []config.Contact) notify.ContactBook {
	list := make([]notify.Contact, 0, len(in))
	for _, c := range in {
		list = append(list, notify.Contact{Owner: c.Owner, Email: c.Email, Phone: c.Phone, PushToken: c.PushToken})
	}
	return notify.NewContactBook(list...)
}

// rules converts configured rule rows. Config.Validate has already checked
// every field.
func rules(in []config.RuleConfig) []anomaly.Rule {
	out := make([]anomaly.Rule, 0, len(in))
	for _, rc := range in {
		metric, _ := config.LookupMetric(rc.Metric)
		typ := data.AlertType(rc.Type)
		if typ == "" {
			typ = data.AlertThreshold
		}
		out = append(out, anomaly.Rule{
			Metric:   metric,
			Bound:    anomaly.Bound(rc.Bound),
			Severity: data.Severity(rc.Severity),
			Type:     typ,
		})
	}
	return out
}
