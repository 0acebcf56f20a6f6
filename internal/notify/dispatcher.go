package notify

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/metrics"
)

var errNoDestination = errors.New("no destination for owner")

// Recorder stores the outcome of each dispatch on its alert.
type Recorder interface {
	RecordDispatch(ctx context.Context, alertID string, channel data.Channel, destination string) error
	RecordFailure(ctx context.Context, alertID string, channel data.Channel, destination string, cause error) error
}

// Config holds dispatcher configuration
type Config struct {
	Recorder  Recorder
	Providers map[data.Channel]Provider // enabled channels only
	Contacts  ContactBook
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Dispatcher fans alert notifications out to providers on a bounded worker
// pool. Enqueueing never blocks: when the queue is full the job is dropped
// and counted.
type Dispatcher struct {
	recorder  Recorder
	providers map[data.Channel]Provider
	channels  []data.Channel
	contacts  ContactBook
	workers   int
	timeout   time.Duration
	log       *zap.Logger

	mu      sync.RWMutex
	jobs    chan Message
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	channels := make([]data.Channel, 0, len(cfg.Providers))
	for ch := range cfg.Providers {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		recorder:  cfg.Recorder,
		providers: cfg.Providers,
		channels:  channels,
		contacts:  cfg.Contacts,
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		log:       cfg.Logger.Named("notify"),
		jobs:      make(chan Message, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Channels lists the enabled channels.
func (d *Dispatcher) Channels() []data.Channel {
	return append([]data.Channel(nil), d.channels...)
}

func (d *Dispatcher) Start() {
	d.log.Info("starting dispatcher",
		zap.Int("workers", d.workers),
		zap.Int("queue_size", cap(d.jobs)),
		zap.Int("channels", len(d.channels)),
	)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop refuses new jobs, lets workers finish what is queued, then returns.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
	d.log.Info("dispatcher stopped",
		zap.Uint64("processed", d.processed.Load()),
		zap.Uint64("failed", d.failed.Load()),
	)
}

// Enqueue schedules a notification of a on every enabled channel and
// returns how many jobs were accepted.
func (d *Dispatcher) Enqueue(a *data.Alert) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return 0
	}

	accepted := 0
	for _, ch := range d.channels {
		dest, _ := d.contacts.Destination(a.Owner, ch)
		msg := Message{
			AlertID:     a.ID,
			Owner:       a.Owner,
			NodeID:      a.NodeID,
			Channel:     ch,
			Destination: dest,
			Type:        a.Type,
			Severity:    a.Severity,
			Title:       a.Title,
			Body:        a.Message,
			CreatedAt:   a.CreatedAt,
		}
		select {
		case d.jobs <- msg:
			accepted++
		default:
			d.dropped.Add(1)
			metrics.DispatchTotal.WithLabelValues(string(ch), "dropped").Inc()
			d.log.Warn("dispatch queue full, notification dropped",
				zap.String("alert_id", a.ID),
				zap.String("channel", string(ch)),
			)
		}
	}
	metrics.DispatchQueueSize.Set(float64(len(d.jobs)))
	return accepted
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	log := d.log.With(zap.Int("worker_id", id))
	for msg := range d.jobs {
		metrics.DispatchQueueSize.Set(float64(len(d.jobs)))
		d.process(log, msg)
	}
}

// process delivers one message. A panicking provider costs that message,
// not the worker.
func (d *Dispatcher) process(log *zap.Logger, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panic recovered",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			metrics.PanicsRecovered.WithLabelValues("notify_worker").Inc()
			d.failed.Add(1)
		}
	}()

	err := errNoDestination
	if msg.Destination != "" {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		err = d.providers[msg.Channel].Send(ctx, msg)
		cancel()
	}

	if err != nil {
		d.failed.Add(1)
		metrics.DispatchTotal.WithLabelValues(string(msg.Channel), "failed").Inc()
		log.Warn("notification failed",
			zap.String("alert_id", msg.AlertID),
			zap.String("channel", string(msg.Channel)),
			zap.Error(err),
		)
		if rerr := d.recorder.RecordFailure(d.ctx, msg.AlertID, msg.Channel, msg.Destination, err); rerr != nil {
			log.Warn("record failure", zap.String("alert_id", msg.AlertID), zap.Error(rerr))
		}
		return
	}

	d.processed.Add(1)
	metrics.DispatchTotal.WithLabelValues(string(msg.Channel), "sent").Inc()
	if rerr := d.recorder.RecordDispatch(d.ctx, msg.AlertID, msg.Channel, msg.Destination); rerr != nil {
		log.Warn("record dispatch", zap.String("alert_id", msg.AlertID), zap.Error(rerr))
	}
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

type Stats struct {
	Processed uint64
	Failed    uint64
	Dropped   uint64
}
