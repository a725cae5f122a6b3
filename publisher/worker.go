package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/ripple/encoding"
	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default interval between scan rounds when no change signal arrives
	DefaultPollInterval = time.Second
	// Default number of published notification keys remembered
	DefaultDedupCacheSize = 100000
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before giving up on a publish operation
	DefaultMaxRetries = 100
	// Default bound on a single publish attempt
	DefaultPublishTimeout = 10 * time.Second
)

var errWorkerStopped = errors.New("worker stopped")

// WorkerConfig configures the notification publisher worker
type WorkerConfig struct {
	Name            string        // Sink name
	Source          Source        // Reduced notification stream
	Hub             *notify.Hub   // Change signals that trigger an early round (optional)
	Sink            Sink          // Destination sink
	Filter          Filter        // Notification filter
	TopicPrefix     string        // Topic prefix (e.g., "ripple.notify")
	NodeID          uint64        // Stamped on every event
	PollInterval    time.Duration // Interval between rounds without signals
	DedupCacheSize  int           // Published keys remembered across rounds
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum retry attempts
	PublishTimeout  time.Duration // Bound on one publish attempt
}

// WorkerStats counts what a worker did since it was created
type WorkerStats struct {
	Rounds     uint64 `json:"rounds"`
	Published  uint64 `json:"published"`
	Duplicates uint64 `json:"duplicates"`
	Filtered   uint64 `json:"filtered"`
	Failures   uint64 `json:"failures"`
}

// Worker scans the reduced notification stream and publishes every
// surfacing notification it has not published before.
//
// Delivery is at-least-once: the dedup cache is in memory, so a restart or
// an eviction republishes notifications that are still pending.
type Worker struct {
	config WorkerConfig
	seen   *lru.Cache[string, struct{}]

	rounds     atomic.Uint64
	published  atomic.Uint64
	duplicates atomic.Uint64
	filtered   atomic.Uint64
	failures   atomic.Uint64

	stopCh      chan struct{}
	doneCh      chan struct{}
	cancel      context.CancelFunc
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker creates a new notification publisher worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.DedupCacheSize <= 0 {
		config.DedupCacheSize = DefaultDedupCacheSize
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultPublishTimeout
	}

	seen, err := lru.New[string, struct{}](config.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	return &Worker{
		config: config,
		seen:   seen,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Name returns the sink name
func (w *Worker) Name() string {
	return w.config.Name
}

// Stats returns the worker counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Rounds:     w.rounds.Load(),
		Published:  w.published.Load(),
		Duplicates: w.duplicates.Load(),
		Filtered:   w.filtered.Load(),
		Failures:   w.failures.Load(),
	}
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	log.Info().
		Str("worker", w.config.Name).
		Dur("poll_interval", w.config.PollInterval).
		Msg("Starting notification publisher worker")

	go w.pollLoop(ctx)
}

// Stop stops the worker gracefully
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	log.Info().Str("worker", w.config.Name).Msg("Stopping notification publisher worker")

	close(w.stopCh)
	w.cancel()
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("Notification publisher worker stopped")
}

// pollLoop runs a round, then waits for a change signal or the poll interval
func (w *Worker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	var signals <-chan notify.Signal
	if w.config.Hub != nil {
		ch, unsubscribe := w.config.Hub.Subscribe(notify.Filter{})
		defer unsubscribe()
		signals = ch
	}

	timer := time.NewTimer(w.config.PollInterval)
	defer timer.Stop()

	for {
		if err := w.RunRound(ctx); err != nil && !errors.Is(err, errWorkerStopped) && ctx.Err() == nil {
			log.Error().
				Err(err).
				Str("worker", w.config.Name).
				Msg("Publish round failed")
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.config.PollInterval)

		select {
		case <-w.stopCh:
			return
		case <-signals:
		case <-timer.C:
		}
	}
}

// RunRound scans every surfacing notification once and publishes the new
// ones. A publish that exhausts its retries ends the round; the
// notification stays unpublished and is retried next round.
func (w *Worker) RunRound(ctx context.Context) error {
	w.rounds.Add(1)
	telemetry.PublisherRoundsTotal.Inc()

	scannedAt := time.Now().UnixMilli()
	return w.config.Source.Scan(ctx, notification.InfiniteRange(), func(e iterator.Entry) error {
		if !notification.IsNotification(e.Key) {
			return nil
		}
		return w.processNotification(ctx, e, scannedAt)
	})
}

// processNotification publishes one surfacing notification
func (w *Worker) processNotification(ctx context.Context, e iterator.Entry, scannedAt int64) error {
	dedupKey := string(notification.EncodeKey(e.Key))
	if w.seen.Contains(dedupKey) {
		w.duplicates.Add(1)
		telemetry.PublishTotal.With(w.config.Name, "duplicate").Inc()
		return nil
	}

	if !w.config.Filter.Match(e.Key.Row, e.Key.Qualifier) {
		w.filtered.Add(1)
		w.seen.Add(dedupKey, struct{}{})
		telemetry.PublishTotal.With(w.config.Name, "filtered").Inc()
		return nil
	}

	event := NotificationEvent{
		Row:        e.Key.Row,
		Qualifier:  e.Key.Qualifier,
		Visibility: e.Key.Visibility,
		Logical:    e.Key.Logical(),
		Value:      e.Value,
		NodeID:     w.config.NodeID,
		ScannedAt:  scannedAt,
	}
	data, err := encoding.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := Message{Topic: w.buildTopic(e.Key.Qualifier), Value: data, Event: event}
	if err := w.publishWithRetry(ctx, msg); err != nil {
		w.failures.Add(1)
		telemetry.PublishTotal.With(w.config.Name, "failed").Inc()
		return err
	}

	w.seen.Add(dedupKey, struct{}{})
	w.published.Add(1)
	telemetry.PublishTotal.With(w.config.Name, "success").Inc()
	return nil
}

// buildTopic builds the topic name for a qualifier
func (w *Worker) buildTopic(qualifier []byte) string {
	q := sanitizeTopicPart(qualifier)
	if w.config.TopicPrefix == "" {
		return q
	}
	return w.config.TopicPrefix + "." + q
}

// sanitizeTopicPart keeps qualifiers usable as a single topic or subject token
func sanitizeTopicPart(b []byte) string {
	if len(b) == 0 {
		return "_"
	}
	var sb strings.Builder
	for _, c := range string(b) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			sb.WriteRune(c)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// publishWithRetry publishes msg with exponential backoff retry
// Returns error if max retries exhausted or worker stopped
func (w *Worker) publishWithRetry(ctx context.Context, msg Message) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, w.config.PublishTimeout)
		err := w.config.Sink.Publish(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errWorkerStopped
		}

		attempts++

		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, msg.Topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", msg.Topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish notification, retrying")

		if !w.sleep(delay) {
			return errWorkerStopped
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep sleeps for the given duration, checking stopCh
// Returns true if sleep completed, false if stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
