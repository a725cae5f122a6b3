package publisher

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/ripple/encoding"
	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
	"github.com/maxpert/ripple/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations for testing

type mockSink struct {
	mu        sync.Mutex
	events    []mockPublishCall
	failCount atomic.Int32 // Number of times to fail before succeeding
	attempts  atomic.Int32
}

type mockPublishCall struct {
	topic   string
	key     string
	value   []byte
	headers []Header
}

func (m *mockSink) Publish(ctx context.Context, msg Message) error {
	m.attempts.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failCount.Load() > 0 {
		m.failCount.Add(-1)
		return fmt.Errorf("mock publish failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, mockPublishCall{
		topic:   msg.Topic,
		key:     msg.Key(),
		value:   msg.Value,
		headers: msg.Headers(),
	})
	return nil
}

func (m *mockSink) Close() error {
	return nil
}

func (m *mockSink) getEvents() []mockPublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockPublishCall, len(m.events))
	copy(result, m.events)
	return result
}

// memSource reduces an in-memory entry set with full visibility on every scan
type memSource struct {
	mu      sync.Mutex
	entries []iterator.Entry
}

func (s *memSource) add(entries ...iterator.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
}

func (s *memSource) Scan(ctx context.Context, r notification.Range, fn func(iterator.Entry) error) error {
	s.mu.Lock()
	snapshot := append([]iterator.Entry(nil), s.entries...)
	s.mu.Unlock()

	red, err := iterator.NewNotificationReducer(iterator.NewSliceIterator(snapshot), iterator.ScopeFull)
	if err != nil {
		return err
	}
	out, err := iterator.Collect(red, r)
	if err != nil {
		return err
	}
	for _, e := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func liveEntry(row, qual string, logical uint64) iterator.Entry {
	return iterator.Entry{
		Key:   notification.NewNotification([]byte(row), []byte(qual), nil, logical),
		Value: []byte(fmt.Sprintf("v%d", logical)),
	}
}

func deleteEntry(row, qual string, logical uint64) iterator.Entry {
	return iterator.Entry{Key: notification.NewDelete([]byte(row), []byte(qual), nil, logical)}
}

func newTestWorker(t *testing.T, src Source, snk Sink, mutate func(*WorkerConfig)) *Worker {
	t.Helper()
	filter, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)

	config := WorkerConfig{
		Name:         "test",
		Source:       src,
		Sink:         snk,
		Filter:       filter,
		TopicPrefix:  "ripple.notify",
		NodeID:       7,
		PollInterval: time.Hour,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
		MaxRetries:   5,
	}
	if mutate != nil {
		mutate(&config)
	}
	w, err := NewWorker(config)
	require.NoError(t, err)
	return w
}

func TestNewWorkerValidation(t *testing.T) {
	filter, _ := NewGlobFilter(nil, nil)
	src := &memSource{}
	snk := &mockSink{}

	tests := []struct {
		name   string
		config WorkerConfig
	}{
		{"missing name", WorkerConfig{Source: src, Sink: snk, Filter: filter}},
		{"missing source", WorkerConfig{Name: "w", Sink: snk, Filter: filter}},
		{"missing sink", WorkerConfig{Name: "w", Source: src, Filter: filter}},
		{"missing filter", WorkerConfig{Name: "w", Source: src, Sink: snk}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWorker(tc.config)
			assert.Error(t, err)
		})
	}
}

func TestNewWorkerDefaults(t *testing.T) {
	filter, _ := NewGlobFilter(nil, nil)
	w, err := NewWorker(WorkerConfig{Name: "w", Source: &memSource{}, Sink: &mockSink{}, Filter: filter})
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, w.config.PollInterval)
	assert.Equal(t, DefaultDedupCacheSize, w.config.DedupCacheSize)
	assert.Equal(t, DefaultRetryInitial, w.config.RetryInitial)
	assert.Equal(t, DefaultRetryMax, w.config.RetryMax)
	assert.Equal(t, DefaultRetryMultiplier, w.config.RetryMultiplier)
	assert.Equal(t, DefaultMaxRetries, w.config.MaxRetries)
	assert.Equal(t, DefaultPublishTimeout, w.config.PublishTimeout)
}

func TestWorkerPublishesSurfacingNotifications(t *testing.T) {
	src := &memSource{}
	src.add(
		liveEntry("user:1", "email", 5),
		liveEntry("user:1", "email", 3), // superseded
		deleteEntry("user:2", "name", 4),
		liveEntry("user:2", "name", 3), // acknowledged
		liveEntry("user:3", "name", 9),
	)
	snk := &mockSink{}
	w := newTestWorker(t, src, snk, nil)

	require.NoError(t, w.RunRound(context.Background()))

	events := snk.getEvents()
	require.Len(t, events, 2)

	assert.Equal(t, "ripple.notify.email", events[0].topic)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte("user:1")), events[0].key)
	assert.Equal(t, "ripple.notify.name", events[1].topic)
	assert.Equal(t, []Header{
		{Name: HeaderRow, Value: base64.RawURLEncoding.EncodeToString([]byte("user:1"))},
		{Name: HeaderQualifier, Value: base64.RawURLEncoding.EncodeToString([]byte("email"))},
		{Name: HeaderVisibility, Value: ""},
		{Name: HeaderLogical, Value: "5"},
		{Name: HeaderNode, Value: "7"},
	}, events[0].headers)

	var ev NotificationEvent
	require.NoError(t, encoding.Unmarshal(events[0].value, &ev))
	assert.Equal(t, []byte("user:1"), ev.Row)
	assert.Equal(t, []byte("email"), ev.Qualifier)
	assert.Equal(t, uint64(5), ev.Logical)
	assert.Equal(t, []byte("v5"), ev.Value)
	assert.Equal(t, uint64(7), ev.NodeID)
	assert.NotZero(t, ev.ScannedAt)

	assert.Equal(t, uint64(2), w.Stats().Published)
}

func TestWorkerSkipsAlreadyPublished(t *testing.T) {
	src := &memSource{}
	src.add(liveEntry("r", "q", 1))
	snk := &mockSink{}
	w := newTestWorker(t, src, snk, nil)

	require.NoError(t, w.RunRound(context.Background()))
	require.NoError(t, w.RunRound(context.Background()))
	assert.Len(t, snk.getEvents(), 1)

	// A newer version is a different notification
	src.add(liveEntry("r", "q", 2))
	require.NoError(t, w.RunRound(context.Background()))

	events := snk.getEvents()
	require.Len(t, events, 2)
	var ev NotificationEvent
	require.NoError(t, encoding.Unmarshal(events[1].value, &ev))
	assert.Equal(t, uint64(2), ev.Logical)

	stats := w.Stats()
	assert.Equal(t, uint64(3), stats.Rounds)
	assert.Equal(t, uint64(1), stats.Duplicates)
}

func TestWorkerFilter(t *testing.T) {
	src := &memSource{}
	src.add(
		liveEntry("user:1", "email", 1),
		liveEntry("order:1", "email", 1),
		liveEntry("user:2", "phone", 1),
	)
	snk := &mockSink{}
	w := newTestWorker(t, src, snk, func(c *WorkerConfig) {
		f, err := NewGlobFilter([]string{"user:*"}, []string{"email"})
		require.NoError(t, err)
		c.Filter = f
	})

	require.NoError(t, w.RunRound(context.Background()))
	events := snk.getEvents()
	require.Len(t, events, 1)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte("user:1")), events[0].key)
	assert.Equal(t, uint64(2), w.Stats().Filtered)
}

func TestWorkerRetriesPublish(t *testing.T) {
	src := &memSource{}
	src.add(liveEntry("r", "q", 1))
	snk := &mockSink{}
	snk.failCount.Store(2)
	w := newTestWorker(t, src, snk, nil)

	require.NoError(t, w.RunRound(context.Background()))
	assert.Len(t, snk.getEvents(), 1)
	assert.Equal(t, int32(3), snk.attempts.Load())
}

func TestWorkerExhaustedRetriesEndRound(t *testing.T) {
	src := &memSource{}
	src.add(liveEntry("a", "q", 1), liveEntry("b", "q", 1))
	snk := &mockSink{}
	snk.failCount.Store(3)
	w := newTestWorker(t, src, snk, func(c *WorkerConfig) { c.MaxRetries = 3 })

	err := w.RunRound(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted max retries")
	assert.Empty(t, snk.getEvents())
	assert.Equal(t, uint64(1), w.Stats().Failures)

	// Nothing was remembered, so the next round publishes both
	require.NoError(t, w.RunRound(context.Background()))
	assert.Len(t, snk.getEvents(), 2)
}

func TestWorkerWakesOnHubSignal(t *testing.T) {
	hub := notify.NewHub()
	src := &memSource{}
	snk := &mockSink{}
	w := newTestWorker(t, src, snk, func(c *WorkerConfig) { c.Hub = hub })

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		return w.Stats().Rounds >= 1 && hub.Subscribers() == 1
	}, time.Second, 5*time.Millisecond)

	src.add(liveEntry("r", "q", 1))
	hub.Signal(notify.KindFlush, 1)

	require.Eventually(t, func() bool {
		return len(snk.getEvents()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerStopInterruptsRetry(t *testing.T) {
	src := &memSource{}
	src.add(liveEntry("r", "q", 1))
	snk := &mockSink{}
	snk.failCount.Store(1 << 20)
	w := newTestWorker(t, src, snk, func(c *WorkerConfig) {
		c.RetryInitial = time.Hour
		c.RetryMax = time.Hour
	})

	w.Start()
	require.Eventually(t, func() bool { return snk.attempts.Load() >= 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the retry backoff")
	}
}

func TestWorkerStartStopIdempotent(t *testing.T) {
	w := newTestWorker(t, &memSource{}, &mockSink{}, nil)
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()

	// Restart after stop
	w.Start()
	w.Stop()
}

func TestBuildTopic(t *testing.T) {
	w := newTestWorker(t, &memSource{}, &mockSink{}, nil)
	assert.Equal(t, "ripple.notify.email", w.buildTopic([]byte("email")))
	assert.Equal(t, "ripple.notify.a_b_c", w.buildTopic([]byte("a.b c")))
	assert.Equal(t, "ripple.notify._", w.buildTopic(nil))

	w.config.TopicPrefix = ""
	assert.Equal(t, "email", w.buildTopic([]byte("email")))
}

func TestMessageIdentity(t *testing.T) {
	msg := Message{
		Topic: "ripple.notify.email",
		Event: NotificationEvent{Row: []byte("user:1"), Qualifier: []byte("email"), Visibility: []byte("A|B"), Logical: 42},
	}
	b64 := base64.RawURLEncoding.EncodeToString

	assert.Equal(t, b64([]byte("user:1")), msg.Key())
	assert.Equal(t, b64([]byte("user:1"))+"."+b64([]byte("email"))+"."+b64([]byte("A|B")), msg.GroupKey())
	assert.Equal(t, msg.GroupKey()+"@42", msg.DedupID())

	// Versions of one group share the partition key but not the dedup id.
	newer := msg
	newer.Event.Logical = 43
	assert.Equal(t, msg.GroupKey(), newer.GroupKey())
	assert.NotEqual(t, msg.DedupID(), newer.DedupID())

	// Binary rows stay distinct and header safe.
	bin := Message{Event: NotificationEvent{Row: []byte{0x00, 0xFF, '\n'}, Qualifier: []byte("q")}}
	assert.NotContains(t, bin.Key(), "\n")
	assert.NotEqual(t, bin.GroupKey(), Message{Event: NotificationEvent{Row: []byte{0x00, 0xFF}, Qualifier: []byte("q")}}.GroupKey())
}
