package sink

import (
	"context"
	"sync"

	"github.com/maxpert/ripple/publisher"
)

// MockSink records published messages in memory for tests
type MockSink struct {
	Messages   []publisher.Message
	PublishErr error // Returned by every Publish while set
	FailFirst  int   // Number of initial Publish calls that fail with PublishErr
	Attempts   int   // Publish calls seen, failed ones included
	mu         sync.Mutex
}

// Publish records msg for later inspection in tests
func (m *MockSink) Publish(ctx context.Context, msg publisher.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Attempts++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.PublishErr != nil && (m.FailFirst == 0 || m.Attempts <= m.FailFirst) {
		return m.PublishErr
	}

	m.Messages = append(m.Messages, msg)
	return nil
}

// Published returns a copy of the recorded messages
func (m *MockSink) Published() []publisher.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publisher.Message, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// Close is a no-op for MockSink
func (m *MockSink) Close() error {
	return nil
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.Attempts = 0
}
