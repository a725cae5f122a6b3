package publisher

import (
	"context"
	"encoding/base64"
	"strconv"

	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
)

// NotificationEvent is the payload handed to observers for one surfacing
// notification.
type NotificationEvent struct {
	Row        []byte `msgpack:"row"`  // Row that changed
	Qualifier  []byte `msgpack:"qual"` // Observed column
	Visibility []byte `msgpack:"vis"`  // Visibility expression
	Logical    uint64 `msgpack:"ts"`   // Logical notification time
	Value      []byte `msgpack:"val"`  // Notification value as stored
	NodeID     uint64 `msgpack:"node"` // Publishing node
	ScannedAt  int64  `msgpack:"at"`   // Scan time (unix ms)
}

// Header names attached to every published message. Byte fields travel
// base64url encoded without padding, numbers in decimal.
const (
	HeaderRow        = "ripple-row"
	HeaderQualifier  = "ripple-qualifier"
	HeaderVisibility = "ripple-visibility"
	HeaderLogical    = "ripple-ts"
	HeaderNode       = "ripple-node"
)

// Message is one notification event addressed to a sink.
type Message struct {
	Topic string
	Value []byte            // msgpack NotificationEvent
	Event NotificationEvent // decoded form of Value
}

// Key is the base64url row. Consumers that only need the row can read it
// without decoding the payload.
func (m Message) Key() string {
	return encodeField(m.Event.Row)
}

// GroupKey identifies the notification cell group. Sinks partition on it so
// versions of one group stay ordered.
func (m Message) GroupKey() string {
	return encodeField(m.Event.Row) + "." + encodeField(m.Event.Qualifier) + "." + encodeField(m.Event.Visibility)
}

// DedupID identifies one notification version. Republishing the same
// version yields the same id.
func (m Message) DedupID() string {
	return m.GroupKey() + "@" + strconv.FormatUint(m.Event.Logical, 10)
}

// Headers returns the notification metadata carried next to the payload.
func (m Message) Headers() []Header {
	return []Header{
		{Name: HeaderRow, Value: encodeField(m.Event.Row)},
		{Name: HeaderQualifier, Value: encodeField(m.Event.Qualifier)},
		{Name: HeaderVisibility, Value: encodeField(m.Event.Visibility)},
		{Name: HeaderLogical, Value: strconv.FormatUint(m.Event.Logical, 10)},
		{Name: HeaderNode, Value: strconv.FormatUint(m.Event.NodeID, 10)},
	}
}

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

func encodeField(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Sink delivers notification messages to an external system (e.g., Kafka, NATS)
type Sink interface {
	// Publish delivers msg or returns an error; the worker retries failures.
	// ctx bounds one attempt.
	Publish(ctx context.Context, msg Message) error
	// Close releases any resources held by the sink
	Close() error
}

// Filter determines whether a notification should be published
type Filter interface {
	// Match returns true if the notification should be published
	Match(row, qualifier []byte) bool
}

// Source yields the reduced notification stream. *store.Store implements it.
type Source interface {
	Scan(ctx context.Context, r notification.Range, fn func(iterator.Entry) error) error
}
