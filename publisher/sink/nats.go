package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// DefaultNatsStreamMaxAge bounds how long undelivered notifications stay in a stream
	DefaultNatsStreamMaxAge = 24 * time.Hour
	// DefaultNatsDuplicateWindow is how long JetStream remembers message ids
	DefaultNatsDuplicateWindow = 10 * time.Minute
)

func init() {
	publisher.RegisterSink("nats", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL)
	})
}

// NatsSink publishes notification messages to NATS JetStream, one stream
// per subject.
//
// Each message carries the notification version id as Nats-Msg-Id, so a
// republish after a restart is dropped by the stream inside the duplicate
// window.
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	streams *xsync.MapOf[string, struct{}] // subjects with an ensured stream
}

// NewNatsSink connects to url and returns a JetStream sink
func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js, streams: xsync.NewMapOf[string, struct{}]()}, nil
}

// Publish sends msg to the subject msg.Topic. ctx bounds stream setup and
// the publish acknowledgement.
func (n *NatsSink) Publish(ctx context.Context, msg publisher.Message) error {
	if err := n.ensureStream(ctx, msg.Topic); err != nil {
		return err
	}

	if _, err := n.js.PublishMsg(ctx, natsMsg(msg)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}
	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context, subject string) error {
	if _, ok := n.streams.Load(subject); ok {
		return nil
	}

	streamName := sanitizeStreamName(subject)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subject},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     DefaultNatsStreamMaxAge,
		Duplicates: DefaultNatsDuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}
	n.streams.Store(subject, struct{}{})
	return nil
}

func natsMsg(msg publisher.Message) *nats.Msg {
	header := nats.Header{}
	for _, h := range msg.Headers() {
		header.Set(h.Name, h.Value)
	}
	header.Set(nats.MsgIdHdr, msg.DedupID())
	return &nats.Msg{
		Subject: msg.Topic,
		Data:    msg.Value,
		Header:  header,
	}
}

// Close releases the connection
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName turns a subject into a stream name; stream names
// cannot contain '.', '*', '>' or whitespace.
func sanitizeStreamName(subject string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, subject)
}
