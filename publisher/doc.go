// Package publisher hands surfacing notifications to external observers
// (Kafka, NATS).
//
// A Worker per configured sink scans the reduced notification stream of a
// Source (the store), wakes early on store change signals, and publishes
// every live notification it has not published before. The scan itself
// never retries; retries and backoff live here, one layer above.
//
// Each event is a msgpack NotificationEvent. Topics are
//
//	{topic_prefix}.{qualifier}
//
// with the qualifier reduced to [A-Za-z0-9_-]. Each message also carries
// the notification coordinates as headers (ripple-row, ripple-qualifier,
// ripple-visibility, ripple-ts, ripple-node) so consumers can route without
// decoding the payload. Sinks partition on the cell group, and NATS uses the
// version id for JetStream deduplication.
//
// Filtering:
//
//	filter, err := NewGlobFilter(
//		[]string{"user:*"},  // row patterns
//		[]string{"email*"},  // qualifier patterns
//	)
//
//	if filter.Match([]byte("user:42"), []byte("email")) {
//		// Publish event
//	}
//
// Published keys are remembered in a bounded LRU, so delivery is
// at-least-once: a restart or an eviction republishes pending notifications.
package publisher
