package admin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
	"github.com/maxpert/ripple/publisher"
	"github.com/maxpert/ripple/store"
	"github.com/rs/zerolog/log"
)

// NotificationStore is the part of *store.Store the admin API uses
type NotificationStore interface {
	Files() []store.FileMeta
	Stats() store.Stats
	Flush(ctx context.Context, entries []iterator.Entry) (store.FileMeta, error)
	Scan(ctx context.Context, r notification.Range, fn func(iterator.Entry) error) error
	ScanRow(ctx context.Context, row []byte, fn func(iterator.Entry) error) error
	CompactWithScope(ctx context.Context, ids []uint64, scope iterator.Scope) (store.CompactionResult, error)
	CompactAll(ctx context.Context) (store.CompactionResult, error)
}

// AdminHandlers handles admin API endpoints for the notification store
type AdminHandlers struct {
	store     NotificationStore
	publisher *publisher.Registry // nil when publishing is disabled
	clock     *hlc.Clock          // assigns logical times to ingested notifications
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(s NotificationStore, pub *publisher.Registry, clock *hlc.Clock) *AdminHandlers {
	return &AdminHandlers{
		store:     s,
		publisher: pub,
		clock:     clock,
	}
}

// notificationView is the JSON form of one surfacing notification
type notificationView struct {
	Row        string `json:"row"`
	Qualifier  string `json:"qualifier"`
	Visibility string `json:"visibility,omitempty"`
	Timestamp  uint64 `json:"ts"`
	Value      string `json:"value"` // base64
	Key        string `json:"key"`   // base64 encoded key, usable as "from"
}

func newNotificationView(e iterator.Entry, rowEnc rowEncoding) notificationView {
	return notificationView{
		Row:        rowEnc.format(e.Key.Row),
		Qualifier:  string(e.Key.Qualifier),
		Visibility: string(e.Key.Visibility),
		Timestamp:  e.Key.Logical(),
		Value:      encodeBase64(e.Value),
		Key:        encodeKeyCursor(e.Key),
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}

// rowEncoding selects how rows travel in query parameters and responses
type rowEncoding bool

const (
	rowRaw    rowEncoding = false
	rowBase64 rowEncoding = true
)

func parseRowEncoding(r *http.Request) (rowEncoding, error) {
	switch r.URL.Query().Get("encoding") {
	case "", "raw":
		return rowRaw, nil
	case "base64":
		return rowBase64, nil
	default:
		return rowRaw, fmt.Errorf("encoding must be raw or base64")
	}
}

func (e rowEncoding) parse(s string) ([]byte, error) {
	if e == rowBase64 {
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 row: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}

func (e rowEncoding) format(row []byte) string {
	if e == rowBase64 {
		return base64.RawURLEncoding.EncodeToString(row)
	}
	return string(row)
}

// encodeKeyCursor renders a key as an opaque pagination cursor
func encodeKeyCursor(k notification.Key) string {
	return base64.RawURLEncoding.EncodeToString(notification.EncodeKey(k))
}

// decodeKeyCursor parses a cursor produced by encodeKeyCursor
func decodeKeyCursor(s string) (notification.Key, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return notification.Key{}, fmt.Errorf("invalid cursor: %w", err)
	}
	k, err := notification.DecodeKey(b)
	if err != nil {
		return notification.Key{}, fmt.Errorf("invalid cursor: %w", err)
	}
	return k, nil
}

// formatTimestamp converts a time to ISO 8601 string
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// encodeBase64 encodes byte slices as base64 strings
func encodeBase64(data []byte) string {
	if data == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}
