package admin

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
	"github.com/maxpert/ripple/store"
)

// ingestEntry is one version written by POST /notifications.
// A live entry without ts gets a fresh logical time; a delete must name the
// logical time of the notification it acknowledges.
type ingestEntry struct {
	Row        string `json:"row"`
	Qualifier  string `json:"qualifier"`
	Visibility string `json:"visibility"`
	Timestamp  uint64 `json:"ts"`
	Delete     bool   `json:"delete"`
	Value      string `json:"value"` // base64
}

type ingestRequest struct {
	Entries []ingestEntry `json:"entries"`
}

type ingestResponse struct {
	File       store.FileMeta `json:"file"`
	Timestamps []uint64       `json:"timestamps"`
}

// handleIngest flushes a batch of notification versions as one new file
func (h *AdminHandlers) handleIngest(w http.ResponseWriter, r *http.Request) {
	enc, err := parseRowEncoding(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Entries) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "entries are required")
		return
	}

	entries := make([]iterator.Entry, 0, len(req.Entries))
	stamps := make([]uint64, 0, len(req.Entries))
	for i, in := range req.Entries {
		e, err := h.toEntry(in, enc)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("entry %d: %v", i, err))
			return
		}
		entries = append(entries, e)
		stamps = append(stamps, e.Key.Logical())
	}

	meta, err := h.store.Flush(r.Context(), entries)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, ingestResponse{File: meta, Timestamps: stamps}, false, "")
}

func (h *AdminHandlers) toEntry(in ingestEntry, enc rowEncoding) (iterator.Entry, error) {
	if in.Row == "" {
		return iterator.Entry{}, fmt.Errorf("row is required")
	}
	if in.Qualifier == "" {
		return iterator.Entry{}, fmt.Errorf("qualifier is required")
	}
	row, err := enc.parse(in.Row)
	if err != nil {
		return iterator.Entry{}, err
	}
	var value []byte
	if in.Value != "" {
		if value, err = base64.StdEncoding.DecodeString(in.Value); err != nil {
			return iterator.Entry{}, fmt.Errorf("invalid base64 value: %w", err)
		}
	}
	if in.Timestamp > notification.MaxLogical {
		return iterator.Entry{}, fmt.Errorf("ts %d out of range", in.Timestamp)
	}

	logical := in.Timestamp
	switch {
	case logical == 0 && in.Delete:
		return iterator.Entry{}, fmt.Errorf("delete requires the ts it acknowledges")
	case logical == 0:
		logical = h.clock.Now().ToLogical()
	default:
		h.clock.Observe(logical)
	}

	var visibility []byte
	if in.Visibility != "" {
		visibility = []byte(in.Visibility)
	}
	qualifier := []byte(in.Qualifier)

	key := notification.NewNotification(row, qualifier, visibility, logical)
	if in.Delete {
		key = notification.NewDelete(row, qualifier, visibility, logical)
	}
	return iterator.Entry{Key: key, Value: value}, nil
}
