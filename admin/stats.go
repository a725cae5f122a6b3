package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/publisher"
	"github.com/maxpert/ripple/store"
)

// fileView is the JSON form of one live file
type fileView struct {
	store.FileMeta
	LevelName string `json:"level_name"`
	Smallest  string `json:"smallest,omitempty"`
	Largest   string `json:"largest,omitempty"`
	Created   string `json:"created"`
}

// compactRequest is the POST /compact body. Empty files means every live
// file; empty scope lets the store derive it from the file set.
type compactRequest struct {
	Files []uint64 `json:"files"`
	Scope string   `json:"scope"`
}

// handleStats returns a summary of the live files
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.store.Stats(), false, "")
}

// handleListFiles returns every live file ordered by id
func (h *AdminHandlers) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files := h.store.Files()
	views := make([]fileView, 0, len(files))
	for _, f := range files {
		v := fileView{
			FileMeta:  f,
			LevelName: f.Level.String(),
			Created:   formatTimestamp(f.CreatedAt),
		}
		if k, err := f.SmallestKey(); err == nil {
			v.Smallest = k.String()
		}
		if k, err := f.LargestKey(); err == nil {
			v.Largest = k.String()
		}
		views = append(views, v)
	}
	writeJSONResponse(w, views, false, "")
}

// handleCompact runs a compaction and waits for it
func (h *AdminHandlers) handleCompact(w http.ResponseWriter, r *http.Request) {
	var req compactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var scope iterator.Scope
	if req.Scope != "" {
		parsed, err := iterator.ParseScope(req.Scope)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		scope = parsed
	}

	var (
		res store.CompactionResult
		err error
	)
	switch {
	case len(req.Files) == 0 && scope == "":
		res, err = h.store.CompactAll(r.Context())
	case len(req.Files) == 0:
		files := h.store.Files()
		if len(files) == 0 {
			writeJSONResponse(w, store.CompactionResult{Scope: scope}, false, "")
			return
		}
		ids := make([]uint64, len(files))
		for i, f := range files {
			ids[i] = f.ID
		}
		res, err = h.store.CompactWithScope(r.Context(), ids, scope)
	default:
		res, err = h.store.CompactWithScope(r.Context(), req.Files, scope)
	}
	if err != nil {
		writeErrorResponse(w, compactErrorStatus(err), err.Error())
		return
	}

	writeJSONResponse(w, res, false, "")
}

func compactErrorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrUnknownFile):
		return http.StatusNotFound
	case errors.Is(err, store.ErrCompactionInProgress):
		return http.StatusConflict
	case errors.Is(err, store.ErrScopeMismatch), errors.Is(err, iterator.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publisherView reports one publisher worker
type publisherView struct {
	Name string `json:"name"`
	publisher.WorkerStats
}

// handlePublishers returns the counters of every publisher worker
func (h *AdminHandlers) handlePublishers(w http.ResponseWriter, r *http.Request) {
	views := make([]publisherView, 0)
	if h.publisher != nil {
		for _, worker := range h.publisher.Workers() {
			views = append(views, publisherView{Name: worker.Name(), WorkerStats: worker.Stats()})
		}
	}
	writeJSONResponse(w, views, false, "")
}
