package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
	"github.com/maxpert/ripple/store"
)

// handleScan returns surfacing notifications in [start_row, end_row).
// Pagination: pass the returned last_key as "from" to continue after it.
func (h *AdminHandlers) handleScan(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	enc, err := parseRowEncoding(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	var startRow, endRow []byte
	if s := q.Get("start_row"); s != "" {
		if startRow, err = enc.parse(s); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if s := q.Get("end_row"); s != "" {
		if endRow, err = enc.parse(s); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rng := notification.RowRange(startRow, endRow)
	if from := q.Get("from"); from != "" {
		k, err := decodeKeyCursor(from)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		rng.Start = &k
		rng.StartInclusive = false
	}

	views, hasMore, err := h.collect(limit, enc, func(fn func(iterator.Entry) error) error {
		return h.store.Scan(r.Context(), rng, fn)
	})
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	lastKey := ""
	if hasMore {
		lastKey = views[len(views)-1].Key
	}
	writeJSONResponse(w, views, hasMore, lastKey)
}

// handleRow returns the surfacing notifications of one row
func (h *AdminHandlers) handleRow(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	enc, err := parseRowEncoding(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	row, err := enc.parse(chi.URLParam(r, "row"))
	if err != nil || len(row) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "row is required")
		return
	}

	views, hasMore, err := h.collect(limit, enc, func(fn func(iterator.Entry) error) error {
		return h.store.ScanRow(r.Context(), row, fn)
	})
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, views, hasMore, "")
}

// collect gathers up to limit notifications and reports whether more exist
func (h *AdminHandlers) collect(limit int, enc rowEncoding, scan func(func(iterator.Entry) error) error) ([]notificationView, bool, error) {
	views := make([]notificationView, 0)
	hasMore := false
	err := scan(func(e iterator.Entry) error {
		if len(views) == limit {
			hasMore = true
			return store.ErrStopScan
		}
		views = append(views, newNotificationView(e, enc))
		return nil
	})
	return views, hasMore, err
}
