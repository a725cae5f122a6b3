package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog/log"
)

// CompactionResult describes a finished compaction.
type CompactionResult struct {
	Scope         iterator.Scope        `json:"scope"`
	Inputs        []uint64              `json:"inputs"`
	Output        *FileMeta             `json:"output,omitempty"` // nil when nothing survived
	InputEntries  int64                 `json:"input_entries"`
	OutputEntries int64                 `json:"output_entries"`
	Reduction     iterator.ReducerStats `json:"reduction"`
	Duration      time.Duration         `json:"duration"`
}

// Compact merges the given files into one. The reducer runs with full
// visibility when the set covers every live file and partial visibility
// otherwise.
func (s *Store) Compact(ctx context.Context, ids []uint64) (CompactionResult, error) {
	return s.CompactWithScope(ctx, ids, "")
}

// CompactAll merges every live file with full visibility. It is a no-op on
// an empty store.
func (s *Store) CompactAll(ctx context.Context) (CompactionResult, error) {
	files := s.Files()
	if len(files) == 0 {
		return CompactionResult{Scope: iterator.ScopeFull}, nil
	}
	ids := make([]uint64, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return s.Compact(ctx, ids)
}

// CompactWithScope is Compact with an explicit scope. An empty scope picks
// one from the file set. Partial visibility is always allowed; full
// visibility over a subset of the live files fails with ErrScopeMismatch.
func (s *Store) CompactWithScope(ctx context.Context, ids []uint64, scope iterator.Scope) (CompactionResult, error) {
	if s.closed.Load() {
		return CompactionResult{}, ErrClosed
	}
	if scope != "" {
		if _, err := iterator.ParseScope(string(scope)); err != nil {
			return CompactionResult{}, err
		}
	}
	if !s.compactMu.TryLock() {
		return CompactionResult{}, ErrCompactionInProgress
	}
	defer s.compactMu.Unlock()

	start := time.Now()
	inputs, covering, inputEntries, err := s.selectInputs(ids)
	if err != nil {
		return CompactionResult{}, err
	}

	switch {
	case scope == "" && covering:
		scope = iterator.ScopeFull
	case scope == "":
		scope = iterator.ScopePartial
	case scope.Aggressive() && !covering:
		return CompactionResult{}, ErrScopeMismatch
	}

	res, err := s.compact(ctx, inputs, scope)
	res.Scope = scope
	res.Inputs = inputs
	res.InputEntries = inputEntries
	res.Duration = time.Since(start)

	telemetry.CompactionDurationSeconds.With(string(scope)).Observe(res.Duration.Seconds())
	switch {
	case err != nil:
		telemetry.CompactionsTotal.With(string(scope), "failed").Inc()
		log.Error().Err(err).
			Str("scope", string(scope)).
			Interface("inputs", inputs).
			Msg("Compaction failed")
		return res, err
	case res.Output == nil:
		telemetry.CompactionsTotal.With(string(scope), "empty").Inc()
	default:
		telemetry.CompactionsTotal.With(string(scope), "success").Inc()
	}

	var outputID uint64
	if res.Output != nil {
		outputID = res.Output.ID
	}
	s.hub.Signal(notify.KindCompaction, outputID)

	log.Info().
		Str("scope", string(scope)).
		Interface("inputs", inputs).
		Uint64("output", outputID).
		Int64("input_entries", res.InputEntries).
		Int64("output_entries", res.OutputEntries).
		Uint64("deletes_dropped", res.Reduction.DeletesDropped).
		Uint64("deletes_propagated", res.Reduction.DeletesPropagated).
		Dur("duration", res.Duration).
		Msg("Compaction finished")

	return res, nil
}

// selectInputs validates ids and reports whether they cover every live file.
func (s *Store) selectInputs(ids []uint64) ([]uint64, bool, int64, error) {
	if len(ids) == 0 {
		return nil, false, 0, fmt.Errorf("%w: no files selected", ErrUnknownFile)
	}

	s.viewMu.RLock()
	defer s.viewMu.RUnlock()

	seen := make(map[uint64]struct{}, len(ids))
	inputs := make([]uint64, 0, len(ids))
	var entries int64
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		h, ok := s.files.Load(id)
		if !ok {
			return nil, false, 0, fmt.Errorf("%w: %d", ErrUnknownFile, id)
		}
		seen[id] = struct{}{}
		inputs = append(inputs, id)
		entries += h.meta.Entries
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i] < inputs[j] })
	return inputs, len(inputs) == s.files.Size(), entries, nil
}

func (s *Store) compact(ctx context.Context, inputs []uint64, scope iterator.Scope) (CompactionResult, error) {
	var res CompactionResult

	keep := make(map[uint64]struct{}, len(inputs))
	for _, id := range inputs {
		keep[id] = struct{}{}
	}
	v, err := s.openView(func(h *fileHandle) bool {
		_, ok := keep[h.meta.ID]
		return ok
	})
	if err != nil {
		return res, err
	}
	defer v.close()
	if len(v.ids) != len(inputs) {
		return res, fmt.Errorf("%w: input removed by a concurrent change", ErrUnknownFile)
	}

	red, err := iterator.NewNotificationReducer(v.source(), scope)
	if err != nil {
		return res, err
	}
	if err := red.Seek(notification.InfiniteRange()); err != nil {
		return res, err
	}

	id := s.nextID.Add(1) - 1
	batch := s.db.NewBatch()
	defer batch.Close()

	meta, rows, err := s.writeFile(ctx, batch, id, levelFor(scope), red)
	res.Reduction = red.Stats()
	if err != nil {
		return res, err
	}

	var added *fileHandle
	if meta.Entries > 0 {
		added = &fileHandle{meta: meta, rows: rows}
		res.Output = &meta
		res.OutputEntries = meta.Entries
	}
	if err := s.commit(batch, inputs, added); err != nil {
		return res, err
	}

	telemetry.RecordReduction(string(scope), int(meta.Notifications),
		int(res.Reduction.DeletesDropped), int(res.Reduction.DeletesPropagated),
		int(res.Reduction.Suppressed))
	return res, nil
}
