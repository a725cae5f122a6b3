// Package store keeps notification entries in immutable sorted files inside
// a single pebble database and serves reduced scans over them.
//
// A file is a key prefix written in one batch and never modified. Scans merge
// every live file and run the result through a full-visibility reducer.
// Compactions merge a set of files through a reducer whose scope depends on
// whether the set covers every live file, and swap the inputs for the output
// in one batch.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/iterator"
	"github.com/maxpert/ripple/notification"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")

	// ErrUnknownFile is returned when a file id is not live.
	ErrUnknownFile = errors.New("store: unknown file")

	// ErrCompactionInProgress is returned when another compaction holds the store.
	ErrCompactionInProgress = errors.New("store: compaction in progress")

	// ErrEmptyFlush is returned when a flush carries no entries.
	ErrEmptyFlush = errors.New("store: empty flush")

	// ErrScopeMismatch is returned when full visibility is requested for a
	// file set that does not cover every live file.
	ErrScopeMismatch = errors.New("store: full visibility requires every live file")

	// ErrStopScan can be returned by a scan callback to end the scan early
	// without error.
	ErrStopScan = errors.New("store: stop scan")

	// ErrForeignFamily is returned by Flush for keys outside the
	// notification family.
	ErrForeignFamily = errors.New("store: key outside the notification family")
)

// ctxCheckInterval is how many entries a write loop handles between context checks.
const ctxCheckInterval = 256

// Options configures a Store
type Options struct {
	// Memory settings
	CacheSizeMB    int64
	MemTableSizeMB int64
	MemTableCount  int

	// Write settings
	WALMinSyncInterval time.Duration
	DisableWAL         bool // Only for testing!
	Sync               bool // Commit batches with fsync

	L0CompactionThreshold int
	L0StopWrites          int

	CompressThresholdBytes int
	CompressionLevel       int
	RowFilterCapacity      uint

	// Hub receives a signal whenever the live file set changes (optional)
	Hub *notify.Hub
}

// DefaultOptions returns store options from cfg.Config.Store.
func DefaultOptions() Options {
	sc := cfg.Config.Store
	return Options{
		CacheSizeMB:            sc.CacheSizeMB,
		MemTableSizeMB:         sc.MemTableSizeMB,
		MemTableCount:          sc.MemTableCount,
		WALMinSyncInterval:     time.Duration(sc.WALSyncIntervalMS) * time.Millisecond,
		L0CompactionThreshold:  sc.L0CompactionThreshold,
		L0StopWrites:           sc.L0StopWrites,
		CompressThresholdBytes: sc.CompressThresholdBytes,
		CompressionLevel:       sc.CompressionLevel,
		RowFilterCapacity:      sc.RowFilterCapacity,
	}
}

// pebbleLogger wraps zerolog for Pebble
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

// Store is a set of immutable notification files in one pebble database.
type Store struct {
	db        *pebble.DB
	path      string
	opts      Options
	writeOpts *pebble.WriteOptions
	codec     *valueCodec
	hub       *notify.Hub

	files  *xsync.MapOf[uint64, *fileHandle]
	nextID atomic.Uint64

	// viewMu makes "read the file set + take a snapshot" atomic with respect
	// to "commit a file set change + update the registry".
	viewMu sync.RWMutex
	views  sync.WaitGroup

	compactMu sync.Mutex
	closed    atomic.Bool
}

// Open opens or creates a store at path.
func Open(path string, opts Options) (*Store, error) {
	if opts.CacheSizeMB < 1 {
		opts.CacheSizeMB = 8
	}
	if opts.MemTableSizeMB < 1 {
		opts.MemTableSizeMB = 4
	}
	if opts.MemTableCount < 2 {
		opts.MemTableCount = 2
	}

	cache := pebble.NewCache(opts.CacheSizeMB << 20)
	defer cache.Unref() // DB will hold reference

	pebbleOpts := &pebble.Options{
		Cache:                       cache,
		MemTableSize:                uint64(opts.MemTableSizeMB << 20),
		MemTableStopWritesThreshold: opts.MemTableCount,
		DisableWAL:                  opts.DisableWAL,
		Logger:                      &pebbleLogger{},
	}
	if opts.L0CompactionThreshold > 0 {
		pebbleOpts.L0CompactionThreshold = opts.L0CompactionThreshold
	}
	if opts.L0StopWrites > 0 {
		pebbleOpts.L0StopWritesThreshold = opts.L0StopWrites
	}
	if opts.WALMinSyncInterval > 0 {
		interval := opts.WALMinSyncInterval
		pebbleOpts.WALMinSyncInterval = func() time.Duration { return interval }
	}

	codec, err := newValueCodec(opts.CompressThresholdBytes, opts.CompressionLevel)
	if err != nil {
		return nil, err
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		codec.close()
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	s := &Store{
		db:        db,
		path:      path,
		opts:      opts,
		writeOpts: pebble.NoSync,
		codec:     codec,
		hub:       opts.Hub,
		files:     xsync.NewMapOf[uint64, *fileHandle](),
	}
	if opts.Sync {
		s.writeOpts = pebble.Sync
	}

	if err := s.loadFiles(); err != nil {
		db.Close()
		codec.close()
		return nil, fmt.Errorf("failed to load files: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("files", s.files.Size()).
		Uint64("next_file_id", s.nextID.Load()).
		Msg("Notification store opened")

	return s, nil
}

// loadFiles restores the registry, the id sequence and the row filters.
func (s *Store) loadFiles() error {
	next := uint64(1)
	val, closer, err := s.db.Get([]byte(keyFileSeq))
	if err == nil {
		if len(val) == 8 {
			next = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return err
	}

	prefix := []byte(prefixMeta)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		id, ok := metaID(iter.Key())
		if !ok {
			continue
		}
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		meta, err := decodeMeta(val)
		if err != nil {
			return fmt.Errorf("file %d: corrupt meta: %w", id, err)
		}
		rows, err := s.rebuildRowFilter(id)
		if err != nil {
			return err
		}
		s.files.Store(id, &fileHandle{meta: meta, rows: rows})
		if id >= next {
			next = id + 1
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}

	s.nextID.Store(next)
	return nil
}

// rebuildRowFilter scans a file's keys and repopulates its row filter.
func (s *Store) rebuildRowFilter(id uint64) (*RowFilter, error) {
	prefix := fileKeyPrefix(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	rows := NewRowFilter(s.opts.RowFilterCapacity)
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k, err := notification.DecodeKey(iter.Key()[len(prefix):])
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", id, err)
		}
		rows.Add(k.Row)
	}
	return rows, iter.Error()
}

// Close closes the store. It waits for running scans and compactions.
func (s *Store) Close() error {
	s.viewMu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.viewMu.Unlock()
		return nil
	}
	s.viewMu.Unlock()

	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	s.views.Wait()

	err := s.db.Close()
	s.codec.close()
	log.Info().Str("path", s.path).Msg("Notification store closed")
	return err
}

// Files returns the live files ordered by id.
func (s *Store) Files() []FileMeta {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()

	out := make([]FileMeta, 0, s.files.Size())
	s.files.Range(func(_ uint64, h *fileHandle) bool {
		out = append(out, h.meta)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarizes the live files.
type Stats struct {
	Files         int            `json:"files"`
	Entries       int64          `json:"entries"`
	Notifications int64          `json:"notifications"`
	Deletes       int64          `json:"deletes"`
	Bytes         int64          `json:"bytes"`
	Levels        map[string]int `json:"levels"`
	NextFileID    uint64         `json:"next_file_id"`
	Compacting    bool           `json:"compacting"`
}

// Stats returns a summary of the live files.
func (s *Store) Stats() Stats {
	st := Stats{Levels: make(map[string]int)}
	for _, m := range s.Files() {
		st.Files++
		st.Entries += m.Entries
		st.Notifications += m.Notifications
		st.Deletes += m.Deletes
		st.Bytes += m.Bytes
		st.Levels[m.Level.String()]++
	}
	st.NextFileID = s.nextID.Load()
	if s.compactMu.TryLock() {
		s.compactMu.Unlock()
	} else {
		st.Compacting = true
	}
	return st
}

// Flush writes entries as a new file. Entries need not be sorted; when a
// key appears more than once the first occurrence wins.
func (s *Store) Flush(ctx context.Context, entries []iterator.Entry) (FileMeta, error) {
	if s.closed.Load() {
		return FileMeta{}, ErrClosed
	}
	if len(entries) == 0 {
		return FileMeta{}, ErrEmptyFlush
	}
	if err := ctx.Err(); err != nil {
		return FileMeta{}, err
	}
	for _, e := range entries {
		if !notification.IsNotification(e.Key) {
			return FileMeta{}, fmt.Errorf("%w: %s", ErrForeignFamily, e.Key)
		}
	}

	src := iterator.NewSliceIterator(entries)
	if err := src.Seek(notification.InfiniteRange()); err != nil {
		return FileMeta{}, err
	}

	id := s.nextID.Add(1) - 1
	batch := s.db.NewBatch()
	defer batch.Close()

	meta, rows, err := s.writeFile(ctx, batch, id, LevelFlush, src)
	if err != nil {
		return FileMeta{}, err
	}
	if err := s.commit(batch, nil, &fileHandle{meta: meta, rows: rows}); err != nil {
		return FileMeta{}, err
	}

	telemetry.FlushEntries.Observe(float64(meta.Entries))
	s.hub.Signal(notify.KindFlush, id)

	log.Debug().
		Uint64("file_id", id).
		Int64("entries", meta.Entries).
		Int64("deletes", meta.Deletes).
		Msg("Flushed notification file")

	return meta, nil
}

// writeFile drains src into batch under file id. Entries with a key equal
// to the previous one are dropped. The meta key is written only when the
// file has entries.
func (s *Store) writeFile(ctx context.Context, batch *pebble.Batch, id uint64, level Level, src iterator.SortedIterator) (FileMeta, *RowFilter, error) {
	meta := FileMeta{ID: id, Level: level, CreatedAt: time.Now().UTC()}
	rows := NewRowFilter(s.opts.RowFilterCapacity)

	var prev notification.Key
	n := 0
	for src.HasTop() {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return FileMeta{}, nil, err
			}
		}
		n++

		k := src.TopKey()
		if meta.Entries == 0 || notification.Compare(k, prev) != 0 {
			key := fileEntryKey(id, k)
			framed := s.codec.frame(src.TopValue())
			if err := batch.Set(key, framed, nil); err != nil {
				return FileMeta{}, nil, err
			}
			meta.observe(key[len(prefixFile)+9:], k, len(framed))
			rows.Add(k.Row)
			prev = k.Clone()
		}

		if err := src.Next(); err != nil {
			return FileMeta{}, nil, err
		}
	}

	if meta.Entries == 0 {
		return meta, rows, nil
	}
	buf, err := encodeMeta(meta)
	if err != nil {
		return FileMeta{}, nil, fmt.Errorf("failed to encode meta: %w", err)
	}
	if err := batch.Set(metaKey(id), buf, nil); err != nil {
		return FileMeta{}, nil, err
	}
	return meta, rows, nil
}

// commit applies batch and swaps the registry: removed files go away and
// added (if any) becomes visible, atomically for scans.
func (s *Store) commit(batch *pebble.Batch, removed []uint64, added *fileHandle) error {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}

	for _, id := range removed {
		prefix := fileKeyPrefix(id)
		if err := batch.DeleteRange(prefix, prefixUpperBound(prefix), nil); err != nil {
			return err
		}
		if err := batch.Delete(metaKey(id), nil); err != nil {
			return err
		}
	}

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], s.nextID.Load())
	if err := batch.Set([]byte(keyFileSeq), seq[:], nil); err != nil {
		return err
	}

	if err := batch.Commit(s.writeOpts); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	for _, id := range removed {
		s.files.Delete(id)
	}
	if added != nil && added.meta.Entries > 0 {
		s.files.Store(added.meta.ID, added)
	}
	return nil
}

// view is a consistent set of file iterators over one pebble snapshot.
type view struct {
	store *Store
	snap  *pebble.Snapshot
	ids   []uint64
	its   []*fileIterator
}

// openView snapshots the live files accepted by keep, newest first.
func (s *Store) openView(keep func(h *fileHandle) bool) (*view, error) {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	var ids []uint64
	s.files.Range(func(id uint64, h *fileHandle) bool {
		if keep == nil || keep(h) {
			ids = append(ids, id)
		}
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	s.views.Add(1)
	v := &view{store: s, snap: s.db.NewSnapshot(), ids: ids}
	for _, id := range ids {
		v.its = append(v.its, newFileIterator(v.snap, s.codec, id))
	}
	return v, nil
}

// source merges the view's files.
func (v *view) source() iterator.SortedIterator {
	srcs := make([]iterator.SortedIterator, len(v.its))
	for i, it := range v.its {
		srcs[i] = it
	}
	return iterator.NewMergeIterator(srcs...)
}

func (v *view) close() {
	for _, it := range v.its {
		if err := it.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close file iterator")
		}
	}
	if err := v.snap.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close snapshot")
	}
	v.store.views.Done()
}

// Scan calls fn for every surfacing notification in r, in key order, as a
// client sees them: full visibility over every live file, so deletes never
// reach fn, and neither do keys outside the notification family. Entries passed to fn are only valid during the call. Returning
// ErrStopScan from fn ends the scan without error.
func (s *Store) Scan(ctx context.Context, r notification.Range, fn func(iterator.Entry) error) error {
	v, err := s.openView(nil)
	if err != nil {
		return err
	}
	defer v.close()
	return s.scanView(ctx, v, r, fn)
}

// ScanRow scans a single row, skipping files whose row filter rules it out.
func (s *Store) ScanRow(ctx context.Context, row []byte, fn func(iterator.Entry) error) error {
	checks := telemetry.RowFilterChecks
	v, err := s.openView(func(h *fileHandle) bool {
		if h.rows.MayContain(row) {
			checks.With("hit").Inc()
			return true
		}
		checks.With("skip").Inc()
		return false
	})
	if err != nil {
		return err
	}
	defer v.close()
	return s.scanView(ctx, v, notification.ExactRow(row), fn)
}

func (s *Store) scanView(ctx context.Context, v *view, r notification.Range, fn func(iterator.Entry) error) error {
	start := time.Now()
	red, err := iterator.NewNotificationReducer(v.source(), iterator.ScopeFull)
	if err != nil {
		return err
	}

	surfaced := 0
	defer func() {
		st := red.Stats()
		telemetry.RecordReduction(string(iterator.ScopeFull), surfaced,
			int(st.DeletesDropped), int(st.DeletesPropagated), int(st.Suppressed))
		telemetry.ScanDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if err := red.Seek(r); err != nil {
		return err
	}
	for red.HasTop() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !notification.IsNotification(red.TopKey()) {
			if err := red.Next(); err != nil {
				return err
			}
			continue
		}
		if err := fn(iterator.Entry{Key: red.TopKey(), Value: red.TopValue()}); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
		surfaced++
		if err := red.Next(); err != nil {
			return err
		}
	}
	return nil
}

type storeMetrics struct {
	store *Store
}

func (m storeMetrics) Stats() telemetry.StoreStats {
	st := m.store.Stats()
	return telemetry.StoreStats{Files: st.Files, Entries: st.Entries, Bytes: st.Bytes}
}

// MetricsProvider adapts the store for telemetry.MetricsCollector.
func (s *Store) MetricsProvider() telemetry.StatsProvider {
	return storeMetrics{store: s}
}
