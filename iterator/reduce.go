package iterator

import (
	"fmt"

	"github.com/maxpert/ripple/notification"
)

// Scope tells the reducer how much of a cell group's history it can see.
type Scope string

const (
	// ScopeFull is used by client scans and by compactions over every file.
	// A delete then shadows everything older in its group.
	ScopeFull Scope = "full-visibility"

	// ScopePartial is used by compactions over a subset of files. Older
	// versions may live in files the compaction cannot see, so deletes are
	// only dropped when the visible history proves it safe.
	ScopePartial Scope = "partial-visibility"
)

// ParseScope validates a scope flag.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeFull, ScopePartial:
		return Scope(s), nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrConfiguration, s)
}

// Aggressive reports whether the scope sees complete group histories.
func (s Scope) Aggressive() bool {
	return s == ScopeFull
}

// ReducerStats counts what a reducer did to the versions it consumed.
type ReducerStats struct {
	DeletesDropped    uint64 `json:"deletes_dropped"`
	DeletesPropagated uint64 `json:"deletes_propagated"`
	Suppressed        uint64 `json:"suppressed"`
}

// NotificationReducer keeps at most one entry per notification cell group.
//
// A live version at the head of a group surfaces and everything below it is
// skipped. A delete at the head is resolved according to the scope:
//
//   - full visibility: the delete and the rest of its group are dropped;
//   - partial visibility: the rest of the group is scanned. If the visible
//     history strictly alternates delete/live and ends on a live version,
//     the delete and the whole group are dropped. Otherwise the delete
//     itself surfaces unchanged so a later compaction can finish the job.
//
// Entries outside the notification family pass through untouched.
type NotificationReducer struct {
	source     *Pushback
	scope      Scope
	aggressive bool

	rng        notification.Range
	lastKey    notification.Key
	lastKeySet bool
	reducing   bool
	err        error

	stats ReducerStats
}

// NewNotificationReducer builds a reducer over source. Unknown scopes are
// rejected with ErrConfiguration.
func NewNotificationReducer(source SortedIterator, scope Scope) (*NotificationReducer, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return nil, err
	}
	return &NotificationReducer{
		source:     NewPushback(source),
		scope:      scope,
		aggressive: scope.Aggressive(),
		rng:        notification.InfiniteRange(),
	}, nil
}

// Scope returns the configured scope.
func (r *NotificationReducer) Scope() Scope {
	return r.scope
}

// Stats returns counters accumulated since construction.
func (r *NotificationReducer) Stats() ReducerStats {
	return r.stats
}

// Seek positions the reducer at the first surfacing entry inside rng.
//
// The underlying source is sought from the first possible version of the
// start key's group, so a range beginning mid-group still lets the reducer
// see the deletes above the requested start. Entries that surface before the
// requested start are then skipped. No state survives a seek.
func (r *NotificationReducer) Seek(rng notification.Range) error {
	if r.reducing {
		return invalidState("seek during group reduction")
	}
	r.rng = rng
	r.lastKey = notification.Key{}
	r.lastKeySet = false
	r.err = nil

	if err := r.source.Seek(rng.MaximizeStartTimestamp()); err != nil {
		return r.fail(err)
	}
	if err := r.consume(); err != nil {
		return r.fail(err)
	}
	for r.HasTop() && rng.BeforeStartKey(r.TopKey()) {
		if err := r.Next(); err != nil {
			return err
		}
	}
	return nil
}

func (r *NotificationReducer) HasTop() bool {
	return r.err == nil && r.source.HasTop()
}

func (r *NotificationReducer) TopKey() notification.Key {
	return r.source.TopKey()
}

func (r *NotificationReducer) TopValue() []byte {
	return r.source.TopValue()
}

func (r *NotificationReducer) Next() error {
	if r.err != nil {
		return r.err
	}
	if !r.source.HasTop() {
		return invalidState("next on exhausted reducer")
	}
	if err := r.source.Next(); err != nil {
		return r.fail(err)
	}
	if err := r.consume(); err != nil {
		return r.fail(err)
	}
	return nil
}

func (r *NotificationReducer) fail(err error) error {
	r.err = err
	r.lastKeySet = false
	return err
}

// consume leaves the source on the next surfacing entry.
func (r *NotificationReducer) consume() error {
	r.reducing = true
	defer func() { r.reducing = false }()

	if r.lastKeySet {
		if err := r.skipGroup(r.lastKey); err != nil {
			return err
		}
	}

	if err := r.consumeDeletes(); err != nil {
		return err
	}

	if r.source.HasTop() {
		top := r.source.TopKey()
		if notification.IsNotification(top) && !notification.IsDelete(top) {
			r.lastKey = top.Clone()
			r.lastKeySet = true
			return nil
		}
	}
	r.lastKeySet = false
	return nil
}

func (r *NotificationReducer) skipGroup(key notification.Key) error {
	for r.source.HasTop() && r.source.TopKey().SameGroup(key) {
		if err := r.source.Next(); err != nil {
			return err
		}
		r.stats.Suppressed++
	}
	return nil
}

func (r *NotificationReducer) consumeDeletes() error {
	for r.source.HasTop() {
		top := r.source.TopKey()
		if !notification.IsNotification(top) || !notification.IsDelete(top) {
			return nil
		}
		saved := Entry{Key: top, Value: r.source.TopValue()}.Clone()

		if r.aggressive {
			if err := r.source.Next(); err != nil {
				return err
			}
			if err := r.skipGroup(saved.Key); err != nil {
				return err
			}
			r.stats.DeletesDropped++
			continue
		}

		// The first version after the delete must be live, and the run must
		// keep alternating from there.
		lastWasDelete := true
		orderly := true
		var scanned uint64

		if err := r.source.Next(); err != nil {
			return err
		}
		for r.source.HasTop() && r.source.TopKey().SameGroup(saved.Key) {
			k := r.source.TopKey()
			del := notification.IsDelete(k)
			orderly = orderly && del != lastWasDelete
			lastWasDelete = del
			scanned++
			if err := r.source.Next(); err != nil {
				return err
			}
		}
		r.stats.Suppressed += scanned

		if !orderly || lastWasDelete || r.truncated(saved.Key) {
			r.stats.DeletesPropagated++
			return r.source.Pushback(saved.Key, saved.Value)
		}

		// The visible history settles the group: every notification in it
		// was acknowledged, so nothing surfaces.
		r.stats.DeletesDropped++
	}
	return nil
}

// truncated reports whether the scan of group ran into the end of the seek
// range rather than the end of the group, i.e. the history seen is partial.
func (r *NotificationReducer) truncated(group notification.Key) bool {
	return !r.source.HasTop() && r.rng.End != nil && r.rng.End.SameGroup(group)
}
