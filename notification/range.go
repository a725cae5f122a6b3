package notification

// Range bounds a scan over keys. A nil bound is unbounded.
type Range struct {
	Start          *Key
	StartInclusive bool
	End            *Key
	EndInclusive   bool
}

// InfiniteRange covers every key.
func InfiniteRange() Range {
	return Range{StartInclusive: true, EndInclusive: true}
}

// NewRange builds a range over explicit keys.
func NewRange(start *Key, startInclusive bool, end *Key, endInclusive bool) Range {
	return Range{Start: start, StartInclusive: startInclusive, End: end, EndInclusive: endInclusive}
}

// RowRange covers rows in [startRow, endRow). A nil row leaves that side open.
func RowRange(startRow, endRow []byte) Range {
	r := InfiniteRange()
	if startRow != nil {
		r.Start = &Key{Row: startRow, Timestamp: MaxTimestamp}
	}
	if endRow != nil {
		r.End = &Key{Row: endRow, Timestamp: MaxTimestamp}
		r.EndInclusive = false
	}
	return r
}

// ExactRow covers every key of a single row.
func ExactRow(row []byte) Range {
	next := make([]byte, len(row)+1)
	copy(next, row)
	return RowRange(row, next)
}

// IsInfinite reports whether neither side is bounded.
func (r Range) IsInfinite() bool {
	return r.Start == nil && r.End == nil
}

// BeforeStartKey reports whether k sorts before the start of the range.
func (r Range) BeforeStartKey(k Key) bool {
	if r.Start == nil {
		return false
	}
	c := Compare(k, *r.Start)
	if r.StartInclusive {
		return c < 0
	}
	return c <= 0
}

// AfterEndKey reports whether k sorts after the end of the range.
func (r Range) AfterEndKey(k Key) bool {
	if r.End == nil {
		return false
	}
	c := Compare(k, *r.End)
	if r.EndInclusive {
		return c > 0
	}
	return c >= 0
}

// Contains reports whether k lies inside the range.
func (r Range) Contains(k Key) bool {
	return !r.BeforeStartKey(k) && !r.AfterEndKey(k)
}

// MaximizeStartTimestamp widens the start to the first possible version of
// the start key's cell group, so a reader positioned by the returned range
// sees the whole version run of that group.
func (r Range) MaximizeStartTimestamp() Range {
	if r.Start == nil || r.Start.Timestamp == MaxTimestamp {
		return r
	}
	start := r.Start.WithTimestamp(MaxTimestamp)
	r.Start = &start
	r.StartInclusive = true
	return r
}
