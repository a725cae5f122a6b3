package iterator

import "github.com/maxpert/ripple/notification"

type slotState uint8

const (
	slotEmpty slotState = iota
	slotBuffered
)

// Pushback wraps a source and can return exactly one consumed entry to the
// front of the stream. The reducer uses it to scan ahead through a whole
// cell group and then restore the single entry that must still surface,
// without re-reading storage.
type Pushback struct {
	source SortedIterator

	state    slotState
	buffered Entry

	// advanced is set once Next has moved past an entry since the last
	// Seek or Pushback; a pushback is only legal after that.
	advanced bool
}

// NewPushback wraps source.
func NewPushback(source SortedIterator) *Pushback {
	return &Pushback{source: source}
}

// Buffered reports whether an entry is waiting in the slot.
func (p *Pushback) Buffered() bool {
	return p.state == slotBuffered
}

func (p *Pushback) Seek(r notification.Range) error {
	p.state = slotEmpty
	p.buffered = Entry{}
	p.advanced = false
	return wrapSource("seek", p.source.Seek(r))
}

func (p *Pushback) HasTop() bool {
	return p.state == slotBuffered || p.source.HasTop()
}

func (p *Pushback) TopKey() notification.Key {
	if p.state == slotBuffered {
		return p.buffered.Key
	}
	return p.source.TopKey()
}

func (p *Pushback) TopValue() []byte {
	if p.state == slotBuffered {
		return p.buffered.Value
	}
	return p.source.TopValue()
}

func (p *Pushback) Next() error {
	if p.state == slotBuffered {
		p.state = slotEmpty
		p.buffered = Entry{}
		p.advanced = true
		return nil
	}
	if err := p.source.Next(); err != nil {
		return wrapSource("next", err)
	}
	p.advanced = true
	return nil
}

// Pushback returns an already consumed entry to the front of the stream.
// The key and value must be owned by the caller (cloned), since the source
// may reuse its buffers.
func (p *Pushback) Pushback(key notification.Key, value []byte) error {
	if p.state == slotBuffered {
		return invalidState("pushback of %s while %s is buffered", key, p.buffered.Key)
	}
	if !p.advanced {
		return invalidState("pushback of %s without a prior advance", key)
	}
	if p.source.HasTop() && notification.Compare(key, p.source.TopKey()) > 0 {
		return invalidState("pushback of %s would reorder the stream before %s", key, p.source.TopKey())
	}
	p.state = slotBuffered
	p.buffered = Entry{Key: key, Value: value}
	p.advanced = false
	return nil
}
