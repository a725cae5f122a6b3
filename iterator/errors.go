package iterator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState reports a broken internal invariant, such as a second
	// pushback while the slot is occupied. It always indicates a defect.
	ErrInvalidState = errors.New("iterator: invalid state")

	// ErrConfiguration reports an unusable construction-time option.
	ErrConfiguration = errors.New("iterator: invalid configuration")
)

// SourceError wraps a failure of the underlying source. It is fatal to the
// current scan or compaction and is never retried here.
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("iterator: source %s: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// wrapSource tags err as a source failure unless it already is one.
func wrapSource(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	return &SourceError{Op: op, Err: err}
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
