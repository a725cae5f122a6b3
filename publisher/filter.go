package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters notifications using glob patterns on row and qualifier
type GlobFilter struct {
	rowGlobs       []glob.Glob
	qualifierGlobs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter
// Empty patterns match everything
func NewGlobFilter(rowPatterns, qualifierPatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		rowGlobs:       make([]glob.Glob, 0, len(rowPatterns)),
		qualifierGlobs: make([]glob.Glob, 0, len(qualifierPatterns)),
	}

	for _, pattern := range rowPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid row pattern %q: %w", pattern, err)
		}
		filter.rowGlobs = append(filter.rowGlobs, g)
	}

	for _, pattern := range qualifierPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid qualifier pattern %q: %w", pattern, err)
		}
		filter.qualifierGlobs = append(filter.qualifierGlobs, g)
	}

	return filter, nil
}

// Match returns true if the row and qualifier match the configured patterns
// If no patterns are configured, all notifications match
func (f *GlobFilter) Match(row, qualifier []byte) bool {
	return matchAny(f.qualifierGlobs, string(qualifier)) && matchAny(f.rowGlobs, string(row))
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
