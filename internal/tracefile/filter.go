// Package tracefile holds the record level tooling behind the tracelog
// commands: name filters, exports and the append benchmark.
package tracefile

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Filter selects records by the name their descriptor table gives them.
// A nil Filter matches every record.
type Filter struct {
	pattern string
	g       glob.Glob
}

// NewFilter compiles a glob over record names, using '.' as the separator
// so "io.*" matches "io.read" but not "io.read.retry". An empty pattern
// yields a nil Filter.
func NewFilter(pattern string) (*Filter, error) {
	if pattern == "" {
		return nil, nil
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("compile record filter %q: %w", pattern, err)
	}
	return &Filter{pattern: pattern, g: g}, nil
}

func (f *Filter) Match(name string) bool {
	if f == nil {
		return true
	}
	return f.g.Match(name)
}

func (f *Filter) String() string {
	if f == nil {
		return "*"
	}
	return f.pattern
}
