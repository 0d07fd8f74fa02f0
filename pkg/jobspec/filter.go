package jobspec

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// AddressFilter matches resource addresses against compiled include and
// exclude globs. Excludes always win; an empty include list matches
// everything.
type AddressFilter struct {
	include []string
	exclude []string
}

// Compile validates the filter's glob patterns and returns a matcher.
func (f Filters) Compile() (*AddressFilter, error) {
	for _, p := range append(append([]string{}, f.Include...), f.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("job spec: invalid filter pattern %q", p)
		}
	}
	return &AddressFilter{
		include: append([]string{}, f.Include...),
		exclude: append([]string{}, f.Exclude...),
	}, nil
}

// Match reports whether address passes the filter.
func (m *AddressFilter) Match(address string) bool {
	for _, p := range m.exclude {
		if ok, _ := doublestar.Match(p, address); ok {
			return false
		}
	}
	if len(m.include) == 0 {
		return true
	}
	for _, p := range m.include {
		if ok, _ := doublestar.Match(p, address); ok {
			return true
		}
	}
	return false
}
