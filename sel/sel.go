package sel

import (
	"path"
)

// CollFilter returns true if a collection is allowed.
type CollFilter func(coll string) bool

func AllowAllFilter(string) bool {
	return true
}

// MakeFilter builds a filter from include and exclude lists. Entries are collection names
// or shell patterns ("logs_*"). Exclusion takes precedence over inclusion.
func MakeFilter(include, exclude []string) CollFilter {
	if len(include) == 0 && len(exclude) == 0 {
		return AllowAllFilter
	}

	return func(coll string) bool {
		if matchAny(exclude, coll) {
			return false
		}

		// with an include list, everything not listed is denied
		if len(include) > 0 {
			return matchAny(include, coll)
		}

		return true
	}
}

func matchAny(patterns []string, coll string) bool {
	for _, p := range patterns {
		if p == coll {
			return true
		}

		ok, err := path.Match(p, coll)
		if err == nil && ok {
			return true
		}
	}

	return false
}

// Apply returns the allowed names preserving their order.
func Apply(filter CollFilter, names []string) []string {
	if filter == nil {
		return names
	}

	rv := make([]string, 0, len(names))
	for _, name := range names {
		if filter(name) {
			rv = append(rv, name)
		}
	}

	return rv
}
