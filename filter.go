package stampwatch

import (
	"fmt"
	"regexp"
)

// PathFilter reports whether a channel path should be included in a notification.
type PathFilter func(path string) bool

// NewPathFilter compiles include and exclude patterns into a PathFilter.
// A path passes if it matches no exclude and, when includes are given, at
// least one include.
func NewPathFilter(includes, excludes []string) (PathFilter, error) {
	reIncludes, err := compileAll("include", includes)
	if err != nil {
		return nil, err
	}

	reExcludes, err := compileAll("exclude", excludes)
	if err != nil {
		return nil, err
	}

	if len(reIncludes) == 0 && len(reExcludes) == 0 {
		return func(string) bool { return true }, nil
	}

	filter := func(path string) bool {
		for _, re := range reExcludes {
			if re.MatchString(path) {
				return false
			}
		}

		if len(reIncludes) == 0 {
			return true
		}

		for _, re := range reIncludes {
			if re.MatchString(path) {
				return true
			}
		}

		return false
	}

	return filter, nil
}

func compileAll(kind string, patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %v: %w", kind, pattern, err)
		}
		compiled = append(compiled, re)
	}

	return compiled, nil
}
