// Package matcher implements the wildcard-or-regex pattern matching
// spec.md §4.5 Stage A/C need for deleteTags/excludeTags, selected by a
// single mode flag (useRegex). Wildcard mode is grounded on
// github.com/gobwas/glob, an indirect dependency of
// sigs.k8s.io/promo-tools already present in this corpus for filename
// and tag glob matching.
package matcher

import (
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
)

// Matcher reports whether a tag name matches a configured pattern set.
type Matcher interface {
	Match(tag string) bool
}

// New builds a Matcher over patterns. useRegex selects between a single
// combined regular expression (patterns[0]) and a comma-list of wildcard
// globs (spec.md §6 "deleteTags: comma-list or regex ... useRegex: mode
// flag").
func New(patterns []string, useRegex bool) (Matcher, error) {
	if len(patterns) == 0 {
		return noneMatcher{}, nil
	}
	if useRegex {
		if len(patterns) != 1 {
			return nil, fmt.Errorf("regex mode accepts exactly one pattern, got %d", len(patterns))
		}
		re, err := regexp.Compile(patterns[0])
		if err != nil {
			return nil, fmt.Errorf("compiling regex pattern %q: %w", patterns[0], err)
		}
		return regexMatcher{re: re}, nil
	}
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling wildcard pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return wildcardMatcher{globs: globs}, nil
}

type noneMatcher struct{}

func (noneMatcher) Match(string) bool { return false }

type regexMatcher struct{ re *regexp.Regexp }

func (m regexMatcher) Match(tag string) bool { return m.re.MatchString(tag) }

type wildcardMatcher struct{ globs []glob.Glob }

func (m wildcardMatcher) Match(tag string) bool {
	for _, g := range m.globs {
		if g.Match(tag) {
			return true
		}
	}
	return false
}
