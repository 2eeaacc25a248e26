// Package globmatch implements the shell-style pattern matching used
// to decide whether a context and a job name are willing to run
// together.
//
// Patterns are matched with github.com/bmatcuk/doublestar, which
// understands `**`, `{a,b}` alternation and character classes. POSIX
// extended-glob operator syntax such as `@(foo|bar)` or `!(foo)` is
// not something doublestar implements; a positive alternation is
// degraded to a literal set (split on `|`) rather than rejected
// outright, and the negated form is unsupported. Operators relying on
// extended-glob syntax should prefer `{a,b}` alternation.
package globmatch

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Match reports whether name satisfies pattern. A malformed pattern
// never matches (logged by the caller, not here — this package has no
// logger dependency).
func Match(pattern, name string) bool {
	if alts, ok := extendedAlternation(pattern); ok {
		for _, alt := range alts {
			if ok, _ := doublestar.Match(alt, name); ok {
				return true
			}
		}
		return false
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// AnyMatch reports whether any pattern in patterns matches name.
func AnyMatch(patterns []string, name string) bool {
	for _, p := range patterns {
		if Match(p, name) {
			return true
		}
	}
	return false
}

// extendedAlternation degrades a `@(a|b|c)` or `!(a|b|c)` style
// operator to its plain-glob equivalent: the positive form becomes a
// literal set, the negated form is reported as unsupported (callers
// fall through to whole-pattern doublestar matching, which will simply
// not match — a safe default for a pattern operators shouldn't rely
// on).
func extendedAlternation(pattern string) ([]string, bool) {
	if !strings.HasPrefix(pattern, "@(") || !strings.HasSuffix(pattern, ")") {
		return nil, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(pattern, "@("), ")")
	return strings.Split(inner, "|"), true
}
