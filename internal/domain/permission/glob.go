package permission

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// doublestar treats '/' as a path separator that '*' cannot cross. Commands
// are not paths, so both sides swap '/' for NUL, which can never appear in
// a command we accept.
const separatorStandIn = "\x00"

func compile(pattern string) (string, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return "", fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if strings.Contains(p, separatorStandIn) {
		return "", fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidPattern, pattern)
	}
	p = strings.ReplaceAll(p, "/", separatorStandIn)
	if !doublestar.ValidatePattern(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	return p, nil
}

func normalize(command string) (string, bool) {
	c := strings.TrimSpace(command)
	if c == "" || strings.Contains(c, separatorStandIn) {
		return "", false
	}
	return strings.ReplaceAll(c, "/", separatorStandIn), true
}

// Literal escapes glob metacharacters so the result matches s exactly.
func Literal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
