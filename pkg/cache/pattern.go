package cache

import (
	"fmt"
	"strings"
)

// Pattern is a compiled key glob. '*' matches any run of characters,
// including none; every other character matches itself. Matching is anchored.
type Pattern struct {
	raw   string
	parts []string
}

// CompilePattern validates and compiles a glob.
// Empty patterns and the characters ? [ ] \ are rejected with ErrInvalidPattern
// because remote stores would give them a meaning the local store does not.
func CompilePattern(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if i := strings.IndexAny(pattern, `?[]\`); i >= 0 {
		return nil, fmt.Errorf("%w: unsupported character %q in %q", ErrInvalidPattern, pattern[i], pattern)
	}
	return &Pattern{raw: pattern, parts: strings.Split(pattern, "*")}, nil
}

// String returns the source glob.
func (p *Pattern) String() string {
	return p.raw
}

// Literal reports whether the pattern has no wildcard.
func (p *Pattern) Literal() bool {
	return len(p.parts) == 1
}

// Match reports whether key matches the whole pattern.
func (p *Pattern) Match(key string) bool {
	if p.Literal() {
		return key == p.raw
	}

	first := p.parts[0]
	last := p.parts[len(p.parts)-1]
	if len(key) < len(first)+len(last) || !strings.HasPrefix(key, first) {
		return false
	}

	rest := key[len(first):]
	for _, part := range p.parts[1 : len(p.parts)-1] {
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
	}
	return strings.HasSuffix(rest, last)
}

// likePattern translates the glob into a SQL LIKE pattern using '\' as escape.
func (p *Pattern) likePattern() string {
	var b strings.Builder
	for i, part := range p.parts {
		if i > 0 {
			b.WriteByte('%')
		}
		b.WriteString(escapeLike(part))
	}
	return b.String()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
