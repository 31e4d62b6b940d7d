// Package anchor implements the symbolic token syntax that stands in for a
// secret's value inside stashed text: <prefix>(<secretName>).
package anchor

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrefix is the reserved literal that opens every anchor token.
// Secret values starting with it are rejected at creation time, so the
// prefix can never legitimately collide with user data.
const DefaultPrefix = "@KeeShepherd"

// nameCharset restricts secret names so an anchor stays a single
// unambiguous token inside arbitrary text.
const nameCharset = `[A-Za-z0-9._\-]+`

var namePattern = regexp.MustCompile(`^` + nameCharset + `$`)

// Syntax builds and recognizes anchor tokens for one configured prefix.
type Syntax struct {
	prefix  string
	pattern *regexp.Regexp
}

// Ref is one anchor occurrence found in text.
type Ref struct {
	// Name is the secret name carried inside the token
	Name string
	// Start is the byte offset of the token's first character
	Start int
	// End is the byte offset just past the closing parenthesis
	End int
}

// NewSyntax creates a Syntax for the given prefix.
func NewSyntax(prefix string) (*Syntax, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, "()") {
		return nil, fmt.Errorf("anchor prefix %q must not contain parentheses", prefix)
	}
	pattern := regexp.MustCompile(regexp.QuoteMeta(prefix) + `\((` + nameCharset + `)\)`)
	return &Syntax{prefix: prefix, pattern: pattern}, nil
}

// Prefix returns the configured prefix literal.
func (s *Syntax) Prefix() string {
	return s.prefix
}

// Token returns the anchor form of a secret name.
func (s *Syntax) Token(name string) string {
	return s.prefix + "(" + name + ")"
}

// ValidName reports whether name can be carried inside an anchor token.
func (s *Syntax) ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// ReservedValue reports whether a candidate secret value starts with the
// anchor prefix and must therefore be rejected.
func (s *Syntax) ReservedValue(value string) bool {
	return strings.HasPrefix(value, s.prefix)
}

// IsAnchor reports whether the string is exactly one anchor token.
func (s *Syntax) IsAnchor(text string) bool {
	loc := s.pattern.FindStringIndex(text)
	return loc != nil && loc[0] == 0 && loc[1] == len(text)
}

// FindAll returns every anchor occurrence in text, in order.
func (s *Syntax) FindAll(text string) []Ref {
	matches := s.pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Ref{
			Name:  text[m[2]:m[3]],
			Start: m[0],
			End:   m[1],
		})
	}
	return refs
}
