// Package stash performs the destructive half of the engine: the one-pass
// text substitution that swaps secret values for anchors (stash) and back
// (unstash).
package stash

import (
	"sort"
	"strings"

	"github.com/hfi/secret-shepherd/pkg/anchor"
)

// Direction selects which way the substitution runs.
type Direction int

const (
	// Stash replaces live values with anchor tokens (commit-safe).
	Stash Direction = iota
	// Unstash replaces anchor tokens with live values.
	Unstash
)

// String implements fmt.Stringer for logging.
func (d Direction) String() string {
	if d == Stash {
		return "stash"
	}
	return "unstash"
}

// Result is the outcome of one transformation pass.
type Result struct {
	// Text is the transformed output.
	Text string
	// Replaced counts source→target swaps performed.
	Replaced int
	// Missing are the names never seen in either form; candidates for
	// asking the user whether the secret should be forgotten.
	Missing []string
}

// Changed reports whether the output differs from the input.
func (r Result) Changed() bool {
	return r.Replaced > 0
}

// Transform rewrites text in a single left-to-right pass. values maps secret
// name to live value and must already be restricted to secrets eligible for
// this direction (managed only); names with empty values are ignored.
//
// At each position every remaining pair is tested, longest source first: a
// source token is swapped for its target, and a target token already in
// place is copied through verbatim so re-running the same operation is
// idempotent and never double-encodes. All unmatched bytes are reproduced
// exactly. There are no per-substitution failure modes; absence of a match
// is not an error, it is "missing".
func Transform(text string, values map[string]string, dir Direction, syntax *anchor.Syntax) Result {
	type pair struct {
		name   string
		source string
		target string
	}

	pairs := make([]pair, 0, len(values))
	for name, value := range values {
		if value == "" {
			continue
		}
		token := syntax.Token(name)
		p := pair{name: name}
		if dir == Stash {
			p.source, p.target = value, token
		} else {
			p.source, p.target = token, value
		}
		pairs = append(pairs, p)
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if len(pairs[i].source) != len(pairs[j].source) {
			return len(pairs[i].source) > len(pairs[j].source)
		}
		return pairs[i].name < pairs[j].name
	})

	var out strings.Builder
	out.Grow(len(text))
	found := make(map[string]bool, len(pairs))
	replaced := 0

	for pos := 0; pos < len(text); {
		matched := false
		for _, p := range pairs {
			rest := text[pos:]

			if strings.HasPrefix(rest, p.source) {
				out.WriteString(p.target)
				pos += len(p.source)
				found[p.name] = true
				replaced++
				matched = true
				break
			}

			// Already in the desired end state for this secret: copy it
			// through unchanged and count the secret as present.
			if strings.HasPrefix(rest, p.target) {
				out.WriteString(p.target)
				pos += len(p.target)
				found[p.name] = true
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(text[pos])
			pos++
		}
	}

	res := Result{Text: out.String(), Replaced: replaced}
	names := make([]string, 0, len(pairs))
	for _, p := range pairs {
		names = append(names, p.name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !found[name] {
			res.Missing = append(res.Missing, name)
		}
	}
	return res
}
