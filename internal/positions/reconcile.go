package positions

import (
	"sort"
	"strings"

	"github.com/hfi/secret-shepherd/internal/hashing"
	"github.com/hfi/secret-shepherd/internal/secrets"
	"github.com/hfi/secret-shepherd/pkg/anchor"
)

// Reconcile scans text once, left to right, and rebuilds the position map
// for the known secrets. values maps secret name to its live value when the
// backend could resolve one; it may be empty or partial, in which case
// matching degrades to fingerprint comparison.
//
// At every position each candidate is tested in priority order: anchor form
// (cheap, unambiguous), live value (cheap string compare), then fingerprint
// of the length-sized substring (costly, always correct). Candidates are
// ordered longest source token first so that when one secret's value is a
// substring of another's, the longer secret claims the span.
//
// Returns the rebuilt map and the names of secrets never matched. A secret
// occurring more than once gets one entry per occurrence; missing means
// matched zero times.
func Reconcile(text string, known []secrets.Secret, values map[string]string, hasher *hashing.Service, syntax *anchor.Syntax) (Map, []string) {
	if len(known) == 0 {
		return nil, nil
	}

	type candidate struct {
		sec    secrets.Secret
		token  string // anchor form
		value  string // live value, "" when unresolved
		srcLen int
	}
	cands := make([]candidate, 0, len(known))
	for _, sec := range known {
		c := candidate{sec: sec, token: syntax.Token(sec.Name), srcLen: sec.Length}
		if v, ok := values[sec.Name]; ok && v != "" {
			c.value = v
			if len(v) > c.srcLen {
				c.srcLen = len(v)
			}
		}
		cands = append(cands, c)
	}
	// Longest-match-wins tie-break for overlapping values; name order keeps
	// equal lengths deterministic.
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].srcLen != cands[j].srcLen {
			return cands[i].srcLen > cands[j].srcLen
		}
		return cands[i].sec.Name < cands[j].sec.Name
	})

	var m Map
	found := make(map[string]bool, len(cands))
	shift := 0

	for pos := 0; pos < len(text); {
		matched := false
		for _, c := range cands {
			rest := text[pos:]

			if strings.HasPrefix(rest, c.token) {
				// Record the plaintext length, not the anchor's, so masking
				// knows how wide the eventual unstashed value will be.
				m = append(m, Entry{Name: c.sec.Name, Hash: c.sec.Hash, Pos: pos + shift, Length: c.sec.Length})
				shift += c.sec.Length - len(c.token)
				pos += len(c.token)
				found[c.sec.Name] = true
				matched = true
				break
			}

			if c.value != "" && strings.HasPrefix(rest, c.value) {
				m = append(m, Entry{Name: c.sec.Name, Hash: c.sec.Hash, Pos: pos + shift, Length: len(c.value)})
				pos += len(c.value)
				found[c.sec.Name] = true
				matched = true
				break
			}

			if c.sec.Length > 0 && pos+c.sec.Length <= len(text) &&
				hasher.Matches(text[pos:pos+c.sec.Length], c.sec.Hash) {
				m = append(m, Entry{Name: c.sec.Name, Hash: c.sec.Hash, Pos: pos + shift, Length: c.sec.Length})
				pos += c.sec.Length
				found[c.sec.Name] = true
				matched = true
				break
			}
		}
		if !matched {
			pos++
		}
	}

	var missing []string
	for _, sec := range known {
		if !found[sec.Name] {
			missing = append(missing, sec.Name)
		}
	}
	return m, missing
}
