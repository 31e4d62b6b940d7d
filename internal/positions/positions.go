// Package positions implements the text-position reconciliation core: the
// PositionMap cache, the Reconciler that rebuilds it from arbitrary edited
// text, and the Masker that turns it into hide-ranges.
//
// Map offsets are resolved-text coordinates: the offset each secret would
// have once every anchor in the file is expanded back to its value. The
// Reconciler converts live-text offsets into that space with a running
// shift, and the Masker applies the inverse shift when projecting an entry
// back onto the live text. This keeps one map valid across files that mix
// stashed and resolved representations.
package positions

import "sort"

// Entry is a snapshot claim: the secret named Name (fingerprint Hash)
// occupies the text range [Pos, Pos+Length) in resolved coordinates. It is
// a cache, not a source of truth; consumers re-validate against Hash before
// trusting it.
type Entry struct {
	Name   string `json:"name"`
	Hash   string `json:"hash"`
	Pos    int    `json:"pos"`
	Length int    `json:"length"`
}

// Map is an ordered list of entries for one file's last-known text.
type Map []Entry

// Sorted returns a copy sorted by position ascending. Callers may append
// entries out of order, so consumers that walk with a shift accumulator
// sort first.
func (m Map) Sorted() Map {
	out := append(Map(nil), m...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Pos < out[j].Pos })
	return out
}

// Names returns the entry names in map order.
func (m Map) Names() []string {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, len(m))
	for i, e := range m {
		names[i] = e.Name
	}
	return names
}

// HideRange is one live-text span the presentation layer should blank.
type HideRange struct {
	Start int
	End   int
}
