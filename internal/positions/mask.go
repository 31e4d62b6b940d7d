package positions

import (
	"strings"

	"github.com/hfi/secret-shepherd/internal/hashing"
	"github.com/hfi/secret-shepherd/pkg/anchor"
)

// MaskResult is the outcome of projecting a position map onto live text.
type MaskResult struct {
	// Ranges are the validated live-text spans to blank.
	Ranges []HideRange
	// Missing names whose recorded position no longer fingerprints to the
	// recorded hash; surfaced as forget-candidates, never hidden.
	Missing []string
}

// Mask computes hide-ranges for the presentation layer. Read-only with
// respect to text and map.
//
// Entries are walked in position order with a shift accumulator mirroring
// the Reconciler's: an entry whose projected span is the anchor form widens
// or narrows every subsequent projection and hides nothing (anchors are safe
// to display). An entry whose projected span fingerprints to the recorded
// hash is hidden exactly; anything else is reported missing so the caller
// can trigger a full reconcile. The wrong text is never hidden.
func Mask(text string, m Map, hasher *hashing.Service, syntax *anchor.Syntax) MaskResult {
	var res MaskResult
	shift := 0

	for _, e := range m.Sorted() {
		actual := e.Pos + shift

		if actual >= 0 && actual <= len(text) {
			token := syntax.Token(e.Name)
			if strings.HasPrefix(text[actual:], token) {
				shift += len(token) - e.Length
				continue
			}
			if e.Length > 0 && actual+e.Length <= len(text) &&
				hasher.Matches(text[actual:actual+e.Length], e.Hash) {
				res.Ranges = append(res.Ranges, HideRange{Start: actual, End: actual + e.Length})
				continue
			}
		}
		res.Missing = append(res.Missing, e.Name)
	}
	return res
}
