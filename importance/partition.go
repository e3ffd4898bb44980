// Package importance splits a single lane into "older" (pageable) and
// "keep" (tail + promoted-by-importance) subsequences (spec §4.4).
package importance

import "github.com/forgevm/vmpage/types"

// Result is the output of partitioning one lane.
type Result struct {
	Older []types.Message
	Keep  []types.Message
}

// Split partitions lane L. If shouldPage is false, everything is kept. Else
// the first len(L)-tail messages are candidates for paging: each candidate
// below types.ImportanceThreshold goes to Older, the rest are promoted and
// rejoin Keep alongside the tail, both in original order. This guarantees
// spec invariant 5 (importance retention): a promoted message is never
// paged, so it always either stays in the buffer or is written to a page as
// part of Older (never both, never neither).
func Split(l []types.Message, tail int, shouldPage bool) Result {
	if !shouldPage {
		return Result{Keep: l}
	}

	cutoff := len(l) - tail
	if cutoff < 0 {
		cutoff = 0
	}

	candidates := l[:cutoff]
	rest := l[cutoff:]

	var older, promoted []types.Message
	for _, m := range candidates {
		if m.Importance < types.ImportanceThreshold {
			older = append(older, m)
		} else {
			promoted = append(promoted, m)
		}
	}

	keep := make([]types.Message, 0, len(promoted)+len(rest))
	keep = append(keep, promoted...)
	keep = append(keep, rest...)

	return Result{Older: older, Keep: keep}
}
