package engine

import "math"

// priorityTier is the download urgency assigned to a piece window.
type priorityTier int

const (
	tierNormal priorityTier = iota
	tierTail
	tierLead
)

// windowSize returns the number of pieces covered by the given fraction,
// rounded up so short torrents still get a non-empty window.
func windowSize(numPieces int, frac float64) int {
	if numPieces <= 0 || frac <= 0 {
		return 0
	}

	return int(math.Ceil(float64(numPieces) * frac))
}

// tierFor places a piece index into its priority tier. The leading
// window feeds early playback; the trailing window covers container
// indexes that many formats store at the end of the file.
func tierFor(index, numPieces, window int) priorityTier {
	switch {
	case index < window:
		return tierLead
	case index >= numPieces-window:
		return tierTail
	default:
		return tierNormal
	}
}

// leadingWindowComplete reports whether every piece in the first
// threshold fraction of the bitmap is individually complete. Overall
// progress is not enough: pieces can finish out of order inside the
// leading edge.
func leadingWindowComplete(pieces []bool, threshold float64) bool {
	if len(pieces) == 0 {
		return false
	}

	required := int(float64(len(pieces)) * threshold)
	if required > len(pieces) {
		required = len(pieces)
	}

	for i := 0; i < required; i++ {
		if !pieces[i] {
			return false
		}
	}

	return true
}
