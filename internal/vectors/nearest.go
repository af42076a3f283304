package vectors

import (
	"sort"
	"time"
)

// Nearest returns the vector whose epoch is closest to target.
//
// The search is a binary search over the epoch-sorted permutation, so it is
// O(log n). When two vectors are equally far from target, the one that came
// first in the provider's order wins. A nil or empty table is NotFound.
func Nearest(t *Table, target time.Time) (StateVector, error) {
	if t == nil || len(t.vectors) == 0 {
		return StateVector{}, Errorf(KindNotFound, "nearest", "table is empty")
	}

	n := len(t.byEpoch)
	// First sorted position whose epoch is not before target.
	i := sort.Search(n, func(k int) bool {
		return !t.vectors[t.byEpoch[k]].Epoch.Before(target)
	})

	switch i {
	case 0:
		return t.vectors[t.byEpoch[0]], nil
	case n:
		return t.vectors[t.byEpoch[n-1]], nil
	}

	lo, hi := t.byEpoch[i-1], t.byEpoch[i]
	dLo := target.Sub(t.vectors[lo].Epoch)
	dHi := t.vectors[hi].Epoch.Sub(target)
	switch {
	case dLo < dHi:
		return t.vectors[lo], nil
	case dHi < dLo:
		return t.vectors[hi], nil
	case lo < hi:
		return t.vectors[lo], nil
	default:
		return t.vectors[hi], nil
	}
}

// NearestRaw resolves target against unparsed epoch strings and returns the
// index of the closest one. Every string is parsed first; the first malformed
// entry aborts the call with an EpochFormat error, so a partial scan never
// produces an answer. Ties go to the lower index.
func NearestRaw(epochs []string, target time.Time) (int, error) {
	if len(epochs) == 0 {
		return -1, Errorf(KindNotFound, "nearest", "no epochs given")
	}
	parsed := make([]time.Time, len(epochs))
	for i, s := range epochs {
		t, err := ParseEpoch(s)
		if err != nil {
			return -1, err
		}
		parsed[i] = t
	}

	best := 0
	bestDist := absDuration(parsed[0].Sub(target))
	for i := 1; i < len(parsed); i++ {
		if d := absDuration(parsed[i].Sub(target)); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
