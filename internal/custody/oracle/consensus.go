package oracle

import (
	"sort"

	"github.com/qcnet/warden/internal/core/domain"
)

type verdict int

const (
	// verdictPending means the round needs more submissions
	verdictPending verdict = iota
	// verdictReached means the round settled on a balance
	verdictReached
	// verdictFailed means no quorum can be reached with the remaining
	// attesters
	verdictFailed
)

// evaluate decides a round's outcome from its submissions so far. population
// is the total number of registered attesters and bounds how many
// submissions can still arrive.
func evaluate(mode domain.ConsensusMode, subs []*domain.Attestation, quorum, minAttesters, population int) (uint64, verdict) {
	if mode == domain.ConsensusMedian {
		if len(subs) < minAttesters {
			return 0, verdictPending
		}
		values := make([]uint64, len(subs))
		for i, sub := range subs {
			values[i] = sub.Balance
		}
		return medianOf(values), verdictReached
	}

	counts := make(map[uint64]int)
	best := 0
	for _, sub := range subs {
		counts[sub.Balance]++
		if counts[sub.Balance] > best {
			best = counts[sub.Balance]
		}
	}
	for value, count := range counts {
		if count >= quorum {
			return value, verdictReached
		}
	}

	remaining := population - len(subs)
	if remaining < 0 {
		remaining = 0
	}
	if best+remaining < quorum {
		return 0, verdictFailed
	}
	return 0, verdictPending
}

// medianOf returns the median balance. For an even count it returns the mean
// of the two middle values, computed without overflowing uint64.
func medianOf(values []uint64) uint64 {
	sorted := make([]uint64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	a, b := sorted[n/2-1], sorted[n/2]
	return a/2 + b/2 + (a%2+b%2)/2
}
