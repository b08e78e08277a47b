package stream

import "fmt"

// HeightRange is an inclusive range of account-chain heights.
type HeightRange struct {
	From uint64
	To   uint64
}

// Count returns the number of heights in the range.
func (r HeightRange) Count() uint64 {
	return r.To - r.From + 1
}

// SplitRange splits a height range into pages of at most pageSize heights.
func SplitRange(from, to, pageSize uint64) ([]HeightRange, error) {
	if pageSize == 0 {
		return nil, fmt.Errorf("page size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to height must be >= from height")
	}

	ranges := make([]HeightRange, 0)
	start := from
	for start <= to {
		remaining := to - start + 1
		var end uint64
		if remaining <= pageSize {
			end = to
		} else {
			end = start + pageSize - 1
		}
		ranges = append(ranges, HeightRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}

// RecoveryRange returns the heights to replay after a reconnect: one height of
// overlap below lastConfirmed through frontier, limited to the newest maxHeights.
// ok is false when nothing needs replaying.
func RecoveryRange(lastConfirmed, frontier, maxHeights uint64) (HeightRange, bool) {
	if lastConfirmed == 0 || frontier == 0 {
		return HeightRange{}, false
	}
	from := lastConfirmed
	if from > 1 {
		from--
	}
	if from > frontier {
		return HeightRange{}, false
	}
	if maxHeights > 0 && frontier-from+1 > maxHeights {
		from = frontier - maxHeights + 1
	}
	return HeightRange{From: from, To: frontier}, true
}
