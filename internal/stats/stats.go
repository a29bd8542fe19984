// Package stats turns the sequence ids a receiver observed into run statistics.
package stats

import (
	"fmt"

	"github.com/tkjaer/pathq/internal/shared"
)

// Received counts entries up to the first gap sentinel. Slots past the last
// captured packet may never have been filled, so len(observed) is not enough.
func Received(observed shared.ObservedSequence) int {
	for i, id := range observed {
		if id == 0 {
			return i
		}
	}
	return len(observed)
}

// OutOfOrder counts adjacent arrivals whose sequence id went down. It is a
// local check: only direct inversions between consecutive arrivals count.
func OutOfOrder(observed shared.ObservedSequence, received int) int {
	count := 0
	for i := 1; i < received && i < len(observed); i++ {
		if observed[i] < observed[i-1] {
			count++
		}
	}
	return count
}

// Compute summarizes one run against the number of packets the server expected.
func Compute(observed shared.ObservedSequence, expected int) shared.RunStatistics {
	received := Received(observed)
	st := shared.RunStatistics{
		Received:   received,
		Lost:       expected - received,
		OutOfOrder: OutOfOrder(observed, received),
	}
	if st.Lost < 0 {
		st.Warning = fmt.Errorf("%w: received %d packets but only %d were expected", shared.ErrStatisticsWarning, received, expected)
		st.Lost = 0
	}
	return st
}
