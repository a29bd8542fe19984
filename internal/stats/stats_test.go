package stats

import (
	"errors"
	"testing"

	"github.com/tkjaer/pathq/internal/shared"
)

// seq returns ids from..to followed by gaps zero slots
func seq(from, to, gaps int) shared.ObservedSequence {
	var s shared.ObservedSequence
	for i := from; i <= to; i++ {
		s = append(s, uint16(i))
	}
	return append(s, make(shared.ObservedSequence, gaps)...)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		observed    shared.ObservedSequence
		expected    int
		want        shared.RunStatistics
		wantWarning bool
	}{
		{
			name:     "all received in order",
			observed: seq(1, 100, 0),
			expected: 100,
			want:     shared.RunStatistics{Received: 100, Lost: 0, OutOfOrder: 0},
		},
		{
			name:     "trailing loss",
			observed: seq(1, 80, 20),
			expected: 100,
			want:     shared.RunStatistics{Received: 80, Lost: 20, OutOfOrder: 0},
		},
		{
			name:     "local reorder",
			observed: shared.ObservedSequence{1, 2, 4, 3, 5},
			expected: 5,
			want:     shared.RunStatistics{Received: 5, Lost: 0, OutOfOrder: 1},
		},
		{
			name:        "more than expected clamps loss",
			observed:    seq(1, 12, 0),
			expected:    10,
			want:        shared.RunStatistics{Received: 12, Lost: 0, OutOfOrder: 0},
			wantWarning: true,
		},
		{
			name:     "nothing received",
			observed: make(shared.ObservedSequence, 10),
			expected: 10,
			want:     shared.RunStatistics{Received: 0, Lost: 10},
		},
		{
			name:     "empty sequence",
			observed: nil,
			expected: 3,
			want:     shared.RunStatistics{Received: 0, Lost: 3},
		},
		{
			name:     "reversed arrivals",
			observed: shared.ObservedSequence{5, 4, 3, 2, 1},
			expected: 5,
			want:     shared.RunStatistics{Received: 5, OutOfOrder: 4},
		},
		{
			name:     "late packet counts once",
			observed: shared.ObservedSequence{2, 3, 4, 1, 5, 0, 0},
			expected: 7,
			want:     shared.RunStatistics{Received: 5, Lost: 2, OutOfOrder: 1},
		},
		{
			name:     "scan stops at first sentinel",
			observed: shared.ObservedSequence{1, 2, 0, 4, 3},
			expected: 5,
			want:     shared.RunStatistics{Received: 2, Lost: 3, OutOfOrder: 0},
		},
		{
			name:     "duplicates are not inversions",
			observed: shared.ObservedSequence{1, 1, 2, 2},
			expected: 4,
			want:     shared.RunStatistics{Received: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.observed, tt.expected)

			if got.Received != tt.want.Received || got.Lost != tt.want.Lost || got.OutOfOrder != tt.want.OutOfOrder {
				t.Errorf("Compute() = {received %d, lost %d, ooo %d}, want {received %d, lost %d, ooo %d}",
					got.Received, got.Lost, got.OutOfOrder, tt.want.Received, tt.want.Lost, tt.want.OutOfOrder)
			}
			if tt.wantWarning {
				if !errors.Is(got.Warning, shared.ErrStatisticsWarning) {
					t.Errorf("Warning = %v, want ErrStatisticsWarning", got.Warning)
				}
			} else if got.Warning != nil {
				t.Errorf("unexpected Warning = %v", got.Warning)
			}
			if got.Lost < 0 {
				t.Errorf("Lost = %d, must never be negative", got.Lost)
			}
		})
	}
}

func TestCompute_ReceivedPlusLost(t *testing.T) {
	for received := 0; received <= 50; received++ {
		got := Compute(seq(1, received, 50-received), 50)
		if got.Received+got.Lost != 50 {
			t.Errorf("received %d: Received+Lost = %d, want 50", received, got.Received+got.Lost)
		}
	}
}

func TestOutOfOrder_BoundedByReceived(t *testing.T) {
	observed := shared.ObservedSequence{3, 2, 1}
	if got := OutOfOrder(observed, 10); got != 2 {
		t.Errorf("OutOfOrder() = %d, want 2", got)
	}
	if got := OutOfOrder(observed, 2); got != 1 {
		t.Errorf("OutOfOrder() = %d, want 1", got)
	}
}
