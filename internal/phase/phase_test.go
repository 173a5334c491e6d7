package phase

import "testing"

func TestFor(t *testing.T) {
	tests := []struct {
		name      string
		day       int
		target    int
		wantPhase Phase
		wantLimit int
	}{
		{"day 0 not started", 0, 50, 0, 0},
		{"negative day", -1, 50, 0, 0},
		{"day 1 phase 1", 1, 50, 1, 5},
		{"day 7 still phase 1", 7, 50, 1, 5},
		{"day 8 phase 2", 8, 50, 2, 12},
		{"day 14 phase 2", 14, 50, 2, 12},
		{"day 15 phase 3", 15, 50, 3, 25},
		{"day 21 phase 3", 21, 50, 3, 25},
		{"day 22 phase 4", 22, 50, 4, 37},
		{"day 28 phase 4", 28, 50, 4, 37},
		{"day 29 phase 5", 29, 50, 5, 50},
		{"day 365 stays phase 5", 365, 50, 5, 50},
		// Floors kick in for small targets.
		{"tiny target phase 1 floor", 3, 10, 1, 5},
		{"tiny target phase 2 floor", 10, 10, 2, 10},
		{"tiny target phase 3 floor", 16, 10, 3, 15},
		{"tiny target phase 4 floor", 25, 10, 4, 20},
		{"tiny target phase 5 no floor", 30, 10, 5, 10},
		// Truncation, not rounding.
		{"fraction truncates", 1, 59, 1, 5},
		{"fraction truncates phase 3", 15, 59, 3, 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, limit := For(tt.day, tt.target)
			if p != tt.wantPhase || limit != tt.wantLimit {
				t.Errorf("For(%d, %d) = (%d, %d), want (%d, %d)",
					tt.day, tt.target, p, limit, tt.wantPhase, tt.wantLimit)
			}
		})
	}
}

func TestLimitMonotonicInDay(t *testing.T) {
	prev := 0
	for day := 1; day <= 60; day++ {
		limit := DailyLimit(day, 200)
		if limit < prev {
			t.Fatalf("limit decreased at day %d: %d < %d", day, limit, prev)
		}
		prev = limit
	}
}

func TestIsBoundary(t *testing.T) {
	boundaries := map[int]bool{1: true, 8: true, 15: true, 22: true, 29: true}
	for day := 0; day <= 35; day++ {
		if got := IsBoundary(day); got != boundaries[day] {
			t.Errorf("IsBoundary(%d) = %v, want %v", day, got, boundaries[day])
		}
	}
}

func TestBaseScore(t *testing.T) {
	want := map[Phase]float64{0: 0, 1: 50, 2: 65, 3: 80, 4: 90, 5: 100}
	for p, ws := range want {
		if got := BaseScore(p); got != ws {
			t.Errorf("BaseScore(%d) = %v, want %v", p, got, ws)
		}
	}
}
