// Package phase maps a mailbox's warmup progress to its ramp phase and
// daily send limit. The ramp runs five phases over roughly a month,
// starting at 10% of the steady-state target and reaching 100% on day 29.
package phase

import "fmt"

// Phase is one of the five warmup ramp stages.
type Phase int

// phaseDef maps a phase to its day range, target fraction, floor and
// the base score used by the reputation engine.
var phaseDefs = []struct {
	phase     Phase
	firstDay  int
	lastDay   int // inclusive; 0 means open-ended
	fraction  float64
	floor     int
	baseScore float64
}{
	{1, 1, 7, 0.10, 5, 50},
	{2, 8, 14, 0.25, 10, 65},
	{3, 15, 21, 0.50, 15, 80},
	{4, 22, 28, 0.75, 20, 90},
	{5, 29, 0, 1.00, 0, 100},
}

// Boundaries are the warmup days on which a new phase begins. The day
// advancer emits a phase-transition record when a mailbox reaches one.
var Boundaries = []int{1, 8, 15, 22, 29}

// For returns the phase and daily send limit for a warmup day and
// steady-state target. Day 0 means warmup has not started: limit 0.
func For(warmupDay, target int) (Phase, int) {
	if warmupDay <= 0 {
		return 0, 0
	}
	for _, d := range phaseDefs {
		if warmupDay >= d.firstDay && (d.lastDay == 0 || warmupDay <= d.lastDay) {
			limit := int(float64(target) * d.fraction)
			if limit < d.floor {
				limit = d.floor
			}
			return d.phase, limit
		}
	}
	return 5, target
}

// DailyLimit returns only the limit component of For.
func DailyLimit(warmupDay, target int) int {
	_, limit := For(warmupDay, target)
	return limit
}

// BaseScore returns the reputation base score for a phase (50, 65, 80,
// 90, 100 for phases 1-5). Phase 0 scores 0.
func BaseScore(p Phase) float64 {
	for _, d := range phaseDefs {
		if d.phase == p {
			return d.baseScore
		}
	}
	return 0
}

// IsBoundary reports whether reaching warmupDay crosses into a new phase.
func IsBoundary(warmupDay int) bool {
	for _, b := range Boundaries {
		if warmupDay == b {
			return true
		}
	}
	return false
}

// Describe returns a short human-readable phase label for status output.
func Describe(warmupDay int) string {
	switch p, _ := For(warmupDay, 1); p {
	case 1:
		return fmt.Sprintf("Phase 1: Initial warmup (Day %d/7)", warmupDay)
	case 2:
		return fmt.Sprintf("Phase 2: Building trust (Day %d/14)", warmupDay)
	case 3:
		return fmt.Sprintf("Phase 3: Increasing volume (Day %d/21)", warmupDay)
	case 4:
		return fmt.Sprintf("Phase 4: Near target (Day %d/28)", warmupDay)
	case 5:
		return fmt.Sprintf("Phase 5: Full warmup (Day %d)", warmupDay)
	}
	return "Not in warmup"
}
