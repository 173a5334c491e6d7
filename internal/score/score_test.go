package score

import (
	"math"
	"testing"
)

func TestComputeHealthySender(t *testing.T) {
	in := Inputs{
		Sent:        100,
		Opened:      80,
		Replied:     30,
		WarmupDay:   30,
		PhaseTarget: 50,
		PhaseActual: 48,
	}

	r := Compute(in)

	// open_rate 0.8 -> 100, reply_rate 0.3 -> 100, phase 100+10 clamped,
	// spam 0 -> 100: weighted 100.
	if r.Score != 100 {
		t.Errorf("Score = %v, want 100", r.Score)
	}
	if r.Grade != "A+" {
		t.Errorf("Grade = %q, want A+", r.Grade)
	}
	if r.Components.Open != 100 || r.Components.Reply != 100 || r.Components.Phase != 100 || r.Components.Spam != 100 {
		t.Errorf("components = %+v", r.Components)
	}
	if len(r.Recommendations) != 0 {
		t.Errorf("unexpected recommendations: %v", r.Recommendations)
	}
}

func TestComputeWeights(t *testing.T) {
	// open_rate 0.5 -> 80, reply_rate 0.1 -> 70, day 10 phase 2 base 65
	// (actual meets 90% of target -> +10 = 75), spam_rate 0 -> 100.
	in := Inputs{
		Sent:        100,
		Opened:      50,
		Replied:     10,
		WarmupDay:   10,
		PhaseTarget: 12,
		PhaseActual: 12,
	}

	r := Compute(in)
	want := 0.40*80 + 0.30*70 + 0.20*75 + 0.10*100 // 78.0
	if math.Abs(r.Score-want) > 0.05 {
		t.Errorf("Score = %v, want %v", r.Score, want)
	}
	if r.Grade != "B" {
		t.Errorf("Grade = %q, want B", r.Grade)
	}
}

func TestComputeSpamPenalty(t *testing.T) {
	base := Inputs{
		Sent: 100, Opened: 80, Replied: 30,
		WarmupDay: 30, PhaseTarget: 50, PhaseActual: 50,
	}
	spammy := base
	spammy.SpamDetected = 15 // 15% spam rate

	clean := Compute(base)
	hit := Compute(spammy)
	if hit.Score >= clean.Score {
		t.Errorf("spam should lower score: %v >= %v", hit.Score, clean.Score)
	}
	// spam_rate 0.15 above all tiers: max(0, 100-0.15*100*8)=max(0,-20)=0,
	// recovery 0 -> -10 clamped at 0.
	if hit.Components.Spam != 0 {
		t.Errorf("spam component = %v, want 0", hit.Components.Spam)
	}
}

func TestComputeRecoveryBonus(t *testing.T) {
	in := Inputs{
		Sent: 100, Opened: 80, Replied: 30,
		SpamDetected: 4, SpamRecovered: 4,
		WarmupDay: 30, PhaseTarget: 50, PhaseActual: 50,
	}
	r := Compute(in)
	// spam_rate 0.04 -> 85, full recovery -> +10 = 95.
	if r.Components.Spam != 95 {
		t.Errorf("spam component = %v, want 95", r.Components.Spam)
	}
}

func TestComputeNoSendsFallsBackToPhase(t *testing.T) {
	r := Compute(Inputs{WarmupDay: 3})
	if r.Score != 50 {
		t.Errorf("Score = %v, want phase-1 base 50", r.Score)
	}
	if r.Grade != "D" {
		t.Errorf("Grade = %q, want D", r.Grade)
	}
}

func TestOpenScoreMonotonic(t *testing.T) {
	prev := -1.0
	for rate := 0.0; rate <= 1.0; rate += 0.01 {
		s := openScore(rate)
		if s < prev {
			t.Fatalf("openScore decreased at rate %.2f: %v < %v", rate, s, prev)
		}
		prev = s
	}
}

func TestReplyScoreMonotonic(t *testing.T) {
	prev := -1.0
	for rate := 0.0; rate <= 0.5; rate += 0.005 {
		s := replyScore(rate)
		if s < prev {
			t.Fatalf("replyScore decreased at rate %.3f: %v < %v", rate, s, prev)
		}
		prev = s
	}
}

func TestGradeBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{95, "A+"}, {90, "A+"}, {89.9, "A"}, {80, "A"},
		{79.9, "B"}, {70, "B"}, {65, "C"}, {55, "D"}, {40, "F"},
	}
	for _, tt := range tests {
		if got := Grade(tt.score); got != tt.want {
			t.Errorf("Grade(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}
