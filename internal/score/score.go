// Package score computes a sender's reputation score from its last 30
// days of sends, engagement and spam detections.
package score

import (
	"fmt"
	"math"

	"github.com/ignite/warmup-engine/internal/phase"
)

// Inputs are the raw rates and ramp figures the score is computed from.
type Inputs struct {
	Sent          int
	Opened        int
	Replied       int
	SpamDetected  int
	SpamRecovered int

	WarmupDay   int
	PhaseTarget int     // current daily limit
	PhaseActual float64 // avg sends per business day over the last 7
}

// Components is the per-dimension breakdown returned with the score.
type Components struct {
	Open  float64 `json:"open"`
	Reply float64 `json:"reply"`
	Phase float64 `json:"phase"`
	Spam  float64 `json:"spam"`
}

// Result is one scoring outcome.
type Result struct {
	Score      float64    `json:"score"`
	Grade      string     `json:"grade"`
	Status     string     `json:"status"`
	Components Components `json:"components"`

	OpenRate  float64 `json:"open_rate"`
	ReplyRate float64 `json:"reply_rate"`
	SpamRate  float64 `json:"spam_rate"`

	Recommendations []string `json:"recommendations,omitempty"`
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

func openScore(rate float64) float64 {
	switch {
	case rate >= 0.6:
		return 100
	case rate >= 0.4:
		return 80
	case rate >= 0.2:
		return 60
	default:
		return rate / 0.2 * 60
	}
}

func replyScore(rate float64) float64 {
	switch {
	case rate >= 0.25:
		return 100
	case rate >= 0.15:
		return 85
	case rate >= 0.05:
		return 70
	default:
		return rate / 0.05 * 70
	}
}

func phaseScore(in Inputs) float64 {
	p, _ := phase.For(in.WarmupDay, 1)
	s := phase.BaseScore(p)
	if in.PhaseTarget > 0 {
		if in.PhaseActual >= 0.9*float64(in.PhaseTarget) {
			s += 10
		} else if in.PhaseActual < 0.5*float64(in.PhaseTarget) {
			s -= 15
		}
	}
	return clamp(s)
}

func spamScore(spamRate, recoveryRate float64, detected int) float64 {
	var s float64
	switch {
	case spamRate <= 0.02:
		s = 100
	case spamRate <= 0.05:
		s = 85
	case spamRate <= 0.10:
		s = 60
	default:
		s = math.Max(0, 100-spamRate*100*8)
	}
	if detected > 0 {
		if recoveryRate >= 0.8 {
			s += 10
		} else if recoveryRate < 0.5 {
			s -= 10
		}
	}
	return clamp(s)
}

// Grade maps a score to its letter grade.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A+"
	case score >= 80:
		return "A"
	case score >= 70:
		return "B"
	case score >= 60:
		return "C"
	case score >= 50:
		return "D"
	default:
		return "F"
	}
}

func status(score float64) string {
	switch {
	case score >= 90:
		return "Excellent: reputation is strong, ready for full volume"
	case score >= 80:
		return "Good: warmup on track"
	case score >= 70:
		return "Fair: engagement could be higher"
	case score >= 60:
		return "Needs attention: engagement or deliverability lagging"
	default:
		return "At risk: reduce volume and investigate deliverability"
	}
}

// Compute scores one sender. With no sends in the window the score falls
// back to the phase base so a fresh mailbox is not graded F.
func Compute(in Inputs) Result {
	if in.Sent == 0 {
		p, _ := phase.For(in.WarmupDay, 1)
		base := phase.BaseScore(p)
		return Result{
			Score:      base,
			Grade:      Grade(base),
			Status:     "No sends in window yet",
			Components: Components{Phase: base},
		}
	}

	openRate := float64(in.Opened) / float64(in.Sent)
	replyRate := float64(in.Replied) / float64(in.Sent)
	spamRate := float64(in.SpamDetected) / float64(in.Sent)
	recoveryRate := 0.0
	if in.SpamDetected > 0 {
		recoveryRate = float64(in.SpamRecovered) / float64(in.SpamDetected)
	}

	c := Components{
		Open:  openScore(openRate),
		Reply: replyScore(replyRate),
		Phase: phaseScore(in),
		Spam:  spamScore(spamRate, recoveryRate, in.SpamDetected),
	}

	score := 0.40*c.Open + 0.30*c.Reply + 0.20*c.Phase + 0.10*c.Spam
	score = clamp(math.Round(score*10) / 10)

	return Result{
		Score:           score,
		Grade:           Grade(score),
		Status:          status(score),
		Components:      c,
		OpenRate:        openRate,
		ReplyRate:       replyRate,
		SpamRate:        spamRate,
		Recommendations: recommend(openRate, replyRate, spamRate, in),
	}
}

func recommend(openRate, replyRate, spamRate float64, in Inputs) []string {
	var recs []string
	if openRate < 0.4 {
		recs = append(recs, fmt.Sprintf("Open rate %.0f%% is low; verify recipient pool engagement settings", openRate*100))
	}
	if replyRate < 0.15 {
		recs = append(recs, fmt.Sprintf("Reply rate %.0f%% is low; consider raising reply_rate_target on recipients", replyRate*100))
	}
	if spamRate > 0.05 {
		recs = append(recs, fmt.Sprintf("Spam rate %.1f%% is elevated; slow the ramp and review content templates", spamRate*100))
	}
	if in.PhaseTarget > 0 && in.PhaseActual < 0.5*float64(in.PhaseTarget) {
		recs = append(recs, "Actual volume well below the phase target; check dispatch failures")
	}
	return recs
}
