// Package schedule generates and persists per-day send plans. A plan is
// the full set of send instants for one sender on one local calendar day,
// spread across activity bands so the traffic shape looks human.
package schedule

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/model"
)

const (
	// minSpacing is the smallest gap allowed between two sends. Candidate
	// times closer than this to an accepted one are redrawn.
	minSpacing = time.Minute

	// maxDraws bounds rejection sampling per slot so a pathological band
	// density can never spin the planner.
	maxDraws = 50
)

// BandWeights is the share of the daily volume each band receives.
type BandWeights struct {
	Peak   float64
	Normal float64
	Low    float64
}

// DefaultBandWeights sends 60% of the day at peak hours, 30% at normal
// hours and 10% over lunch.
var DefaultBandWeights = BandWeights{Peak: 0.60, Normal: 0.30, Low: 0.10}

// Planner computes daily send plans. The random source is injected so
// tests can fix the seed.
type Planner struct {
	weights BandWeights
	rng     *rand.Rand
}

// NewPlanner returns a planner using the given band weights. A nil rng
// gets a time-seeded source.
func NewPlanner(weights BandWeights, rng *rand.Rand) *Planner {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{weights: weights, rng: rng}
}

// Allocate splits n sends across the three bands. Peak and low are
// rounded from their weights; normal absorbs the remainder so the counts
// always sum to n.
func (p *Planner) Allocate(n int) map[clock.Band]int {
	if n <= 0 {
		return map[clock.Band]int{}
	}
	peak := int(math.Round(float64(n) * p.weights.Peak))
	low := int(math.Round(float64(n) * p.weights.Low))
	if peak+low > n {
		low = n - peak
		if low < 0 {
			low = 0
			peak = n
		}
	}
	return map[clock.Band]int{
		clock.BandPeak:   peak,
		clock.BandNormal: n - peak - low,
		clock.BandLow:    low,
	}
}

// Generate builds the plan entries for one sender on one local calendar
// day. localDay supplies the date and location; n is the number of sends.
// Fire times are stored in UTC, local date as YYYY-MM-DD in the sender's
// zone. Weekend days produce an empty plan.
func (p *Planner) Generate(senderID int64, localDay time.Time, n int) ([]model.PlanEntry, error) {
	if clock.IsWeekend(localDay) {
		return nil, nil
	}
	if n <= 0 {
		return nil, nil
	}

	counts := p.Allocate(n)
	localDate := localDay.Format("2006-01-02")
	midnight := time.Date(localDay.Year(), localDay.Month(), localDay.Day(), 0, 0, 0, 0, localDay.Location())

	var times []time.Time
	for _, band := range []clock.Band{clock.BandPeak, clock.BandNormal, clock.BandLow} {
		for i := 0; i < counts[band]; i++ {
			t, err := p.drawTime(midnight, band, times)
			if err != nil {
				return nil, err
			}
			times = append(times, t)
		}
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	entries := make([]model.PlanEntry, 0, len(times))
	for _, t := range times {
		band, _ := clock.BandFor(t.Hour())
		entries = append(entries, model.PlanEntry{
			SenderID:  senderID,
			LocalDate: localDate,
			FireAt:    t.UTC(),
			Band:      string(band),
			Status:    model.PlanPending,
		})
	}
	return entries, nil
}

// drawTime samples one send instant inside a band, jitters it, and
// redraws until it clears the minimum spacing from already-accepted times.
func (p *Planner) drawTime(midnight time.Time, band clock.Band, accepted []time.Time) (time.Time, error) {
	ranges := clock.BandRanges(band)
	total := 0
	for _, r := range ranges {
		total += (r.End - r.Start) * 60
	}
	if total == 0 {
		return time.Time{}, fmt.Errorf("band %q has no hour ranges", band)
	}

	for draw := 0; draw < maxDraws; draw++ {
		// Uniform minute over the union of the band's ranges.
		m := p.rng.Intn(total)
		var t time.Time
		for _, r := range ranges {
			span := (r.End - r.Start) * 60
			if m < span {
				t = midnight.Add(time.Duration(r.Start)*time.Hour + time.Duration(m)*time.Minute)
				break
			}
			m -= span
		}

		t = p.jitter(t, band)
		if spaced(t, accepted) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("band %q: could not place a send %s apart after %d draws",
		band, minSpacing, maxDraws)
}

// jitter applies gaussian minute-level noise (sigma 90s, clamped to
// plus/minus 3 minutes) plus uniform second-level noise, then clamps the
// result back into the band so jitter never leaks across band edges.
func (p *Planner) jitter(t time.Time, band clock.Band) time.Time {
	minutes := p.rng.NormFloat64() * 1.5
	if minutes > 3 {
		minutes = 3
	} else if minutes < -3 {
		minutes = -3
	}
	seconds := p.rng.Float64()*60 - 30

	j := t.Add(time.Duration(minutes*float64(time.Minute)) + time.Duration(seconds*float64(time.Second)))
	return clampToBand(j, band)
}

func clampToBand(t time.Time, band clock.Band) time.Time {
	if b, ok := clock.BandFor(t.Hour()); ok && b == band {
		return t
	}
	ranges := clock.BandRanges(band)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	best := t
	bestDist := time.Duration(math.MaxInt64)
	for _, r := range ranges {
		start := day.Add(time.Duration(r.Start) * time.Hour)
		end := day.Add(time.Duration(r.End)*time.Hour - time.Second)
		for _, edge := range []time.Time{start, end} {
			d := t.Sub(edge)
			if d < 0 {
				d = -d
			}
			if d < bestDist {
				bestDist = d
				best = edge
			}
		}
	}
	return best
}

func spaced(t time.Time, accepted []time.Time) bool {
	for _, a := range accepted {
		d := t.Sub(a)
		if d < 0 {
			d = -d
		}
		if d < minSpacing {
			return false
		}
	}
	return true
}
