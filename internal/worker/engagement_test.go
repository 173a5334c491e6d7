package worker

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ignite/warmup-engine/internal/mailer"
	"github.com/ignite/warmup-engine/internal/model"
)

// testSimulator wires only the pure verdict helpers; no database needed.
func testSimulator(t *testing.T) *EngagementSimulator {
	t.Helper()
	return &EngagementSimulator{
		cfg: testConfig(),
		rng: rand.New(rand.NewSource(1)),
	}
}

func TestOpenVerdictStableAcrossCalls(t *testing.T) {
	e := testSimulator(t)
	msg := &model.Message{TrackingID: "t-abc", OpenRateTarget: 0.8}

	open1, delay1 := e.openVerdict(msg)
	open2, delay2 := e.openVerdict(msg)
	if open1 != open2 || delay1 != delay2 {
		t.Errorf("verdict changed between calls: (%v,%v) vs (%v,%v)", open1, delay1, open2, delay2)
	}
}

func TestOpenVerdictRespectsRate(t *testing.T) {
	e := testSimulator(t)

	count := func(rate float64) int {
		opens := 0
		for i := 0; i < 1000; i++ {
			msg := &model.Message{
				TrackingID:     fmt.Sprintf("t-%d", i),
				OpenRateTarget: rate,
			}
			if open, _ := e.openVerdict(msg); open {
				opens++
			}
		}
		return opens
	}

	if n := count(0); n != 0 {
		t.Errorf("zero target opened %d times", n)
	}
	if n := count(1); n != 1000 {
		t.Errorf("full target opened only %d of 1000", n)
	}
	if n := count(0.8); n < 740 || n > 860 {
		t.Errorf("0.8 target opened %d of 1000, expected near 800", n)
	}
}

func TestOpenVerdictDelayBounds(t *testing.T) {
	e := testSimulator(t)
	min := e.cfg.Engagement.OpenDelayMin()
	max := e.cfg.Engagement.OpenDelayMax()

	fast := 0
	for i := 0; i < 500; i++ {
		msg := &model.Message{
			TrackingID:     fmt.Sprintf("d-%d", i),
			OpenRateTarget: 1,
		}
		open, delay := e.openVerdict(msg)
		if !open {
			t.Fatalf("full target should always open")
		}
		if delay < min || delay > max {
			t.Errorf("delay %v outside [%v, %v]", delay, min, max)
		}
		if delay < min+(max-min)/2 {
			fast++
		}
	}
	// Beta(2,5) skews toward the front of the window.
	if fast < 300 {
		t.Errorf("only %d of 500 delays in the front half; distribution looks wrong", fast)
	}
}

func TestMatchByTracking(t *testing.T) {
	inbound := []mailer.InboundMail{
		{ProviderMsgID: "a", TrackingID: "t-1"},
		{ProviderMsgID: "b", TrackingID: "t-2"},
	}

	if got := matchByTracking(inbound, "t-2"); got == nil || got.ProviderMsgID != "b" {
		t.Errorf("matchByTracking(t-2) = %+v", got)
	}
	if got := matchByTracking(inbound, "t-9"); got != nil {
		t.Errorf("matchByTracking(t-9) = %+v, want nil", got)
	}
	if got := matchByTracking(nil, "t-1"); got != nil {
		t.Errorf("matchByTracking on empty = %+v, want nil", got)
	}
}

func TestBetaSampleRange(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	sum := 0.0
	for i := 0; i < 2000; i++ {
		b := betaSample(r, 2, 5)
		if b < 0 || b > 1 {
			t.Fatalf("beta sample %v outside [0,1]", b)
		}
		sum += b
	}
	mean := sum / 2000
	// Beta(2,5) has mean 2/7.
	if mean < 0.25 || mean > 0.33 {
		t.Errorf("beta mean %.3f, expected near 0.286", mean)
	}
}
