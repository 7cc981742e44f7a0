package memory

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestClampConfidence(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, MinConfidence},
		{0, MinConfidence},
		{0.1, 0.1},
		{0.55, 0.55},
		{1.0, 1.0},
		{1.7, MaxConfidence},
	}
	for _, c := range cases {
		if got := clampConfidence(c.in); !almostEqual(got, c.want) {
			t.Errorf("clampConfidence(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRecordUpdatesCounters(t *testing.T) {
	var st PatternStats

	st.Record(true)
	st.Record(true)
	st.Record(false)

	if st.TotalAttempts != 3 || st.SuccessCount != 2 || st.FailureCount != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}
	if st.ConsecutiveSuccesses != 0 {
		t.Errorf("failure should reset consecutive successes, got %d", st.ConsecutiveSuccesses)
	}
	if st.ConsecutiveFailures != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", st.ConsecutiveFailures)
	}

	st.Record(true)
	if st.ConsecutiveFailures != 0 || st.ConsecutiveSuccesses != 1 {
		t.Errorf("success should reset consecutive failures: %+v", st)
	}
}

func TestConfidenceFirstOutcome(t *testing.T) {
	var st PatternStats
	st.Record(true)
	// rate 1.0 + (0.1 + 0.02) clamps at the ceiling
	if got := st.Confidence(true); !almostEqual(got, MaxConfidence) {
		t.Errorf("first success confidence = %v, want %v", got, MaxConfidence)
	}

	st = PatternStats{}
	st.Record(false)
	// rate 0 - (0.2 + 0.04) clamps at the floor
	if got := st.Confidence(false); !almostEqual(got, MinConfidence) {
		t.Errorf("first failure confidence = %v, want %v", got, MinConfidence)
	}
}

func TestConfidenceMixedHistory(t *testing.T) {
	var st PatternStats
	st.Record(true)
	st.Record(true)
	st.Record(true)
	st.Record(false)

	// rate 0.75, penalty 0.2 + 0.04*1
	if got := st.Confidence(false); !almostEqual(got, 0.51) {
		t.Errorf("confidence after 3 wins 1 loss = %v, want 0.51", got)
	}
}

func TestConfidenceFailuresDecayFasterThanSuccessesBuild(t *testing.T) {
	st := PatternStats{TotalAttempts: 10, SuccessCount: 5, FailureCount: 5}

	up := st.withOutcome(true)
	down := st.withOutcome(false)

	base := 0.5
	gain := up - base
	loss := base - down
	if loss <= gain {
		t.Errorf("expected failure penalty (%v) to exceed success bonus (%v)", loss, gain)
	}
}

func TestConfidenceStreakBonusCapped(t *testing.T) {
	st := PatternStats{
		TotalAttempts:        100,
		SuccessCount:         50,
		ConsecutiveSuccesses: 50,
	}
	// bonus caps at 0.1, so total lift over the success rate caps at 0.2
	if got := st.Confidence(true); !almostEqual(got, 0.7) {
		t.Errorf("capped streak confidence = %v, want 0.7", got)
	}

	st = PatternStats{
		TotalAttempts:       100,
		SuccessCount:        80,
		FailureCount:        20,
		ConsecutiveFailures: 50,
	}
	// penalty caps at 0.2, total drop caps at 0.4
	if got := st.Confidence(false); !almostEqual(got, 0.4) {
		t.Errorf("capped failure confidence = %v, want 0.4", got)
	}
}

// withOutcome records an outcome on a copy and returns the new confidence.
func (st PatternStats) withOutcome(success bool) float64 {
	st.Record(success)
	return st.Confidence(success)
}

func TestStatsValueRoundTrip(t *testing.T) {
	st := PatternStats{
		TotalAttempts:        7,
		SuccessCount:         4,
		FailureCount:         3,
		ConsecutiveSuccesses: 2,
	}

	value := map[string]any{"stats": st.toValue(), "pattern": "ignored"}
	got := statsFromValue(value)
	if got != st {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, st)
	}
}

func TestStatsFromValueMissing(t *testing.T) {
	got := statsFromValue(map[string]any{"pattern": "x"})
	if got != (PatternStats{}) {
		t.Errorf("expected zero stats for value without stats key, got %+v", got)
	}
}
