package memory

import "encoding/json"

// Confidence bounds. Every write clamps into this range.
const (
	MinConfidence = 0.1
	MaxConfidence = 1.0
)

// clampConfidence bounds a confidence score to [MinConfidence, MaxConfidence].
func clampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// PatternStats tracks the running outcome history of a pattern memory.
// Stored inside the memory value under the "stats" key.
type PatternStats struct {
	TotalAttempts        int `json:"total_attempts"`
	SuccessCount         int `json:"success_count"`
	FailureCount         int `json:"failure_count"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`
	ConsecutiveFailures  int `json:"consecutive_failures"`
}

// Record updates the counters for one outcome.
func (st *PatternStats) Record(success bool) {
	st.TotalAttempts++
	if success {
		st.SuccessCount++
		st.ConsecutiveSuccesses++
		st.ConsecutiveFailures = 0
	} else {
		st.FailureCount++
		st.ConsecutiveFailures++
		st.ConsecutiveSuccesses = 0
	}
}

// Confidence computes the new confidence after an outcome already
// recorded in the counters. The schedule is asymmetric: failures decay
// confidence faster than successes build it.
func (st PatternStats) Confidence(success bool) float64 {
	if st.TotalAttempts == 0 {
		return MinConfidence
	}
	successRate := float64(st.SuccessCount) / float64(st.TotalAttempts)

	var adjustment float64
	if success {
		bonus := 0.02 * float64(st.ConsecutiveSuccesses)
		if bonus > 0.1 {
			bonus = 0.1
		}
		adjustment = 0.1 + bonus
	} else {
		penalty := 0.04 * float64(st.ConsecutiveFailures)
		if penalty > 0.2 {
			penalty = 0.2
		}
		adjustment = -0.2 - penalty
	}
	return clampConfidence(successRate + adjustment)
}

// statsFromValue extracts stats from a stored memory value.
func statsFromValue(value map[string]any) PatternStats {
	var st PatternStats
	raw, ok := value["stats"]
	if !ok {
		return st
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return st
	}
	_ = json.Unmarshal(data, &st)
	return st
}

// toValue renders stats back into the generic map form stored in the row.
func (st PatternStats) toValue() map[string]any {
	return map[string]any{
		"total_attempts":        st.TotalAttempts,
		"success_count":         st.SuccessCount,
		"failure_count":         st.FailureCount,
		"consecutive_successes": st.ConsecutiveSuccesses,
		"consecutive_failures":  st.ConsecutiveFailures,
	}
}
