package ioc

// WeightCap bounds the weight of accumulated observations in the confidence
// merge. Without the cap, very-frequently-seen indicators would make
// confidence nearly immovable.
const WeightCap = 5

// ObservationWeight returns the merge weight for an indicator seen
// timesSeenBefore times: min(timesSeenBefore, WeightCap).
func ObservationWeight(timesSeenBefore int) int {
	if timesSeenBefore > WeightCap {
		return WeightCap
	}
	if timesSeenBefore < 0 {
		return 0
	}
	return timesSeenBefore
}

// CombineConfidence merges a new confidence observation into an existing one
// as a weighted average, clamped to [0,1]. The new observation always carries
// weight 1.
func CombineConfidence(oldConfidence float64, oldWeight int, newConfidence float64) float64 {
	if oldWeight <= 0 {
		return clamp01(newConfidence)
	}
	w := float64(oldWeight)
	return clamp01((oldConfidence*w + newConfidence) / (w + 1))
}

// EscalateRisk returns the higher of two risk levels. Automatic merges never
// move risk downward; manual correction goes through the store's explicit
// force-set path instead.
func EscalateRisk(oldRisk, newRisk RiskLevel) RiskLevel {
	if newRisk.Rank() > oldRisk.Rank() {
		return newRisk
	}
	return oldRisk
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
