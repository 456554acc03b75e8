// Package scoring turns submitted plays into persisted scores and keeps the
// per-user aggregates (accuracy, performance) in step with them.
package scoring

import (
	"math"

	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/osu"
)

// WeightDecay is the ratio between the weights of consecutive scores in the
// aggregates.
const WeightDecay = 0.95

// DefaultTopScores is how many personal bests the aggregates consider.
const DefaultTopScores = 500

// Accuracy computes the accuracy of a play from its hit counts. A play with
// no judged objects is perfect.
func Accuracy(s *db.Score) float64 {
	var num, den float64
	switch s.Mode {
	case osu.ModeTaiko:
		total := s.Count300 + s.Count100 + s.CountMiss
		num = float64(s.Count100)*0.5 + float64(s.Count300)
		den = float64(total)
	case osu.ModeCatch:
		total := s.Count300 + s.Count100 + s.Count50 + s.CountKatu + s.CountMiss
		num = float64(s.Count300 + s.Count100 + s.Count50)
		den = float64(total)
	case osu.ModeMania:
		total := s.Count300 + s.Count100 + s.Count50 + s.CountGeki + s.CountKatu + s.CountMiss
		num = 50*float64(s.Count50) + 100*float64(s.Count100) + 200*float64(s.CountKatu) +
			300*float64(s.Count300+s.CountGeki)
		den = 300 * float64(total)
	default:
		total := s.Count300 + s.Count100 + s.Count50 + s.CountMiss
		num = 50*float64(s.Count50) + 100*float64(s.Count100) + 300*float64(s.Count300)
		den = 300 * float64(total)
	}
	if den == 0 {
		return 1
	}
	return num / den
}

// WeightedAccuracy averages accs, ordered best first, with geometrically
// decaying weights. It is 0 for no scores.
func WeightedAccuracy(accs []float64) float64 {
	var sum, weights float64
	w := 1.0
	for _, acc := range accs {
		sum += acc * w
		weights += w
		w *= WeightDecay
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// WeightedPerformance sums pps, ordered best first, with geometrically
// decaying weights.
func WeightedPerformance(pps []float64) float64 {
	var sum float64
	w := 1.0
	for _, pp := range pps {
		sum += pp * w
		w *= WeightDecay
	}
	return sum
}

// Classify decides how a new play ranks against the player's prior best on
// the same map, mode and variant. Higher performance wins; when neither
// play awards performance the higher score wins.
func Classify(s *db.Score, passed bool, prior *db.Score) osu.CompletedStatus {
	if !passed {
		return osu.CompletedFailed
	}
	if prior == nil {
		return osu.CompletedBest
	}
	if s.Performance > prior.Performance {
		return osu.CompletedBest
	}
	if s.Performance == 0 && prior.Performance == 0 && s.Score > prior.Score {
		return osu.CompletedBest
	}
	return osu.CompletedSubmitted
}

// clampPerformance rounds a weighted performance total into the stored
// integer column.
func clampPerformance(pp float64) int32 {
	if pp <= 0 || math.IsNaN(pp) {
		return 0
	}
	if pp >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(math.Round(pp))
}
