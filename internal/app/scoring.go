package app

import (
	"math"
	"time"
)

const (
	basePoints    = 100
	maxSpeedBonus = 40
)

// Submission is a correct answer considered for scoring.
type Submission struct {
	PlayerID          string
	SubmittedAtMillis int64
}

// ComputeScores assigns every correct submission 100 points plus a speed bonus
// of up to 40, scaled linearly between the slowest (0) and the fastest (40)
// correct submission of the same question.
func ComputeScores(correct []Submission) map[string]int {
	scores := make(map[string]int, len(correct))
	if len(correct) == 0 {
		return scores
	}

	fastest, slowest := correct[0].SubmittedAtMillis, correct[0].SubmittedAtMillis
	for _, s := range correct[1:] {
		if s.SubmittedAtMillis < fastest {
			fastest = s.SubmittedAtMillis
		}
		if s.SubmittedAtMillis > slowest {
			slowest = s.SubmittedAtMillis
		}
	}
	timeRange := slowest - fastest
	if timeRange < 1 {
		timeRange = 1
	}

	for _, s := range correct {
		ratio := float64(slowest-s.SubmittedAtMillis) / float64(timeRange)
		scores[s.PlayerID] = basePoints + int(math.Round(ratio*maxSpeedBonus))
	}
	return scores
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
