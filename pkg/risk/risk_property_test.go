//go:build property
// +build property

package risk

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestScoreProperties checks determinism and bounds of Score, and that
// Classify is total over the configured range.
func TestScoreProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	questions := DefaultQuestions()
	thresholds := DefaultThresholds()
	answersGen := gen.SliceOfN(4, gen.IntRange(1, 5)).Map(func(values []int) []ScoredAnswer {
		out := make([]ScoredAnswer, len(values))
		for i, v := range values {
			out[i] = ScoredAnswer{QuestionID: questions[i].ID, Value: v}
		}
		return out
	})

	properties.Property("score is deterministic", prop.ForAll(
		func(answers []ScoredAnswer) bool {
			return Score(answers, questions) == Score(answers, questions)
		},
		answersGen,
	))

	properties.Property("score stays within option value bounds", prop.ForAll(
		func(answers []ScoredAnswer) bool {
			s := Score(answers, questions)
			return s >= 1 && s <= float64(MaxScore(questions))
		},
		answersGen,
	))

	properties.Property("score has at most one decimal", prop.ForAll(
		func(answers []ScoredAnswer) bool {
			s := Score(answers, questions)
			return math.Round(s*10)/10 == s
		},
		answersGen,
	))

	properties.Property("every reachable score classifies through a threshold", prop.ForAll(
		func(tenths int) bool {
			s := float64(tenths) / 10
			for _, th := range thresholds {
				if s >= th.MinScore && s <= th.MaxScore {
					return Classify(s, thresholds) == th.Level
				}
			}
			return false
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
