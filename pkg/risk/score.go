// Package risk computes weighted risk scores for change requests and maps
// them onto configured risk levels.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// ScoredAnswer is an answer whose option has been resolved to a value.
type ScoredAnswer struct {
	QuestionID string
	Value      int
}

// Score returns the weighted mean of answer values over active questions,
// rounded half away from zero to one decimal. Answers to unknown or inactive
// questions are ignored. It returns 0 when no weight accumulates.
func Score(answers []ScoredAnswer, questions []contracts.RiskAssessmentQuestion) float64 {
	active := make(map[string]decimal.Decimal, len(questions))
	for _, q := range questions {
		if q.Active {
			active[q.ID] = decimal.NewFromFloat(q.Weight)
		}
	}

	total := decimal.Zero
	weight := decimal.Zero
	for _, a := range answers {
		w, ok := active[a.QuestionID]
		if !ok {
			continue
		}
		total = total.Add(decimal.NewFromInt(int64(a.Value)).Mul(w))
		weight = weight.Add(w)
	}
	if !weight.IsPositive() {
		return 0
	}
	score, _ := total.Div(weight).Round(1).Float64()
	return score
}

// Classify returns the level of the first threshold whose inclusive range
// contains score. Scores outside every range are high.
func Classify(score float64, thresholds []contracts.RiskThreshold) contracts.RiskLevel {
	for _, t := range thresholds {
		if score >= t.MinScore && score <= t.MaxScore {
			return t.Level
		}
	}
	return contracts.RiskHigh
}
