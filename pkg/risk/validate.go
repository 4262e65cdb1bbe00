package risk

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", contracts.ErrConfiguration, fmt.Sprintf(format, args...))
}

// ValidateThresholds rejects tables that leave gaps, overlap, or are
// otherwise malformed. Adjacent ranges may share a boundary value.
func ValidateThresholds(thresholds []contracts.RiskThreshold) error {
	if len(thresholds) == 0 {
		return configErr("no risk thresholds configured")
	}
	seen := make(map[string]bool, len(thresholds))
	for _, t := range thresholds {
		if t.ID == "" {
			return configErr("threshold id is required")
		}
		if seen[t.ID] {
			return configErr("duplicate threshold id %q", t.ID)
		}
		seen[t.ID] = true
		if !t.Level.Valid() {
			return configErr("threshold %q has unknown level %q", t.ID, t.Level)
		}
		if t.MinScore < 0 || t.MaxScore < 0 {
			return configErr("threshold %q has a negative bound", t.ID)
		}
		if t.MinScore > t.MaxScore {
			return configErr("threshold %q has min %.1f above max %.1f", t.ID, t.MinScore, t.MaxScore)
		}
	}

	sorted := append([]contracts.RiskThreshold(nil), thresholds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinScore < sorted[j].MinScore })
	if sorted[0].MinScore != 0 {
		return configErr("lowest threshold %q must start at 0, starts at %.1f", sorted[0].ID, sorted[0].MinScore)
	}
	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		switch {
		case next.MinScore > prev.MaxScore:
			return configErr("gap between %q (max %.1f) and %q (min %.1f)", prev.ID, prev.MaxScore, next.ID, next.MinScore)
		case next.MinScore < prev.MaxScore:
			return configErr("%q overlaps %q", next.ID, prev.ID)
		}
	}
	return nil
}

// ValidateQuestions checks ids, weights and answer options.
func ValidateQuestions(questions []contracts.RiskAssessmentQuestion) error {
	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		if q.ID == "" {
			return configErr("question id is required")
		}
		if seen[q.ID] {
			return configErr("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
		if q.Weight <= 0 {
			return configErr("question %q must have a positive weight", q.ID)
		}
		if len(q.Answers) == 0 {
			return configErr("question %q has no answer options", q.ID)
		}
		options := make(map[string]bool, len(q.Answers))
		for _, a := range q.Answers {
			if a.ID == "" {
				return configErr("question %q has an option without id", q.ID)
			}
			if options[a.ID] {
				return configErr("question %q has duplicate option %q", q.ID, a.ID)
			}
			options[a.ID] = true
			if a.Value < 0 {
				return configErr("question %q option %q has a negative value", q.ID, a.ID)
			}
		}
	}
	return nil
}

// ValidateCoverage requires the threshold table to reach the highest score
// the questionnaire can produce.
func ValidateCoverage(questions []contracts.RiskAssessmentQuestion, thresholds []contracts.RiskThreshold) error {
	top := 0.0
	for _, t := range thresholds {
		if t.MaxScore > top {
			top = t.MaxScore
		}
	}
	if highest := MaxScore(questions); top < float64(highest) {
		return configErr("thresholds end at %.1f but the questionnaire scores up to %d", top, highest)
	}
	return nil
}

// MaxScore is the highest score the questionnaire can produce.
func MaxScore(questions []contracts.RiskAssessmentQuestion) int {
	highest := 0
	for _, q := range questions {
		if !q.Active {
			continue
		}
		for _, a := range q.Answers {
			if a.Value > highest {
				highest = a.Value
			}
		}
	}
	return highest
}
