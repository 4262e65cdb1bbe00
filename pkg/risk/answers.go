package risk

import (
	"fmt"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// ResolveAnswers turns submitted answers into scored answers. An answer that
// names an option must name one the question offers; an answer that carries
// a raw value is taken as-is. Answers to unknown questions are passed through
// and later ignored by Score.
func ResolveAnswers(answers []contracts.AssessmentAnswer, questions []contracts.RiskAssessmentQuestion) ([]contracts.AssessmentAnswer, []ScoredAnswer, error) {
	byID := make(map[string]contracts.RiskAssessmentQuestion, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	resolved := make([]contracts.AssessmentAnswer, 0, len(answers))
	scored := make([]ScoredAnswer, 0, len(answers))
	seen := make(map[string]bool, len(answers))
	for i, a := range answers {
		field := fmt.Sprintf("answers[%d]", i)
		if a.QuestionID == "" {
			return nil, nil, &contracts.ValidationError{Field: field, Reason: "question_id is required"}
		}
		if seen[a.QuestionID] {
			return nil, nil, &contracts.ValidationError{Field: field, Reason: fmt.Sprintf("question %q answered twice", a.QuestionID)}
		}
		seen[a.QuestionID] = true

		var value int
		q, known := byID[a.QuestionID]
		switch {
		case a.OptionID != "" && known:
			opt, ok := q.Option(a.OptionID)
			if !ok {
				return nil, nil, &contracts.ValidationError{Field: field, Reason: fmt.Sprintf("question %q has no option %q", a.QuestionID, a.OptionID)}
			}
			value = opt.Value
		case a.Value != nil:
			if *a.Value < 0 {
				return nil, nil, &contracts.ValidationError{Field: field, Reason: "value must not be negative"}
			}
			value = *a.Value
		case known:
			return nil, nil, &contracts.ValidationError{Field: field, Reason: "option_id or value is required"}
		default:
			continue
		}

		v := value
		resolved = append(resolved, contracts.AssessmentAnswer{QuestionID: a.QuestionID, OptionID: a.OptionID, Value: &v})
		scored = append(scored, ScoredAnswer{QuestionID: a.QuestionID, Value: value})
	}
	return resolved, scored, nil
}

// MissingRequired lists active required questions without an answer.
func MissingRequired(answers []contracts.AssessmentAnswer, questions []contracts.RiskAssessmentQuestion) []string {
	answered := make(map[string]bool, len(answers))
	for _, a := range answers {
		answered[a.QuestionID] = true
	}
	var missing []string
	for _, q := range questions {
		if q.Active && q.IsRequired && !answered[q.ID] {
			missing = append(missing, q.ID)
		}
	}
	return missing
}
