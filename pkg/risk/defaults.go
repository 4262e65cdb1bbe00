package risk

import "github.com/Mindburn-Labs/changegate/pkg/contracts"

func fivePointScale(labels ...string) []contracts.AnswerOption {
	out := make([]contracts.AnswerOption, len(labels))
	for i, l := range labels {
		out[i] = contracts.AnswerOption{ID: string(rune('a' + i)), Text: l, Value: i + 1}
	}
	return out
}

// DefaultQuestions is the built-in questionnaire.
func DefaultQuestions() []contracts.RiskAssessmentQuestion {
	return []contracts.RiskAssessmentQuestion{
		{
			ID:       "q1",
			Question: "How many users or services are affected by this change?",
			Weight:   0.4,
			Answers: fivePointScale(
				"None or a single test system",
				"A single team",
				"A department",
				"Several departments",
				"The whole organisation or customers",
			),
			IsRequired: true,
			Active:     true,
		},
		{
			ID:       "q2",
			Question: "How complex is the implementation?",
			Weight:   0.4,
			Answers: fivePointScale(
				"Routine, fully scripted",
				"Simple, few manual steps",
				"Moderate",
				"Complex, several systems involved",
				"Very complex, untested procedure",
			),
			IsRequired: true,
			Active:     true,
		},
		{
			ID:       "q3",
			Question: "How hard is it to roll back?",
			Weight:   0.6,
			Answers: fivePointScale(
				"Instant, automated rollback",
				"Quick manual rollback",
				"Rollback takes hours",
				"Rollback requires restore from backup",
				"No rollback possible",
			),
			IsRequired: true,
			Active:     true,
		},
		{
			ID:       "q4",
			Question: "What is the expected downtime?",
			Weight:   0.5,
			Answers: fivePointScale(
				"None",
				"Under 15 minutes",
				"Under an hour",
				"Several hours",
				"More than a day",
			),
			IsRequired: true,
			Active:     true,
		},
	}
}

// DefaultThresholds maps the 0..5 score range onto three levels.
func DefaultThresholds() []contracts.RiskThreshold {
	return []contracts.RiskThreshold{
		{ID: "low", Level: contracts.RiskLow, MinScore: 0, MaxScore: 2},
		{ID: "medium", Level: contracts.RiskMedium, MinScore: 2, MaxScore: 4},
		{ID: "high", Level: contracts.RiskHigh, MinScore: 4, MaxScore: 5},
	}
}
