package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

func TestScore_WeightedMean(t *testing.T) {
	questions := DefaultQuestions()
	answers := []ScoredAnswer{
		{QuestionID: "q1", Value: 2},
		{QuestionID: "q2", Value: 3},
		{QuestionID: "q3", Value: 1},
		{QuestionID: "q4", Value: 4},
	}
	// (0.8 + 1.2 + 0.6 + 2.0) / 1.9 = 2.42
	assert.Equal(t, 2.4, Score(answers, questions))
}

func TestScore_RoundsHalfAwayFromZero(t *testing.T) {
	questions := []contracts.RiskAssessmentQuestion{
		{ID: "a", Weight: 1, Active: true, Answers: []contracts.AnswerOption{{ID: "x", Value: 1}}},
		{ID: "b", Weight: 3, Active: true, Answers: []contracts.AnswerOption{{ID: "x", Value: 1}}},
	}
	// (1*1 + 3*2) / 4 = 1.75 -> 1.8
	assert.Equal(t, 1.8, Score([]ScoredAnswer{{"a", 1}, {"b", 2}}, questions))
	// (1*2 + 3*2) / 4 = 2.0
	assert.Equal(t, 2.0, Score([]ScoredAnswer{{"a", 2}, {"b", 2}}, questions))
}

func TestScore_IgnoresUnknownAndInactive(t *testing.T) {
	questions := DefaultQuestions()
	questions[1].Active = false

	answers := []ScoredAnswer{
		{QuestionID: "q1", Value: 4},
		{QuestionID: "q2", Value: 1},
		{QuestionID: "nope", Value: 5},
	}
	assert.Equal(t, 4.0, Score(answers, questions))
}

func TestScore_ZeroWithoutWeight(t *testing.T) {
	assert.Equal(t, 0.0, Score(nil, DefaultQuestions()))
	assert.Equal(t, 0.0, Score([]ScoredAnswer{{QuestionID: "zz", Value: 5}}, DefaultQuestions()))
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		score float64
		want  contracts.RiskLevel
	}{
		{0, contracts.RiskLow},
		{1.0, contracts.RiskLow},
		{2.0, contracts.RiskLow},
		{2.1, contracts.RiskMedium},
		{2.3, contracts.RiskMedium},
		{4.0, contracts.RiskMedium},
		{4.1, contracts.RiskHigh},
		{5.0, contracts.RiskHigh},
		{7.5, contracts.RiskHigh},
		{-1, contracts.RiskHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.score, th), "score %.1f", tc.score)
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	th := []contracts.RiskThreshold{
		{ID: "m", Level: contracts.RiskMedium, MinScore: 2, MaxScore: 4},
		{ID: "l", Level: contracts.RiskLow, MinScore: 0, MaxScore: 2},
	}
	assert.Equal(t, contracts.RiskMedium, Classify(2, th))
}

func TestValidateThresholds(t *testing.T) {
	require.NoError(t, ValidateThresholds(DefaultThresholds()))

	bad := map[string][]contracts.RiskThreshold{
		"empty": nil,
		"gap": {
			{ID: "l", Level: contracts.RiskLow, MinScore: 0, MaxScore: 2},
			{ID: "h", Level: contracts.RiskHigh, MinScore: 3, MaxScore: 5},
		},
		"overlap": {
			{ID: "l", Level: contracts.RiskLow, MinScore: 0, MaxScore: 3},
			{ID: "h", Level: contracts.RiskHigh, MinScore: 2, MaxScore: 5},
		},
		"inverted": {
			{ID: "l", Level: contracts.RiskLow, MinScore: 3, MaxScore: 1},
		},
		"not from zero": {
			{ID: "l", Level: contracts.RiskLow, MinScore: 1, MaxScore: 5},
		},
		"duplicate id": {
			{ID: "l", Level: contracts.RiskLow, MinScore: 0, MaxScore: 2},
			{ID: "l", Level: contracts.RiskHigh, MinScore: 2, MaxScore: 5},
		},
		"unknown level": {
			{ID: "x", Level: "severe", MinScore: 0, MaxScore: 5},
		},
		"negative": {
			{ID: "x", Level: contracts.RiskLow, MinScore: -1, MaxScore: 5},
		},
	}
	for name, th := range bad {
		assert.ErrorIs(t, ValidateThresholds(th), contracts.ErrConfiguration, name)
	}
}

func TestValidateQuestions(t *testing.T) {
	require.NoError(t, ValidateQuestions(DefaultQuestions()))

	zeroWeight := DefaultQuestions()
	zeroWeight[0].Weight = 0
	assert.ErrorIs(t, ValidateQuestions(zeroWeight), contracts.ErrConfiguration)

	dup := DefaultQuestions()
	dup[1].ID = dup[0].ID
	assert.ErrorIs(t, ValidateQuestions(dup), contracts.ErrConfiguration)

	noAnswers := DefaultQuestions()
	noAnswers[2].Answers = nil
	assert.ErrorIs(t, ValidateQuestions(noAnswers), contracts.ErrConfiguration)

	negative := DefaultQuestions()
	negative[3].Answers[0].Value = -1
	assert.ErrorIs(t, ValidateQuestions(negative), contracts.ErrConfiguration)

	assert.Equal(t, 5, MaxScore(DefaultQuestions()))
}

func TestResolveAnswers(t *testing.T) {
	questions := DefaultQuestions()
	raw := 7
	resolved, scored, err := ResolveAnswers([]contracts.AssessmentAnswer{
		{QuestionID: "q1", OptionID: "b"},
		{QuestionID: "q2", Value: &raw},
		{QuestionID: "unknown", OptionID: "a"},
	}, questions)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, 2, *resolved[0].Value)
	assert.Equal(t, []ScoredAnswer{{"q1", 2}, {"q2", 7}}, scored)

	_, _, err = ResolveAnswers([]contracts.AssessmentAnswer{{QuestionID: "q1", OptionID: "z"}}, questions)
	assert.ErrorIs(t, err, contracts.ErrValidation)

	_, _, err = ResolveAnswers([]contracts.AssessmentAnswer{{QuestionID: "q1", OptionID: "a"}, {QuestionID: "q1", OptionID: "b"}}, questions)
	assert.ErrorIs(t, err, contracts.ErrValidation)

	_, _, err = ResolveAnswers([]contracts.AssessmentAnswer{{QuestionID: "q1"}}, questions)
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestMissingRequired(t *testing.T) {
	questions := DefaultQuestions()
	questions[3].Active = false
	missing := MissingRequired([]contracts.AssessmentAnswer{{QuestionID: "q1"}}, questions)
	assert.Equal(t, []string{"q2", "q3"}, missing)
}
