package contracts

// RiskLevel is the classification derived from a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether l is a known level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// AnswerOption is one selectable answer of a risk question.
type AnswerOption struct {
	ID    string `json:"id" yaml:"id"`
	Text  string `json:"text" yaml:"text"`
	Value int    `json:"value" yaml:"value"`
}

// RiskAssessmentQuestion is a weighted question of the risk questionnaire.
type RiskAssessmentQuestion struct {
	ID         string         `json:"id" yaml:"id"`
	Question   string         `json:"question" yaml:"question"`
	Weight     float64        `json:"weight" yaml:"weight"`
	Answers    []AnswerOption `json:"answers" yaml:"answers"`
	IsRequired bool           `json:"is_required" yaml:"is_required"`
	Active     bool           `json:"active" yaml:"active"`
}

// Option returns the answer option with the given id.
func (q RiskAssessmentQuestion) Option(id string) (AnswerOption, bool) {
	for _, a := range q.Answers {
		if a.ID == id {
			return a, true
		}
	}
	return AnswerOption{}, false
}

// RiskThreshold maps an inclusive score range to a level.
type RiskThreshold struct {
	ID       string    `json:"id" yaml:"id"`
	Level    RiskLevel `json:"level" yaml:"level"`
	MinScore float64   `json:"min_score" yaml:"min_score"`
	MaxScore float64   `json:"max_score" yaml:"max_score"`
}
