package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/changegate/pkg/audit"
	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// CatalogID identifies the risk configuration in its own audit trail.
const CatalogID = "risk-catalog"

// Catalog holds the active questionnaire and threshold table. Updates are
// validated as a whole and recorded in the catalog's audit trail.
type Catalog struct {
	mu         sync.RWMutex
	questions  []contracts.RiskAssessmentQuestion
	thresholds []contracts.RiskThreshold
	trail      []contracts.AuditEntry
	clock      func() time.Time
}

// NewCatalog validates and installs the given configuration.
func NewCatalog(questions []contracts.RiskAssessmentQuestion, thresholds []contracts.RiskThreshold) (*Catalog, error) {
	if err := ValidateQuestions(questions); err != nil {
		return nil, err
	}
	if err := ValidateThresholds(thresholds); err != nil {
		return nil, err
	}
	if err := ValidateCoverage(questions, thresholds); err != nil {
		return nil, err
	}
	return &Catalog{
		questions:  copyQuestions(questions),
		thresholds: append([]contracts.RiskThreshold(nil), thresholds...),
		clock:      time.Now,
	}, nil
}

// DefaultCatalog returns a catalog with the built-in configuration.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultQuestions(), DefaultThresholds())
	if err != nil {
		panic(fmt.Sprintf("risk: built-in catalog is invalid: %v", err))
	}
	return c
}

// WithClock overrides the clock for deterministic testing.
func (c *Catalog) WithClock(clock func() time.Time) *Catalog {
	c.clock = clock
	return c
}

func (c *Catalog) Questions() []contracts.RiskAssessmentQuestion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyQuestions(c.questions)
}

func (c *Catalog) Thresholds() []contracts.RiskThreshold {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]contracts.RiskThreshold(nil), c.thresholds...)
}

// Snapshot returns both tables read under one lock.
func (c *Catalog) Snapshot() ([]contracts.RiskAssessmentQuestion, []contracts.RiskThreshold) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyQuestions(c.questions), append([]contracts.RiskThreshold(nil), c.thresholds...)
}

// Audit returns the configuration change history.
func (c *Catalog) Audit() []contracts.AuditEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]contracts.AuditEntry(nil), c.trail...)
}

// SetQuestions replaces the questionnaire and returns the audit entry it
// appended. Nothing changes on error.
func (c *Catalog) SetQuestions(questions []contracts.RiskAssessmentQuestion, actor string) (contracts.AuditEntry, error) {
	if err := ValidateQuestions(questions); err != nil {
		return contracts.AuditEntry{}, err
	}
	active := 0
	for _, q := range questions {
		if q.Active {
			active++
		}
	}
	msg := fmt.Sprintf("Risk questions updated: %d questions (%d active)", len(questions), active)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ValidateCoverage(questions, c.thresholds); err != nil {
		return contracts.AuditEntry{}, err
	}
	trail, entry, err := audit.Append(c.trail, c.record(actor, msg), c.clock())
	if err != nil {
		return contracts.AuditEntry{}, err
	}
	c.questions = copyQuestions(questions)
	c.trail = trail
	return entry, nil
}

// SetThresholds replaces the threshold table and returns the audit entry it
// appended. Nothing changes on error.
func (c *Catalog) SetThresholds(thresholds []contracts.RiskThreshold, actor string) (contracts.AuditEntry, error) {
	if err := ValidateThresholds(thresholds); err != nil {
		return contracts.AuditEntry{}, err
	}
	parts := make([]string, len(thresholds))
	for i, t := range thresholds {
		parts[i] = fmt.Sprintf("%s [%.1f, %.1f]", t.Level, t.MinScore, t.MaxScore)
	}
	msg := "Risk thresholds updated: " + strings.Join(parts, ", ")

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ValidateCoverage(c.questions, thresholds); err != nil {
		return contracts.AuditEntry{}, err
	}
	trail, entry, err := audit.Append(c.trail, c.record(actor, msg), c.clock())
	if err != nil {
		return contracts.AuditEntry{}, err
	}
	c.thresholds = append([]contracts.RiskThreshold(nil), thresholds...)
	c.trail = trail
	return entry, nil
}

// Assess resolves answers and computes score and level against the current
// configuration.
func (c *Catalog) Assess(answers []contracts.AssessmentAnswer) (Assessment, error) {
	questions, thresholds := c.Snapshot()
	resolved, scored, err := ResolveAnswers(answers, questions)
	if err != nil {
		return Assessment{}, err
	}
	score := Score(scored, questions)
	return Assessment{
		Answers: resolved,
		Score:   score,
		Level:   Classify(score, thresholds),
		Missing: MissingRequired(resolved, questions),
	}, nil
}

// Assessment is the outcome of scoring a set of answers.
type Assessment struct {
	Answers []contracts.AssessmentAnswer
	Score   float64
	Level   contracts.RiskLevel
	Missing []string
}

func (c *Catalog) record(actor, msg string) audit.Record {
	return audit.Record{
		EntityType:  contracts.EntityRiskConfiguration,
		EntityID:    CatalogID,
		PerformedBy: actor,
		Message:     msg,
	}
}

func copyQuestions(in []contracts.RiskAssessmentQuestion) []contracts.RiskAssessmentQuestion {
	out := make([]contracts.RiskAssessmentQuestion, len(in))
	for i, q := range in {
		q.Answers = append([]contracts.AnswerOption(nil), q.Answers...)
		out[i] = q
	}
	return out
}
