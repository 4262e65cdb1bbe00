package changes

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// RiskQuestions returns the active questionnaire configuration.
func (s *Service) RiskQuestions() []contracts.RiskAssessmentQuestion {
	return s.catalog.Questions()
}

// RiskThresholds returns the active threshold table.
func (s *Service) RiskThresholds() []contracts.RiskThreshold {
	return s.catalog.Thresholds()
}

// RiskConfigurationAudit returns the audit trail of configuration changes.
func (s *Service) RiskConfigurationAudit() []contracts.AuditEntry {
	return s.catalog.Audit()
}

// SetRiskQuestions replaces the questionnaire. Invalid questions, or option
// values above the top threshold, are rejected with an error matching
// contracts.ErrConfiguration.
func (s *Service) SetRiskQuestions(ctx context.Context, questions []contracts.RiskAssessmentQuestion, actorID string) (err error) {
	ctx, done := s.track(ctx, "set-risk-questions")
	defer func() { done(err) }()

	if err := s.requireAdmin(ctx, actorID, "change the risk configuration"); err != nil {
		return err
	}
	entry, err := s.catalog.SetQuestions(questions, actorID)
	if err != nil {
		return err
	}
	s.publish(ctx, []contracts.AuditEntry{entry})
	s.logger.InfoContext(ctx, "risk questions updated", "actor", actorID, "count", len(questions))
	return nil
}

// SetRiskThresholds replaces the threshold table. Gaps, overlaps and tables
// that stop short of the questionnaire's maximum score are rejected with
// contracts.ErrConfiguration.
func (s *Service) SetRiskThresholds(ctx context.Context, thresholds []contracts.RiskThreshold, actorID string) (err error) {
	ctx, done := s.track(ctx, "set-risk-thresholds")
	defer func() { done(err) }()

	if err := s.requireAdmin(ctx, actorID, "change the risk configuration"); err != nil {
		return err
	}
	entry, err := s.catalog.SetThresholds(thresholds, actorID)
	if err != nil {
		return err
	}
	s.publish(ctx, []contracts.AuditEntry{entry})
	s.logger.InfoContext(ctx, "risk thresholds updated", "actor", actorID, "count", len(thresholds))
	return nil
}

// requireAdmin admits the change-manager role and the configured admin roles.
func (s *Service) requireAdmin(ctx context.Context, actorID, action string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	role, err := s.roleOf(ctx, actorID)
	if err != nil {
		return err
	}
	if role != "" {
		if strings.EqualFold(role, s.machine.ChangeManagerRole()) {
			return nil
		}
		for _, r := range s.adminRoles {
			if strings.EqualFold(role, r) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: role %q may not %s", contracts.ErrForbidden, role, action)
}
