// Package changes is the change request service. It is the only component
// that mutates change requests: every command resolves the record, takes the
// per-record lock, applies the change on a copy, appends to the audit trail
// and commits with an optimistic version check.
package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/changegate/pkg/audit"
	"github.com/Mindburn-Labs/changegate/pkg/auth"
	"github.com/Mindburn-Labs/changegate/pkg/contracts"
	"github.com/Mindburn-Labs/changegate/pkg/lifecycle"
	"github.com/Mindburn-Labs/changegate/pkg/lock"
	"github.com/Mindburn-Labs/changegate/pkg/observability"
	"github.com/Mindburn-Labs/changegate/pkg/risk"
	"github.com/Mindburn-Labs/changegate/pkg/store"
)

// maxAttempts bounds retries after a version conflict or id collision.
const maxAttempts = 3

// DefaultAdminRole may edit the risk configuration and approver roles.
const DefaultAdminRole = "admin"

// Service implements the change request commands and queries.
type Service struct {
	repo    store.ChangeRequestRepository
	catalog *risk.Catalog
	machine *lifecycle.Machine
	roles   auth.RoleProvider

	locker   lock.Locker
	sink     audit.Sink
	exporter *audit.Exporter
	obs      *observability.Provider
	logger   *slog.Logger
	clock    func() time.Time

	defaultApproverRoles []string
	adminRoles           []string
}

// NewService wires a service with in-process locking and no audit sink.
func NewService(repo store.ChangeRequestRepository, catalog *risk.Catalog, machine *lifecycle.Machine, roles auth.RoleProvider) *Service {
	if catalog == nil {
		catalog = risk.DefaultCatalog()
	}
	if machine == nil {
		machine = lifecycle.NewMachine()
	}
	if roles == nil {
		roles = auth.NewStaticRoleDirectory(nil)
	}
	return &Service{
		repo:                 repo,
		catalog:              catalog,
		machine:              machine,
		roles:                roles,
		locker:               lock.NewKeyedMutex(),
		sink:                 audit.Discard,
		logger:               slog.Default().With("component", "changes"),
		clock:                time.Now,
		defaultApproverRoles: contracts.DefaultApproverRoles,
		adminRoles:           []string{DefaultAdminRole},
	}
}

// WithLocker replaces the per-record lock, e.g. with a Redis lock shared by
// several instances.
func (s *Service) WithLocker(l lock.Locker) *Service {
	s.locker = l
	return s
}

// WithSink publishes committed audit entries to sink.
func (s *Service) WithSink(sink audit.Sink) *Service {
	s.sink = sink
	return s
}

func (s *Service) WithExporter(e *audit.Exporter) *Service {
	s.exporter = e
	return s
}

func (s *Service) WithObservability(p *observability.Provider) *Service {
	s.obs = p
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l.With("component", "changes")
	return s
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithDefaultApproverRoles sets the roles given to records created without any.
func (s *Service) WithDefaultApproverRoles(roles []string) *Service {
	if len(roles) > 0 {
		s.defaultApproverRoles = append([]string(nil), roles...)
	}
	return s
}

// WithAdminRoles sets the roles allowed to edit the risk configuration and
// approver roles in addition to the change manager role.
func (s *Service) WithAdminRoles(roles []string) *Service {
	s.adminRoles = append([]string(nil), roles...)
	return s
}

// Catalog exposes the risk catalog in use.
func (s *Service) Catalog() *risk.Catalog { return s.catalog }

// Create stores a new draft change request.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID string) (cr *contracts.ChangeRequest, err error) {
	ctx, done := s.track(ctx, "create")
	defer func() { done(err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	in.Normalize()
	if err := validateStruct(&in); err != nil {
		return nil, err
	}
	if err := checkWindow(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}
	priority, err := contracts.ParsePriority(in.Priority)
	if err != nil {
		return nil, err
	}
	category := in.Category
	if category == "" {
		category = contracts.CategoryNormal
	}
	if len(in.ApproverRoles) > 0 && !slices.Equal(in.ApproverRoles, s.defaultApproverRoles) {
		if err := s.requireAdmin(ctx, actorID, "choose approver roles"); err != nil {
			return nil, err
		}
	}

	now := s.clock().UTC()
	cr = &contracts.ChangeRequest{
		Title:              in.Title,
		Description:        in.Description,
		Category:           category,
		Priority:           priority,
		ImplementationPlan: in.ImplementationPlan,
		RollbackPlan:       in.RollbackPlan,
		StartDate:          in.StartDate.UTC(),
		EndDate:            in.EndDate.UTC(),
		Status:             contracts.StatusDraft,
		CreatedBy:          actorID,
		ApproverRoles:      in.ApproverRoles,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if len(cr.ApproverRoles) == 0 {
		cr.ApproverRoles = append([]string(nil), s.defaultApproverRoles...)
	}
	if in.AssignedTo != "" {
		cr.AssignedTo = contracts.StringPtr(in.AssignedTo)
	}

	if len(in.AssessmentAnswers) > 0 {
		a, err := s.catalog.Assess(in.AssessmentAnswers)
		if err != nil {
			return nil, err
		}
		cr.AssessmentAnswers = a.Answers
		cr.RiskScore = a.Score
		cr.RiskLevel = a.Level
		s.recordScore(ctx, a)
	} else {
		cr.RiskLevel = risk.Classify(0, s.catalog.Thresholds())
	}

	// Creators serialise on one key so ids are allocated in order. The
	// retry covers instances that do not share a lock.
	unlock, err := s.locker.Lock(ctx, "change-request:sequence")
	if err != nil {
		return nil, fmt.Errorf("lock id sequence: %w", err)
	}
	defer unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		seq, err := s.repo.MaxSequence(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocate id: %w", err)
		}
		next := cr.Clone()
		next.ID = store.FormatID(seq + 1)
		trail, _, err := audit.Append(nil, s.record(next.ID, actorID, "Change request created"), now)
		if err != nil {
			return nil, err
		}
		next.Audit = trail

		err = s.repo.Insert(ctx, next)
		if errors.Is(err, store.ErrAlreadyExists) {
			s.logger.WarnContext(ctx, "id collision, retrying", "id", next.ID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", next.ID, err)
		}
		s.publish(ctx, next.Audit)
		s.logger.InfoContext(ctx, "change request created", "id", next.ID, "actor", actorID, "risk_level", next.RiskLevel)
		return next, nil
	}
	return nil, fmt.Errorf("allocate id after %d attempts: %w", maxAttempts, contracts.ErrConflict)
}

// Get returns the record matching ref exactly, or the single record whose id
// contains ref.
func (s *Service) Get(ctx context.Context, ref string) (*contracts.ChangeRequest, error) {
	id, err := s.ResolveID(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// ResolveID maps a full or partial identifier to a stored id. An exact match
// always wins over substring matches.
func (s *Service) ResolveID(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &contracts.ValidationError{Field: "id", Reason: "is required"}
	}
	if _, err := s.repo.Get(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, contracts.ErrNotFound) {
		return "", err
	}
	ids, err := s.repo.FindByIDFragment(ctx, ref)
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("change request %q: %w", ref, contracts.ErrNotFound)
	case 1:
		return ids[0], nil
	}
	return "", &contracts.AmbiguousIDError{Fragment: ref, Candidates: ids}
}

// Submit moves a draft to submitted.
func (s *Service) Submit(ctx context.Context, ref, actorID string) (*contracts.ChangeRequest, error) {
	return s.fire(ctx, ref, lifecycle.Input{Event: lifecycle.EventSubmit, Actor: actorID})
}

// Approve approves a submitted change. assignTo optionally names the
// implementer.
func (s *Service) Approve(ctx context.Context, ref, actorID, assignTo string) (*contracts.ChangeRequest, error) {
	return s.fire(ctx, ref, lifecycle.Input{Event: lifecycle.EventApprove, Actor: actorID, AssignTo: assignTo})
}

// Reject cancels a submitted change.
func (s *Service) Reject(ctx context.Context, ref, actorID, reason string) (*contracts.ChangeRequest, error) {
	return s.fire(ctx, ref, lifecycle.Input{Event: lifecycle.EventReject, Actor: actorID, Reason: reason})
}

// BeginImplementation moves an approved change to in-progress once its
// window has opened.
func (s *Service) BeginImplementation(ctx context.Context, ref, actorID string) (*contracts.ChangeRequest, error) {
	return s.fire(ctx, ref, lifecycle.Input{Event: lifecycle.EventBeginImplementation, Actor: actorID})
}

// Close ends an in-progress change as completed, or as failed when reason
// is "failed" or "rolled-back".
func (s *Service) Close(ctx context.Context, ref, actorID, reason, notes string) (*contracts.ChangeRequest, error) {
	return s.fire(ctx, ref, lifecycle.Input{Event: lifecycle.EventClose, Actor: actorID, Reason: reason, Notes: notes})
}

func (s *Service) fire(ctx context.Context, ref string, in lifecycle.Input) (cr *contracts.ChangeRequest, err error) {
	ctx, done := s.track(ctx, string(in.Event), attribute.String("event", string(in.Event)))
	defer func() {
		done(err)
		outcome := "committed"
		if err != nil {
			outcome = contracts.ErrorKind(err)
			s.logger.DebugContext(ctx, "command rejected", "event", in.Event, "ref", ref, "actor", in.Actor, "kind", outcome, "error", err)
		}
		if s.obs != nil {
			s.obs.RecordTransition(ctx, string(in.Event), outcome)
		}
	}()

	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	return s.mutate(ctx, ref, in.Actor, func(cr *contracts.ChangeRequest, now time.Time) ([]string, error) {
		msg, err := s.transition(ctx, cr, in, now)
		if err != nil {
			return nil, err
		}
		return []string{msg}, nil
	})
}

// transition applies in to cr in place and returns the audit message.
func (s *Service) transition(ctx context.Context, cr *contracts.ChangeRequest, in lifecycle.Input, now time.Time) (string, error) {
	in.At = now
	if in.Event == lifecycle.EventApprove {
		role, err := s.roleOf(ctx, in.Actor)
		if err != nil {
			return "", err
		}
		in.ActorRole = role
	}
	next, t, err := s.machine.Apply(cr, in)
	if err != nil {
		return "", err
	}
	*cr = *next
	s.logger.InfoContext(ctx, "status changed", "id", cr.ID, "from", t.From, "to", t.To, "actor", in.Actor)
	return t.Message(), nil
}

// Update applies a partial update. A status different from the current one
// is routed through the lifecycle with the same guards as the explicit
// commands. Plans and dates are frozen once approved, and approver roles may
// only be changed on a draft by a change manager or admin.
func (s *Service) Update(ctx context.Context, ref string, in UpdateInput, actorID string) (cr *contracts.ChangeRequest, err error) {
	ctx, done := s.track(ctx, "update")
	defer func() { done(err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if in.RiskScore != nil {
		return nil, &contracts.ValidationError{Field: "risk_score", Reason: "is derived and cannot be set directly"}
	}
	if in.RiskLevel != nil {
		return nil, &contracts.ValidationError{Field: "risk_level", Reason: "is derived and cannot be set directly"}
	}
	in.Normalize()
	if err := validateStruct(&in); err != nil {
		return nil, err
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, &contracts.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *in.Status)}
	}

	return s.mutate(ctx, ref, actorID, func(cr *contracts.ChangeRequest, now time.Time) ([]string, error) {
		changed, err := applyFields(cr, in)
		if err != nil {
			return nil, err
		}
		var msgs []string
		if len(changed) > 0 {
			if err := s.checkEditable(ctx, cr.Status, changed, actorID); err != nil {
				return nil, err
			}
			msgs = append(msgs, "Updated "+strings.Join(changed, ", "))
		}
		if in.Status != nil && *in.Status != cr.Status {
			msg, err := s.moveTo(ctx, cr, *in.Status, in, actorID, now)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
		return msgs, nil
	})
}

// scheduleFields are frozen once a change has been approved.
var scheduleFields = []string{"implementation_plan", "rollback_plan", "start_date", "end_date"}

// checkEditable rejects field edits the record's status no longer allows.
// Approver roles are settled by a change manager or admin while the record
// is a draft.
func (s *Service) checkEditable(ctx context.Context, status contracts.ChangeStatus, changed []string, actorID string) error {
	if lifecycle.IsTerminal(status) {
		return &contracts.TransitionError{From: status, Event: "update"}
	}
	if status == contracts.StatusApproved || status == contracts.StatusInProgress {
		for _, f := range changed {
			if slices.Contains(scheduleFields, f) {
				return &contracts.TransitionError{From: status, Event: "update " + f}
			}
		}
	}
	if slices.Contains(changed, "approver_roles") {
		if status != contracts.StatusDraft {
			return &contracts.TransitionError{From: status, Event: "update approver_roles"}
		}
		if err := s.requireAdmin(ctx, actorID, "change approver roles"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) moveTo(ctx context.Context, cr *contracts.ChangeRequest, target contracts.ChangeStatus, in UpdateInput, actorID string, now time.Time) (string, error) {
	event, ok := lifecycle.EventFor(cr.Status, target)
	if !ok {
		return "", &contracts.TransitionError{From: cr.Status, Event: "move to " + string(target)}
	}
	reason := in.Reason
	if event == lifecycle.EventClose && strings.TrimSpace(reason) == "" {
		reason = string(target)
	}
	msg, err := s.transition(ctx, cr, lifecycle.Input{
		Event:    event,
		Actor:    actorID,
		Reason:   reason,
		Notes:    in.Notes,
		AssignTo: in.AssignTo,
	}, now)
	if err != nil {
		return "", err
	}
	if cr.Status != target {
		return "", &contracts.ValidationError{
			Field:  "reason",
			Reason: fmt.Sprintf("closure reason %q ends the change as %s, not %s", reason, cr.Status, target),
		}
	}
	return msg, nil
}

// applyFields merges in into cr and returns the names of the fields whose
// value changed.
func applyFields(cr *contracts.ChangeRequest, in UpdateInput) ([]string, error) {
	var changed []string
	setString := func(name string, dst *string, src *string) {
		if src != nil && *src != *dst {
			*dst = *src
			changed = append(changed, name)
		}
	}
	setString("title", &cr.Title, in.Title)
	setString("description", &cr.Description, in.Description)
	if in.Category != nil && *in.Category != cr.Category {
		cr.Category = *in.Category
		changed = append(changed, "category")
	}
	if in.Priority != nil {
		p, err := contracts.ParsePriority(*in.Priority)
		if err != nil {
			return nil, err
		}
		if p != cr.Priority {
			cr.Priority = p
			changed = append(changed, "priority")
		}
	}
	setString("implementation_plan", &cr.ImplementationPlan, in.ImplementationPlan)
	setString("rollback_plan", &cr.RollbackPlan, in.RollbackPlan)
	if in.StartDate != nil && !in.StartDate.Equal(cr.StartDate) {
		cr.StartDate = in.StartDate.UTC()
		changed = append(changed, "start_date")
	}
	if in.EndDate != nil && !in.EndDate.Equal(cr.EndDate) {
		cr.EndDate = in.EndDate.UTC()
		changed = append(changed, "end_date")
	}
	if err := checkWindow(cr.StartDate, cr.EndDate); err != nil {
		return nil, err
	}
	if in.ApproverRoles != nil {
		if len(in.ApproverRoles) == 0 {
			return nil, &contracts.ValidationError{Field: "approver_roles", Reason: "must name at least one role"}
		}
		if strings.Join(in.ApproverRoles, "\x00") != strings.Join(cr.ApproverRoles, "\x00") {
			cr.ApproverRoles = append([]string(nil), in.ApproverRoles...)
			changed = append(changed, "approver_roles")
		}
	}
	if in.AssignedTo != nil {
		current := ""
		if cr.AssignedTo != nil {
			current = *cr.AssignedTo
		}
		if *in.AssignedTo != current {
			if *in.AssignedTo == "" {
				cr.AssignedTo = nil
			} else {
				cr.AssignedTo = contracts.StringPtr(*in.AssignedTo)
			}
			changed = append(changed, "assigned_to")
		}
	}
	return changed, nil
}

// CompleteRiskAssessment scores answers against the current catalog and
// stores the result. The status is left unchanged.
func (s *Service) CompleteRiskAssessment(ctx context.Context, ref string, answers []contracts.AssessmentAnswer, actorID string) (cr *contracts.ChangeRequest, err error) {
	ctx, done := s.track(ctx, "assess-risk")
	defer func() { done(err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, ref, actorID, func(cr *contracts.ChangeRequest, _ time.Time) ([]string, error) {
		if lifecycle.IsTerminal(cr.Status) {
			return nil, &contracts.TransitionError{From: cr.Status, Event: "assess risk"}
		}
		a, err := s.catalog.Assess(answers)
		if err != nil {
			return nil, err
		}
		if len(a.Missing) > 0 {
			return nil, &contracts.ValidationError{
				Field:  "answers",
				Reason: "missing required questions: " + strings.Join(a.Missing, ", "),
			}
		}
		cr.AssessmentAnswers = a.Answers
		cr.RiskScore = a.Score
		cr.RiskLevel = a.Level
		s.recordScore(ctx, a)
		return []string{fmt.Sprintf("Risk assessment completed: score %.1f (%s)", a.Score, a.Level)}, nil
	})
}

// AuditTrail returns the audit entries of one change request, oldest first.
func (s *Service) AuditTrail(ctx context.Context, ref string) ([]contracts.AuditEntry, error) {
	cr, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return cr.Audit, nil
}

// VerifyAudit checks the hash chain of one change request.
func (s *Service) VerifyAudit(ctx context.Context, ref string) error {
	cr, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	return audit.Verify(cr.Audit)
}

// ExportEvidence builds an evidence pack for one change request and uploads
// it through the configured exporter.
func (s *Service) ExportEvidence(ctx context.Context, ref string) (key string, pack *audit.Pack, err error) {
	ctx, done := s.track(ctx, "export-evidence")
	defer func() { done(err) }()

	if s.exporter == nil {
		return "", nil, audit.ErrStoreNotConfigured
	}
	cr, err := s.Get(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	return s.exporter.Publish(ctx, cr)
}

// mutateFunc edits cr in place and returns one audit message per logical
// change. Returning no messages means nothing changed.
type mutateFunc func(cr *contracts.ChangeRequest, now time.Time) ([]string, error)

// mutate is the read-modify-write cycle shared by every command. The stored
// record is only replaced when fn succeeds and the version is unchanged.
func (s *Service) mutate(ctx context.Context, ref, actorID string, fn mutateFunc) (*contracts.ChangeRequest, error) {
	id, err := s.ResolveID(ctx, ref)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, "change-request:"+id)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", id, err)
	}
	defer unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		now := s.clock().UTC()
		next := current.Clone()
		msgs, err := fn(next, now)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return current, nil
		}

		trail := next.Audit
		for _, msg := range msgs {
			if trail, _, err = audit.Append(trail, s.record(id, actorID, msg), now); err != nil {
				return nil, err
			}
		}
		appended := trail[len(next.Audit):]
		next.Audit = trail
		next.UpdatedAt = now

		err = s.repo.Update(ctx, next, current.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			s.logger.WarnContext(ctx, "version conflict, retrying", "id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", id, err)
		}
		s.publish(ctx, appended)
		return next, nil
	}
	return nil, fmt.Errorf("change request %s: %w", id, contracts.ErrConflict)
}

func (s *Service) record(id, actorID, msg string) audit.Record {
	return audit.Record{
		EntityType:  contracts.EntityChangeRequest,
		EntityID:    id,
		PerformedBy: actorID,
		Message:     msg,
	}
}

// publish forwards committed entries. Sink failures are logged only; the
// commit stands.
func (s *Service) publish(ctx context.Context, entries []contracts.AuditEntry) {
	for _, e := range entries {
		if err := s.sink.Publish(ctx, e); err != nil {
			s.logger.WarnContext(ctx, "audit sink publish failed", "entity_id", e.EntityID, "sequence", e.Sequence, "error", err)
		}
	}
}

func (s *Service) roleOf(ctx context.Context, actorID string) (string, error) {
	role, err := s.roles.RoleOf(ctx, actorID)
	if err != nil {
		return "", fmt.Errorf("resolve role of %q: %w", actorID, err)
	}
	return role, nil
}

func (s *Service) track(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if s.obs == nil {
		return ctx, func(error) {}
	}
	return s.obs.TrackOperation(ctx, "changes."+name, attrs...)
}

func (s *Service) recordScore(ctx context.Context, a risk.Assessment) {
	if s.obs != nil {
		s.obs.RecordRiskScore(ctx, a.Score, string(a.Level))
	}
}

func requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return &contracts.ValidationError{Field: "actor", Reason: "is required"}
	}
	return nil
}
