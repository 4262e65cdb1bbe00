// Package lifecycle is the change request state machine. It decides whether
// an event is legal in the current state, enforces the event's guard and
// produces the updated record. It never touches storage or the audit trail.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// Event is a lifecycle trigger.
type Event string

const (
	EventSubmit              Event = "submit"
	EventApprove             Event = "approve"
	EventReject              Event = "reject"
	EventBeginImplementation Event = "begin-implementation"
	EventClose               Event = "close"
)

// DefaultChangeManagerRole may approve any change request.
const DefaultChangeManagerRole = "change-manager"

// Input carries everything a guard may need.
type Input struct {
	Event     Event
	Actor     string
	ActorRole string
	Reason    string
	Notes     string
	AssignTo  string
	At        time.Time
}

// Transition describes a committed state change.
type Transition struct {
	From   contracts.ChangeStatus
	To     contracts.ChangeStatus
	Event  Event
	Reason string
}

// Message is the audit message for the transition.
func (t Transition) Message() string {
	msg := fmt.Sprintf("Status changed from %s to %s", t.From, t.To)
	if t.Reason != "" && (t.Event == EventReject || t.Event == EventClose) {
		msg += ": " + t.Reason
	}
	return msg
}

type guard func(m *Machine, cr *contracts.ChangeRequest, in Input) (contracts.ChangeStatus, error)

// transitions is the complete table; any pair not listed is illegal.
var transitions = map[contracts.ChangeStatus]map[Event]guard{
	contracts.StatusDraft: {
		EventSubmit: guardSubmit,
	},
	contracts.StatusSubmitted: {
		EventApprove: guardApprove,
		EventReject:  guardReject,
	},
	contracts.StatusApproved: {
		EventBeginImplementation: guardBegin,
	},
	contracts.StatusInProgress: {
		EventClose: guardClose,
	},
}

// Machine applies events to change requests.
type Machine struct {
	changeManagerRole string
	policy            *ApprovalPolicy
}

// NewMachine returns a machine that accepts DefaultChangeManagerRole as a
// universal approver and has no additional approval policy.
func NewMachine() *Machine {
	return &Machine{changeManagerRole: DefaultChangeManagerRole}
}

// WithChangeManagerRole sets the role that may approve any change request.
// An empty role disables the capability.
func (m *Machine) WithChangeManagerRole(role string) *Machine {
	m.changeManagerRole = role
	return m
}

// WithApprovalPolicy adds a policy that must also allow every approval.
func (m *Machine) WithApprovalPolicy(p *ApprovalPolicy) *Machine {
	m.policy = p
	return m
}

// ChangeManagerRole returns the configured change manager role.
func (m *Machine) ChangeManagerRole() string { return m.changeManagerRole }

// Apply fires in.Event against cr. The input record is never modified; on
// success the returned copy carries the new status and guard side effects.
func (m *Machine) Apply(cr *contracts.ChangeRequest, in Input) (*contracts.ChangeRequest, Transition, error) {
	g, ok := transitions[cr.Status][in.Event]
	if !ok {
		return nil, Transition{}, &contracts.TransitionError{From: cr.Status, Event: string(in.Event)}
	}
	next := cr.Clone()
	to, err := g(m, next, in)
	if err != nil {
		return nil, Transition{}, err
	}
	t := Transition{From: cr.Status, To: to, Event: in.Event, Reason: strings.TrimSpace(in.Reason)}
	next.Status = to
	return next, t, nil
}

// CanApprove reports whether role may approve cr, ignoring any policy.
func (m *Machine) CanApprove(cr *contracts.ChangeRequest, role string) bool {
	if role == "" {
		return false
	}
	if m.changeManagerRole != "" && strings.EqualFold(role, m.changeManagerRole) {
		return true
	}
	return cr.HasApproverRole(role)
}

// CanFire reports whether event is legal from status.
func CanFire(status contracts.ChangeStatus, event Event) bool {
	_, ok := transitions[status][event]
	return ok
}

// Events lists the legal events from status in a stable order.
func Events(status contracts.ChangeStatus) []Event {
	var out []Event
	for _, e := range []Event{EventSubmit, EventApprove, EventReject, EventBeginImplementation, EventClose} {
		if CanFire(status, e) {
			out = append(out, e)
		}
	}
	return out
}

// IsTerminal reports whether no event is legal from status.
func IsTerminal(status contracts.ChangeStatus) bool {
	return len(transitions[status]) == 0
}

// EventFor returns the event that moves a record from one status to another,
// for callers that express transitions as a target status.
func EventFor(from, to contracts.ChangeStatus) (Event, bool) {
	switch {
	case from == contracts.StatusDraft && to == contracts.StatusSubmitted:
		return EventSubmit, true
	case from == contracts.StatusSubmitted && to == contracts.StatusApproved:
		return EventApprove, true
	case from == contracts.StatusSubmitted && to == contracts.StatusCancelled:
		return EventReject, true
	case from == contracts.StatusApproved && to == contracts.StatusInProgress:
		return EventBeginImplementation, true
	case from == contracts.StatusInProgress && (to == contracts.StatusCompleted || to == contracts.StatusFailed):
		return EventClose, true
	}
	return "", false
}

func guardSubmit(_ *Machine, cr *contracts.ChangeRequest, _ Input) (contracts.ChangeStatus, error) {
	if strings.TrimSpace(cr.ImplementationPlan) == "" {
		return "", &contracts.ValidationError{Field: "implementation_plan", Reason: "required before submission"}
	}
	if strings.TrimSpace(cr.RollbackPlan) == "" {
		return "", &contracts.ValidationError{Field: "rollback_plan", Reason: "required before submission"}
	}
	return contracts.StatusSubmitted, nil
}

func guardApprove(m *Machine, cr *contracts.ChangeRequest, in Input) (contracts.ChangeStatus, error) {
	if !m.CanApprove(cr, in.ActorRole) {
		return "", fmt.Errorf("%w: role %q may not approve %s (approver roles: %s)",
			contracts.ErrForbidden, in.ActorRole, cr.ID, strings.Join(cr.ApproverRoles, ", "))
	}
	if m.policy != nil {
		if err := m.policy.Check(cr, in.Actor, in.ActorRole); err != nil {
			return "", err
		}
	}
	approvedAt := in.At.UTC()
	cr.ApprovedBy = contracts.StringPtr(in.Actor)
	cr.ApprovedAt = &approvedAt
	if a := strings.TrimSpace(in.AssignTo); a != "" {
		cr.AssignedTo = contracts.StringPtr(a)
	}
	return contracts.StatusApproved, nil
}

func guardReject(_ *Machine, cr *contracts.ChangeRequest, in Input) (contracts.ChangeStatus, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return "", &contracts.ValidationError{Field: "reason", Reason: "a rejection reason is required"}
	}
	cr.RejectionReason = contracts.StringPtr(reason)
	return contracts.StatusCancelled, nil
}

func guardBegin(_ *Machine, cr *contracts.ChangeRequest, in Input) (contracts.ChangeStatus, error) {
	if in.At.Before(cr.StartDate) {
		return "", &contracts.ValidationError{
			Field:  "start_date",
			Reason: fmt.Sprintf("implementation cannot begin before %s", cr.StartDate.UTC().Format(time.RFC3339)),
		}
	}
	return contracts.StatusInProgress, nil
}

// Closure reasons that end a change as failed. Any other reason completes it.
var failureReasons = map[string]bool{"failed": true, "rolled-back": true}

// IsFailureReason reports whether a closure reason marks the change as failed.
func IsFailureReason(reason string) bool {
	return failureReasons[strings.ToLower(strings.TrimSpace(reason))]
}

func guardClose(_ *Machine, cr *contracts.ChangeRequest, in Input) (contracts.ChangeStatus, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return "", &contracts.ValidationError{Field: "reason", Reason: "a closure reason is required"}
	}
	cr.ClosureReason = contracts.StringPtr(reason)
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		cr.ClosureNotes = contracts.StringPtr(notes)
	}
	if IsFailureReason(reason) {
		return contracts.StatusFailed, nil
	}
	return contracts.StatusCompleted, nil
}
