package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newRecord(status contracts.ChangeStatus) *contracts.ChangeRequest {
	return &contracts.ChangeRequest{
		ID:                 "CHG00042",
		Title:              "Rotate TLS certificates",
		Category:           contracts.CategoryNormal,
		ImplementationPlan: "run playbook",
		RollbackPlan:       "restore previous certs",
		StartDate:          now.Add(-time.Hour),
		EndDate:            now.Add(time.Hour),
		Status:             status,
		CreatedBy:          "alice",
		ApproverRoles:      []string{"it"},
	}
}

func TestApply_HappyPath(t *testing.T) {
	m := NewMachine()
	cr := newRecord(contracts.StatusDraft)

	cr, tr, err := m.Apply(cr, Input{Event: EventSubmit, Actor: "alice", At: now})
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSubmitted, cr.Status)
	assert.Equal(t, "Status changed from draft to submitted", tr.Message())

	cr, _, err = m.Apply(cr, Input{Event: EventApprove, Actor: "bob", ActorRole: "it", AssignTo: "carol", At: now})
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusApproved, cr.Status)
	require.NotNil(t, cr.ApprovedBy)
	assert.Equal(t, "bob", *cr.ApprovedBy)
	assert.Equal(t, now, *cr.ApprovedAt)
	assert.Equal(t, "carol", *cr.AssignedTo)

	cr, _, err = m.Apply(cr, Input{Event: EventBeginImplementation, Actor: "carol", At: now})
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusInProgress, cr.Status)

	cr, tr, err = m.Apply(cr, Input{Event: EventClose, Actor: "carol", Reason: "successful", Notes: "no issues", At: now})
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusCompleted, cr.Status)
	assert.Equal(t, "successful", *cr.ClosureReason)
	assert.Equal(t, "no issues", *cr.ClosureNotes)
	assert.Equal(t, "Status changed from in-progress to completed: successful", tr.Message())
	assert.True(t, IsTerminal(cr.Status))
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	m := NewMachine()
	cr := newRecord(contracts.StatusSubmitted)
	_, _, err := m.Apply(cr, Input{Event: EventApprove, Actor: "bob", ActorRole: "it", At: now})
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSubmitted, cr.Status)
	assert.Nil(t, cr.ApprovedBy)
}

func TestApply_SubmitRequiresPlans(t *testing.T) {
	m := NewMachine()
	cr := newRecord(contracts.StatusDraft)
	cr.RollbackPlan = "  "
	_, _, err := m.Apply(cr, Input{Event: EventSubmit, At: now})
	require.ErrorIs(t, err, contracts.ErrValidation)

	var ve *contracts.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "rollback_plan", ve.Field)
}

func TestApply_ApproveRoleGuard(t *testing.T) {
	m := NewMachine()
	cr := newRecord(contracts.StatusSubmitted)

	_, _, err := m.Apply(cr, Input{Event: EventApprove, Actor: "dave", ActorRole: "finance", At: now})
	assert.ErrorIs(t, err, contracts.ErrForbidden)
	assert.NotErrorIs(t, err, contracts.ErrInvalidTransition)

	_, _, err = m.Apply(cr, Input{Event: EventApprove, Actor: "dave", ActorRole: "", At: now})
	assert.ErrorIs(t, err, contracts.ErrForbidden)

	out, _, err := m.Apply(cr, Input{Event: EventApprove, Actor: "erin", ActorRole: "Change-Manager", At: now})
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusApproved, out.Status)

	strict := NewMachine().WithChangeManagerRole("")
	_, _, err = strict.Apply(cr, Input{Event: EventApprove, Actor: "erin", ActorRole: "change-manager", At: now})
	assert.ErrorIs(t, err, contracts.ErrForbidden)
}

func TestApply_Reject(t *testing.T) {
	m := NewMachine()
	cr := newRecord(contracts.StatusSubmitted)

	_, _, err := m.Apply(cr, Input{Event: EventReject, Actor: "bob"})
	assert.ErrorIs(t, err, contracts.ErrValidation)

	out, tr, err := m.Apply(cr, Input{Event: EventReject, Actor: "bob", Reason: "no maintenance window"})
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusCancelled, out.Status)
	assert.Equal(t, "no maintenance window", *out.RejectionReason)
	assert.Equal(t, "Status changed from submitted to cancelled: no maintenance window", tr.Message())
}

func TestApply_BeginRespectsStartDate(t *testing.T) {
	m := NewMachine()
	cr := newRecord(contracts.StatusApproved)
	cr.StartDate = now.Add(time.Hour)

	_, _, err := m.Apply(cr, Input{Event: EventBeginImplementation, At: now})
	assert.ErrorIs(t, err, contracts.ErrValidation)

	_, _, err = m.Apply(cr, Input{Event: EventBeginImplementation, At: cr.StartDate})
	assert.NoError(t, err)
}

func TestApply_CloseOutcome(t *testing.T) {
	m := NewMachine()
	for reason, want := range map[string]contracts.ChangeStatus{
		"successful":  contracts.StatusCompleted,
		"partial":     contracts.StatusCompleted,
		"failed":      contracts.StatusFailed,
		"Rolled-Back": contracts.StatusFailed,
	} {
		out, _, err := m.Apply(newRecord(contracts.StatusInProgress), Input{Event: EventClose, Reason: reason, At: now})
		require.NoError(t, err, reason)
		assert.Equal(t, want, out.Status, reason)
	}

	_, _, err := m.Apply(newRecord(contracts.StatusInProgress), Input{Event: EventClose, At: now})
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestApply_IllegalPairs(t *testing.T) {
	m := NewMachine()
	events := []Event{EventSubmit, EventApprove, EventReject, EventBeginImplementation, EventClose}
	for _, status := range contracts.AllStatuses {
		for _, ev := range events {
			if CanFire(status, ev) {
				continue
			}
			cr := newRecord(status)
			_, _, err := m.Apply(cr, Input{Event: ev, ActorRole: "it", Reason: "x", At: now})
			require.ErrorIs(t, err, contracts.ErrInvalidTransition, "%s/%s", status, ev)

			var te *contracts.TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, status, te.From)
			assert.Equal(t, string(ev), te.Event)
			assert.Equal(t, status, cr.Status)
		}
	}
}

func TestEventsAndTerminal(t *testing.T) {
	assert.Equal(t, []Event{EventApprove, EventReject}, Events(contracts.StatusSubmitted))
	assert.Empty(t, Events(contracts.StatusCancelled))
	assert.True(t, IsTerminal(contracts.StatusFailed))
	assert.False(t, IsTerminal(contracts.StatusApproved))

	ev, ok := EventFor(contracts.StatusInProgress, contracts.StatusFailed)
	assert.True(t, ok)
	assert.Equal(t, EventClose, ev)
	_, ok = EventFor(contracts.StatusDraft, contracts.StatusApproved)
	assert.False(t, ok)
}

func TestApprovalPolicy(t *testing.T) {
	p, err := NewApprovalPolicy(`change.risk_level != "high" || actor.role == "change-manager"`)
	require.NoError(t, err)
	m := NewMachine().WithApprovalPolicy(p)

	cr := newRecord(contracts.StatusSubmitted)
	cr.RiskLevel = contracts.RiskHigh
	_, _, err = m.Apply(cr, Input{Event: EventApprove, Actor: "bob", ActorRole: "it", At: now})
	assert.ErrorIs(t, err, contracts.ErrForbidden)

	_, _, err = m.Apply(cr, Input{Event: EventApprove, Actor: "erin", ActorRole: "change-manager", At: now})
	assert.NoError(t, err)

	cr.RiskLevel = contracts.RiskLow
	_, _, err = m.Apply(cr, Input{Event: EventApprove, Actor: "bob", ActorRole: "it", At: now})
	assert.NoError(t, err)
}

func TestApprovalPolicy_SelfApprovalRule(t *testing.T) {
	p, err := NewApprovalPolicy(`actor.id != change.created_by`)
	require.NoError(t, err)
	m := NewMachine().WithApprovalPolicy(p)

	_, _, err = m.Apply(newRecord(contracts.StatusSubmitted), Input{Event: EventApprove, Actor: "alice", ActorRole: "it", At: now})
	assert.ErrorIs(t, err, contracts.ErrForbidden)
}

func TestNewApprovalPolicy_RejectsInvalidSource(t *testing.T) {
	_, err := NewApprovalPolicy(`actor.role ==`)
	assert.ErrorIs(t, err, contracts.ErrConfiguration)

	p, err := NewApprovalPolicy(`"not a bool"`)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Check(newRecord(contracts.StatusSubmitted), "bob", "it"), contracts.ErrForbidden)
}
