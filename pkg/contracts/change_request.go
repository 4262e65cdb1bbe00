// Package contracts holds the data types shared by the changegate engine,
// its stores and its transports. It has no behaviour beyond small helpers.
package contracts

import (
	"strings"
	"time"
)

// ChangeStatus is the lifecycle state of a change request.
type ChangeStatus string

const (
	StatusDraft      ChangeStatus = "draft"
	StatusSubmitted  ChangeStatus = "submitted"
	StatusApproved   ChangeStatus = "approved"
	StatusCancelled  ChangeStatus = "cancelled"
	StatusInProgress ChangeStatus = "in-progress"
	StatusCompleted  ChangeStatus = "completed"
	StatusFailed     ChangeStatus = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []ChangeStatus{
	StatusDraft, StatusSubmitted, StatusApproved, StatusCancelled,
	StatusInProgress, StatusCompleted, StatusFailed,
}

// Valid reports whether s is a known status.
func (s ChangeStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Category classifies the kind of change.
type Category string

const (
	CategoryStandard  Category = "standard"
	CategoryNormal    Category = "normal"
	CategoryEmergency Category = "emergency"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryStandard, CategoryNormal, CategoryEmergency:
		return true
	}
	return false
}

// DefaultApproverRoles is used when a change request is created without
// explicit approver roles.
var DefaultApproverRoles = []string{"it"}

// AssessmentAnswer records the option an assessor picked for one question.
// Value is the resolved option value and is filled in by the engine.
type AssessmentAnswer struct {
	QuestionID string `json:"question_id"`
	OptionID   string `json:"option_id,omitempty"`
	Value      *int   `json:"value,omitempty"`
}

// ChangeRequest is a proposal to modify production infrastructure.
type ChangeRequest struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Category           Category  `json:"category"`
	Priority           Priority  `json:"priority"`
	ImplementationPlan string    `json:"implementation_plan"`
	RollbackPlan       string    `json:"rollback_plan"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`

	RiskScore         float64            `json:"risk_score"`
	RiskLevel         RiskLevel          `json:"risk_level"`
	AssessmentAnswers []AssessmentAnswer `json:"assessment_answers,omitempty"`

	Status          ChangeStatus `json:"status"`
	CreatedBy       string       `json:"created_by"`
	AssignedTo      *string      `json:"assigned_to,omitempty"`
	ApprovedBy      *string      `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time   `json:"approved_at,omitempty"`
	RejectionReason *string      `json:"rejection_reason,omitempty"`
	ClosureReason   *string      `json:"closure_reason,omitempty"`
	ClosureNotes    *string      `json:"closure_notes,omitempty"`
	ApproverRoles   []string     `json:"approver_roles"`

	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Audit     []AuditEntry `json:"audit"`

	// Version is bumped on every persisted write and used for optimistic
	// concurrency checks.
	Version int64 `json:"version"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (cr *ChangeRequest) Clone() *ChangeRequest {
	if cr == nil {
		return nil
	}
	out := *cr
	out.AssignedTo = cloneString(cr.AssignedTo)
	out.ApprovedBy = cloneString(cr.ApprovedBy)
	out.RejectionReason = cloneString(cr.RejectionReason)
	out.ClosureReason = cloneString(cr.ClosureReason)
	out.ClosureNotes = cloneString(cr.ClosureNotes)
	if cr.ApprovedAt != nil {
		t := *cr.ApprovedAt
		out.ApprovedAt = &t
	}
	if cr.AssessmentAnswers != nil {
		out.AssessmentAnswers = make([]AssessmentAnswer, len(cr.AssessmentAnswers))
		for i, a := range cr.AssessmentAnswers {
			if a.Value != nil {
				v := *a.Value
				a.Value = &v
			}
			out.AssessmentAnswers[i] = a
		}
	}
	out.ApproverRoles = append([]string(nil), cr.ApproverRoles...)
	out.Audit = append([]AuditEntry(nil), cr.Audit...)
	return &out
}

// HasApproverRole reports whether role is one of the record's approver roles.
// Comparison is case-insensitive.
func (cr *ChangeRequest) HasApproverRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range cr.ApproverRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a small helper for optional string fields.
func StringPtr(s string) *string { return &s }
