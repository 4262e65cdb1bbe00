package changes

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// CreateInput is the data accepted by Create.
type CreateInput struct {
	Title              string                       `json:"title" validate:"required,max=200"`
	Description        string                       `json:"description" validate:"max=10000"`
	Category           contracts.Category           `json:"category" validate:"omitempty,oneof=standard normal emergency"`
	Priority           string                       `json:"priority"`
	ImplementationPlan string                       `json:"implementation_plan"`
	RollbackPlan       string                       `json:"rollback_plan"`
	StartDate          time.Time                    `json:"start_date"`
	EndDate            time.Time                    `json:"end_date"`
	ApproverRoles      []string                     `json:"approver_roles" validate:"omitempty,dive,required,max=64"`
	AssignedTo         string                       `json:"assigned_to" validate:"max=128"`
	AssessmentAnswers  []contracts.AssessmentAnswer `json:"assessment_answers"`
}

// Normalize trims free text fields.
func (in *CreateInput) Normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = contracts.Category(strings.ToLower(strings.TrimSpace(string(in.Category))))
	in.AssignedTo = strings.TrimSpace(in.AssignedTo)
	in.ApproverRoles = trimRoles(in.ApproverRoles)
}

// UpdateInput is a partial update. Nil fields are left untouched.
// RiskScore and RiskLevel are accepted only so that attempts to set them can
// be rejected explicitly.
type UpdateInput struct {
	Title              *string                 `json:"title" validate:"omitempty,min=1,max=200"`
	Description        *string                 `json:"description" validate:"omitempty,max=10000"`
	Category           *contracts.Category     `json:"category" validate:"omitempty,oneof=standard normal emergency"`
	Priority           *string                 `json:"priority"`
	ImplementationPlan *string                 `json:"implementation_plan"`
	RollbackPlan       *string                 `json:"rollback_plan"`
	StartDate          *time.Time              `json:"start_date"`
	EndDate            *time.Time              `json:"end_date"`
	ApproverRoles      []string                `json:"approver_roles" validate:"omitempty,dive,required,max=64"`
	AssignedTo         *string                 `json:"assigned_to" validate:"omitempty,max=128"`
	Status             *contracts.ChangeStatus `json:"status"`

	// Reason and Notes accompany a status change to cancelled, completed
	// or failed.
	Reason   string `json:"reason"`
	Notes    string `json:"notes"`
	AssignTo string `json:"assign_to"`

	RiskScore *float64             `json:"risk_score"`
	RiskLevel *contracts.RiskLevel `json:"risk_level"`
}

// Normalize trims free text fields.
func (in *UpdateInput) Normalize() {
	trim := func(p *string) {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	trim(in.Title)
	trim(in.Description)
	trim(in.AssignedTo)
	if in.Category != nil {
		c := contracts.Category(strings.ToLower(strings.TrimSpace(string(*in.Category))))
		in.Category = &c
	}
	if in.ApproverRoles != nil {
		in.ApproverRoles = trimRoles(in.ApproverRoles)
	}
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Statuses   []contracts.ChangeStatus
	CreatedBy  string
	AssignedTo string
	// From and To select records whose change window overlaps [From, To].
	From   *time.Time
	To     *time.Time
	Search string
}

// Page is one slice of a filtered, sorted listing.
type Page struct {
	Items      []*contracts.ChangeRequest `json:"items"`
	Total      int                        `json:"total"`
	Page       int                        `json:"page"`
	Limit      int                        `json:"limit"`
	TotalPages int                        `json:"total_pages"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags and reports the first failure as a
// ValidationError carrying the JSON field name.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &contracts.ValidationError{Field: fieldPath(fe), Reason: reasonFor(fe)}
	}
	return fmt.Errorf("%w: %v", contracts.ErrValidation, err)
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	}
	return fmt.Sprintf("failed %q rule", fe.Tag())
}

func checkWindow(start, end time.Time) error {
	if start.IsZero() {
		return &contracts.ValidationError{Field: "start_date", Reason: "is required"}
	}
	if end.IsZero() {
		return &contracts.ValidationError{Field: "end_date", Reason: "is required"}
	}
	if end.Before(start) {
		return &contracts.ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}
	return nil
}

func trimRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, strings.TrimSpace(r))
	}
	return out
}
