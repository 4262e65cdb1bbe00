package lifecycle

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// ApprovalPolicy is a CEL expression that must evaluate to true for an
// approval to go through. It sees two maps:
//
//	actor:  id, role
//	change: id, category, priority, risk_level, risk_score, approver_roles, created_by
//
// Example: `change.risk_level != "high" || actor.role == "change-manager"`.
type ApprovalPolicy struct {
	source string
	prg    cel.Program
}

// NewApprovalPolicy compiles source. Compilation problems are configuration errors.
func NewApprovalPolicy(source string) (*ApprovalPolicy, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("actor", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("change", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: approval policy compilation failed: %v", contracts.ErrConfiguration, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: approval policy program construction failed: %v", contracts.ErrConfiguration, err)
	}
	return &ApprovalPolicy{source: source, prg: prg}, nil
}

// Source returns the policy expression.
func (p *ApprovalPolicy) Source() string { return p.source }

// Check fails closed: evaluation errors and non-true results are Forbidden.
func (p *ApprovalPolicy) Check(cr *contracts.ChangeRequest, actorID, role string) error {
	roles := make([]any, len(cr.ApproverRoles))
	for i, r := range cr.ApproverRoles {
		roles[i] = r
	}
	input := map[string]any{
		"actor": map[string]any{
			"id":   actorID,
			"role": role,
		},
		"change": map[string]any{
			"id":             cr.ID,
			"category":       string(cr.Category),
			"priority":       string(cr.Priority),
			"risk_level":     string(cr.RiskLevel),
			"risk_score":     cr.RiskScore,
			"approver_roles": roles,
			"created_by":     cr.CreatedBy,
		},
	}
	out, _, err := p.prg.Eval(input)
	if err != nil {
		return fmt.Errorf("%w: approval policy evaluation error: %v", contracts.ErrForbidden, err)
	}
	if allowed, ok := out.Value().(bool); !ok || !allowed {
		return fmt.Errorf("%w: approval denied by policy %q", contracts.ErrForbidden, p.source)
	}
	return nil
}
