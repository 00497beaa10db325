// Package policy decides which tenant may access a workspace and its run logs.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Input is the document the policy evaluates.
type Input struct {
	TenantID string   `json:"tenant_id"`
	Run      RunFacts `json:"run"`
	Action   string   `json:"action"`
}

// RunFacts describes the run being accessed.
type RunFacts struct {
	RunID       string `json:"run_id"`
	WorkspaceID string `json:"workspace_id"`
	TenantID    string `json:"tenant_id"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.workspace_access.decision"),
		rego.Module("workspace_access.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the policy decision for input. Anything other than an
// explicit allow is a deny.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return DecisionDeny, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionDeny, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok && s == DecisionAllow {
		return DecisionAllow, nil
	}
	return DecisionDeny, nil
}

// Allowed is Evaluate reduced to a boolean. Evaluation errors deny.
func (e *Engine) Allowed(ctx context.Context, input Input) bool {
	d, err := e.Evaluate(ctx, input)
	return err == nil && d == DecisionAllow
}

// DefaultPolicy lets a tenant read the runs of its own workspaces only.
const DefaultPolicy = `
package workspace_access

import rego.v1

default decision := "deny"

decision := "allow" if {
	input.tenant_id != ""
	input.tenant_id == input.run.tenant_id
}
`
