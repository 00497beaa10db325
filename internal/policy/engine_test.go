package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	run := RunFacts{RunID: "r1", WorkspaceID: "w1", TenantID: "acme"}
	cases := []struct {
		name   string
		tenant string
		run    RunFacts
		want   string
	}{
		{"same tenant", "acme", run, DecisionAllow},
		{"other tenant", "globex", run, DecisionDeny},
		{"no tenant", "", run, DecisionDeny},
		{"workspace without tenant", "", RunFacts{RunID: "r1"}, DecisionDeny},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.Evaluate(ctx, Input{TenantID: tc.tenant, Run: tc.run, Action: "read"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want == DecisionAllow, engine.Allowed(ctx, Input{TenantID: tc.tenant, Run: tc.run}))
		})
	}
}

func TestNewEngineRejectsBadPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package workspace_access\ndecision :=")
	assert.Error(t, err)
}
