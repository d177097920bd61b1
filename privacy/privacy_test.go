package privacy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
	"github.com/syssam/tracker/privacy"
	"github.com/syssam/tracker/tracking"
)

func entries(t *testing.T) (added, modified, deleted *tracking.Entry) {
	t.Helper()
	m, err := model.Build(
		model.Type("Note").Fields(
			model.Int64("ID").Key().Generated(),
			model.String("Owner"),
			model.String("Tenant"),
		),
		model.Type("Tag").Fields(model.String("Name").Key()),
	)
	require.NoError(t, err)
	sm := tracking.NewStateManager(m)
	added, err = sm.Add(model.NewBag("Note", map[string]any{"Owner": "7", "Tenant": "acme"}))
	require.NoError(t, err)
	modified, err = sm.Attach(model.NewBag("Note", map[string]any{"ID": int64(1), "Owner": "8", "Tenant": "acme"}))
	require.NoError(t, err)
	require.NoError(t, modified.SetValue("Tenant", "other"))
	deleted, err = sm.Attach(model.NewBag("Tag", map[string]any{"Name": "go"}))
	require.NoError(t, err)
	require.NoError(t, deleted.SetState(tracker.Deleted))
	return added, modified, deleted
}

func TestDecisions(t *testing.T) {
	t.Parallel()
	assert.ErrorIs(t, privacy.Allowf("ok %d", 1), privacy.Allow)
	assert.ErrorIs(t, privacy.Denyf("no"), privacy.Deny)
	assert.ErrorIs(t, privacy.Skipf("skip"), privacy.Skip)
	assert.Equal(t, "no: tracker/privacy: deny rule", privacy.Denyf("no").Error())
}

func TestPolicyEvalSave(t *testing.T) {
	t.Parallel()
	added, _, _ := entries(t)
	ctx := context.Background()
	tests := []struct {
		name   string
		policy privacy.Policy
		want   error
	}{
		{"empty", nil, nil},
		{"allow", privacy.Policy{privacy.AlwaysAllowRule(), privacy.AlwaysDenyRule()}, nil},
		{"deny", privacy.Policy{privacy.AlwaysDenyRule(), privacy.AlwaysAllowRule()}, privacy.Deny},
		{"skip then deny", privacy.Policy{privacy.ContextRule(func(context.Context) error { return nil }), privacy.AlwaysDenyRule()}, privacy.Deny},
		{"custom error", privacy.Policy{privacy.RuleFunc(func(context.Context, *tracking.Entry) error { return errors.New("boom") })}, nil},
	}
	for _, tt := range tests {
		err := tt.policy.EvalSave(ctx, added)
		if tt.name == "custom error" {
			assert.EqualError(t, err, "boom")
			continue
		}
		if tt.want == nil {
			assert.NoError(t, err, tt.name)
		} else {
			assert.ErrorIs(t, err, tt.want, tt.name)
		}
	}
}

func TestDecisionContext(t *testing.T) {
	t.Parallel()
	added, _, _ := entries(t)
	deny := privacy.Policy{privacy.AlwaysDenyRule()}
	ctx := privacy.DecisionContext(context.Background(), privacy.Allow)
	assert.NoError(t, deny.EvalSave(ctx, added))

	ctx = privacy.DecisionContext(context.Background(), privacy.Skip)
	_, ok := privacy.DecisionFromContext(ctx)
	assert.False(t, ok)

	allow := privacy.Policy{privacy.AlwaysAllowRule()}
	ctx = privacy.DecisionContext(context.Background(), privacy.Denyf("maintenance"))
	assert.ErrorIs(t, allow.EvalSave(ctx, added), privacy.Deny)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	added, modified, deleted := entries(t)
	ctx := context.Background()

	policy := privacy.Policy{privacy.OnTypes(privacy.DenyStateRule(tracker.Deleted), "Tag")}
	err := policy.Evaluate(ctx, []*tracking.Entry{added, modified, deleted})
	require.Error(t, err)
	assert.True(t, privacy.IsDenied(err))
	assert.ErrorIs(t, err, privacy.Deny)
	var denied *privacy.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Same(t, deleted, denied.Entry)
	assert.Contains(t, err.Error(), "save of Tag(go) denied")

	assert.NoError(t, policy.Evaluate(ctx, []*tracking.Entry{added, modified}))
	assert.NoError(t, privacy.Policy{privacy.AllowStateRule(tracker.Deleted), privacy.AlwaysDenyRule()}.Evaluate(ctx, []*tracking.Entry{deleted}))
	assert.NoError(t, privacy.Policy(nil).Evaluate(ctx, []*tracking.Entry{deleted}))
}

func TestViewerRules(t *testing.T) {
	t.Parallel()
	added, modified, _ := entries(t)
	owner := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "7", TenantID: "acme"})
	admin := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "1", Roles: []string{"admin"}})

	require.Nil(t, privacy.ViewerFromContext(context.Background()))
	assert.Equal(t, "7", privacy.ViewerFromContext(owner).GetID())

	policy := privacy.Policy{
		privacy.DenyIfNoViewer(),
		privacy.HasAnyRole("admin", "ops"),
		privacy.TenantRule("Tenant"),
		privacy.IsOwner("Owner"),
		privacy.AlwaysDenyRule(),
	}
	assert.ErrorIs(t, policy.EvalSave(context.Background(), added), privacy.Deny)
	assert.NoError(t, policy.EvalSave(owner, added))
	assert.NoError(t, policy.EvalSave(admin, modified))

	err := policy.EvalSave(owner, modified)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant mismatch")
	assert.NoError(t, privacy.Policy{privacy.HasRole("admin")}.EvalSave(admin, modified))
}
