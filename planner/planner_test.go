package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operandhq/operand/core"
	"github.com/operandhq/operand/router"
)

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	logger := &core.NoOpLogger{}
	registry := core.NewSkillRegistry(core.ProfileNormal, logger)
	for _, d := range []core.Descriptor{
		{Name: "ai.generate", Category: core.CategoryAI, TimeoutMS: 120_000},
		{Name: "exec.shell", Category: core.CategoryExec, Dangerous: true, TimeoutMS: 60_000},
		{Name: "file.write", Category: core.CategoryFile, TimeoutMS: 10_000},
		{Name: "web.fetch", Category: core.CategoryWeb, TimeoutMS: 30_000},
	} {
		desc := d
		require.NoError(t, registry.Register(core.NewSkill(desc,
			func(ctx context.Context, params map[string]interface{}) (*core.Result, error) {
				return &core.Result{Success: true}, nil
			})))
	}
	return New(registry, core.DefaultConfig(), logger)
}

func testIntent(raw string) core.Intent {
	return core.Intent{
		IntentID:  "intent-1",
		Origin:    core.OriginAPI,
		RawInput:  raw,
		Timestamp: time.Now().UTC(),
	}
}

func TestBuildPlanSingleSkillStep(t *testing.T) {
	p := newTestPlanner(t)
	routed := router.RoutedIntent{
		Intent:         "generate_content",
		Confidence:     0.7,
		SuggestedSkill: "ai.generate",
		Category:       core.CategoryAI,
		PreparedInput:  map[string]interface{}{"text": "gerar um texto"},
	}

	plan, err := p.BuildPlan(testIntent("gerar um texto"), routed, "")
	require.NoError(t, err)

	assert.NotEmpty(t, plan.PlanID)
	assert.Equal(t, "intent-1", plan.IntentID)
	require.Len(t, plan.Steps, 1)
	step := plan.Steps[0]
	assert.Equal(t, "ai.generate", step.ActionType)
	assert.True(t, step.Idempotent)
	assert.EqualValues(t, 120_000, step.EstimatedDurationMS)
	assert.Equal(t, core.RiskLow, plan.RiskLevel)
	assert.Equal(t, core.ModeReal, plan.Mode)
	assert.EqualValues(t, core.DefaultConfig().MaxTimeMS, plan.Limits.MaxTimeMS)
}

func TestBuildPlanRejectsUnroutable(t *testing.T) {
	p := newTestPlanner(t)
	_, err := p.BuildPlan(testIntent("xqzt"), router.RoutedIntent{Intent: "unknown"}, "")
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestBuildPlanUnknownSkill(t *testing.T) {
	p := newTestPlanner(t)
	routed := router.RoutedIntent{Intent: "notify", Confidence: 0.6, SuggestedSkill: "comm.notify"}
	_, err := p.BuildPlan(testIntent("envie uma mensagem"), routed, "")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestBuildPlanHubWorkflowStep(t *testing.T) {
	p := newTestPlanner(t)
	routed := router.RoutedIntent{
		Intent:         "scaffold_app",
		Confidence:     0.7,
		SuggestedSkill: "enterprise/full",
		Category:       core.CategoryUtil,
		PreparedInput:  map[string]interface{}{"text": "criar app"},
	}

	plan, err := p.BuildPlan(testIntent("criar app"), routed, "")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	step := plan.Steps[0]
	assert.Equal(t, "enterprise/full", step.ActionType)
	assert.Equal(t, "enterprise", step.Target)
	assert.False(t, step.Idempotent)
}

func TestBuildPlanDestructiveInputIsCritical(t *testing.T) {
	p := newTestPlanner(t)
	routed := router.RoutedIntent{
		Intent:         "run_command",
		Confidence:     0.9,
		SuggestedSkill: "exec.shell",
		Category:       core.CategoryExec,
		PreparedInput:  map[string]interface{}{"command": "rm -rf / tudo"},
	}

	plan, err := p.BuildPlan(testIntent("execute rm -rf / tudo"), routed, "")
	require.NoError(t, err)
	assert.Equal(t, core.RiskCritical, plan.RiskLevel)
}

func TestBuildPlanDangerousSkillIsHighRisk(t *testing.T) {
	p := newTestPlanner(t)
	routed := router.RoutedIntent{
		Intent:         "run_command",
		Confidence:     0.8,
		SuggestedSkill: "exec.shell",
		Category:       core.CategoryExec,
		PreparedInput:  map[string]interface{}{"command": "ls"},
	}

	plan, err := p.BuildPlan(testIntent("execute ls"), routed, "")
	require.NoError(t, err)
	assert.Equal(t, core.RiskHigh, plan.RiskLevel)
	assert.Contains(t, plan.PermissionsNeeded, "host:exec")
}

func TestBuildPlanCredentialParamsRaiseRisk(t *testing.T) {
	p := newTestPlanner(t)
	routed := router.RoutedIntent{
		Intent:         "generate_content",
		Confidence:     0.7,
		SuggestedSkill: "ai.generate",
		Category:       core.CategoryAI,
		PreparedInput:  map[string]interface{}{"text": "save my api_key abc123"},
	}

	plan, err := p.BuildPlan(testIntent("save my api_key abc123"), routed, "")
	require.NoError(t, err)
	assert.Equal(t, core.RiskHigh, plan.RiskLevel)
}

func TestBuildPlanResourcesAndPermissions(t *testing.T) {
	p := newTestPlanner(t)
	routed := router.RoutedIntent{
		Intent:         "file_operation",
		Confidence:     0.8,
		SuggestedSkill: "file.write",
		Category:       core.CategoryFile,
		Entities:       map[string]string{"path": "/tmp/out.txt"},
		PreparedInput:  map[string]interface{}{"path": "/tmp/out.txt"},
	}

	plan, err := p.BuildPlan(testIntent("salve o arquivo /tmp/out.txt"), routed, "")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, []string{"/tmp/out.txt"}, plan.Steps[0].Resources.Files)
	assert.Equal(t, core.RiskMedium, plan.RiskLevel)
	assert.Contains(t, plan.PermissionsNeeded, "fs:write")
}

func TestBuildPlanWebCategoryDeclaresNetwork(t *testing.T) {
	p := newTestPlanner(t)
	routed := router.RoutedIntent{
		Intent:         "browse_web",
		Confidence:     0.8,
		SuggestedSkill: "web.fetch",
		Category:       core.CategoryWeb,
		PreparedInput:  map[string]interface{}{"text": "abra o site"},
	}

	plan, err := p.BuildPlan(testIntent("abra o site"), routed, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"network"}, plan.Steps[0].Resources.External)
	assert.Contains(t, plan.PermissionsNeeded, "net:egress")
}

func TestBuildPlanDryRunMode(t *testing.T) {
	p := newTestPlanner(t)
	routed := router.RoutedIntent{
		Intent:         "generate_content",
		Confidence:     0.7,
		SuggestedSkill: "ai.generate",
		PreparedInput:  map[string]interface{}{"text": "gerar"},
	}

	plan, err := p.BuildPlan(testIntent("gerar"), routed, core.ModeDryRun)
	require.NoError(t, err)
	assert.Equal(t, core.ModeDryRun, plan.Mode)
}

// Plan risk is the maximum of its steps' risks.
func TestPlanRiskDominatesStepRisk(t *testing.T) {
	p := newTestPlanner(t)
	for _, tc := range []struct {
		skill string
		input string
	}{
		{"ai.generate", "gerar um texto"},
		{"exec.shell", "execute ls"},
		{"web.fetch", "abra o site"},
	} {
		routed := router.RoutedIntent{
			Intent:         "x",
			Confidence:     0.7,
			SuggestedSkill: tc.skill,
			PreparedInput:  map[string]interface{}{"text": tc.input},
		}
		plan, err := p.BuildPlan(testIntent(tc.input), routed, "")
		require.NoError(t, err)
		for _, step := range plan.Steps {
			assert.Equal(t, plan.RiskLevel, core.MaxRisk(step.Risk, plan.RiskLevel), "skill %s", tc.skill)
		}
	}
}
