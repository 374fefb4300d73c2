// Package planner expands a routed intent into an ordered plan of typed
// steps with a declared resource footprint and a computed risk level. For
// plain skill calls the plan is a single step; hub workflows become a
// single step targeting the hub, expanded later inside the hub runtime
// under the same gates.
package planner

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/operandhq/operand/core"
	"github.com/operandhq/operand/router"
)

// destructivePatterns are the primitives that force critical risk no
// matter what the rest of the plan looks like.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-[a-z]*r[a-z]*f?\s+/(\s|$)`),
	regexp.MustCompile(`rm\s+-[a-z]*f[a-z]*r\s+/(\s|$)`),
	regexp.MustCompile(`(?i)drop\s+(schema|database|table)`),
	regexp.MustCompile(`(?i)truncate\s+table`),
	regexp.MustCompile(`mkfs|dd\s+if=`),
}

// credentialPatterns flag values that look like secrets in step params.
var credentialPatterns = regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|token|credential|private[_-]?key|\.env)`)

// Planner builds plans. It consults the registry for skill descriptors but
// never runs anything.
type Planner struct {
	registry *core.SkillRegistry
	defaults core.PlanLimits
	logger   core.Logger
}

// New creates a planner with the configured default limits.
func New(registry *core.SkillRegistry, cfg *core.Config, logger core.Logger) *Planner {
	return &Planner{
		registry: registry,
		defaults: core.PlanLimits{
			MaxTimeMS:       cfg.MaxTimeMS,
			MaxRetries:      cfg.MaxRetries,
			MaxFilesChanged: cfg.MaxFilesChanged,
		},
		logger: core.ScopedLogger(logger, "planner"),
	}
}

// BuildPlan turns a routed intent into a plan. Unroutable input fails with
// Validation; the gateway surfaces that as a 400.
func (p *Planner) BuildPlan(intent core.Intent, routed router.RoutedIntent, mode core.ExecutionMode) (core.Plan, error) {
	if routed.Intent == "unknown" && routed.Confidence == 0 {
		return core.Plan{}, &core.Error{
			Op:      "planner.BuildPlan",
			Kind:    core.KindValidation,
			Message: "could not derive an actionable intent from input",
		}
	}
	if mode == "" {
		mode = core.ModeReal
	}

	step, err := p.buildStep(intent, routed)
	if err != nil {
		return core.Plan{}, err
	}

	plan := core.Plan{
		PlanID:    uuid.New().String(),
		IntentID:  intent.IntentID,
		Steps:     []core.PlanStep{step},
		RiskLevel: step.Risk,
		Limits:    p.defaults,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}
	plan.PermissionsNeeded = permissionsFor(plan.Steps)

	p.logger.Info("Built plan", map[string]interface{}{
		"plan_id":   plan.PlanID,
		"intent_id": intent.IntentID,
		"steps":     len(plan.Steps),
		"risk":      plan.RiskLevel,
		"mode":      plan.Mode,
	})
	return plan, nil
}

func (p *Planner) buildStep(intent core.Intent, routed router.RoutedIntent) (core.PlanStep, error) {
	action := routed.SuggestedSkill
	if action == "" {
		action = "ai.generate"
	}

	step := core.PlanStep{
		StepID:      uuid.New().String(),
		ActionType:  action,
		Params:      routed.PreparedInput,
		Description: routed.Intent,
		Resources:   resourcesFor(routed),
	}

	if hubID, workflow, ok := splitHubTarget(action); ok {
		// Hub workflow step: expansion happens inside the hub runtime.
		step.Target = hubID
		step.ActionType = hubID + "/" + workflow
		step.Idempotent = false
		step.EstimatedDurationMS = 60_000
		step.Risk = p.scoreStep(step, intent, true)
		return step, nil
	}

	desc, err := p.registry.Describe(action)
	if err != nil {
		// The router suggested a skill the registry does not serve.
		return core.PlanStep{}, &core.Error{
			Op:   "planner.BuildPlan",
			Kind: core.KindNotFound,
			ID:   action,
			Err:  core.ErrSkillNotFound,
		}
	}
	step.Idempotent = isIdempotentCategory(desc.Category)
	step.EstimatedDurationMS = desc.TimeoutMS
	if step.EstimatedDurationMS == 0 {
		step.EstimatedDurationMS = 30_000
	}
	step.Risk = p.scoreStep(step, intent, desc.Dangerous)
	return step, nil
}

// scoreStep applies the resource rule table. Destructive primitives and
// credential-looking params force critical.
func (p *Planner) scoreStep(step core.PlanStep, intent core.Intent, dangerous bool) core.RiskLevel {
	risk := core.RiskLow

	text := intent.RawInput + " " + flattenParams(step.Params)
	for _, pattern := range destructivePatterns {
		if pattern.MatchString(text) {
			return core.RiskCritical
		}
	}
	if credentialPatterns.MatchString(flattenParams(step.Params)) {
		risk = core.MaxRisk(risk, core.RiskHigh)
	}
	if dangerous {
		risk = core.MaxRisk(risk, core.RiskHigh)
	}
	if len(step.Resources.External) > 0 {
		risk = core.MaxRisk(risk, core.RiskMedium)
	}
	if len(step.Resources.Files) > 10 {
		risk = core.MaxRisk(risk, core.RiskHigh)
	} else if len(step.Resources.Files) > 0 {
		risk = core.MaxRisk(risk, core.RiskMedium)
	}
	if len(step.Resources.Repos) > 0 {
		risk = core.MaxRisk(risk, core.RiskMedium)
	}
	return risk
}

func resourcesFor(routed router.RoutedIntent) core.DeclaredResources {
	var res core.DeclaredResources
	if path, ok := routed.Entities["path"]; ok {
		res.Files = append(res.Files, path)
	}
	if url, ok := routed.Entities["url"]; ok {
		res.External = append(res.External, url)
	}
	switch routed.Category {
	case core.CategoryWeb, core.CategoryBrowser, core.CategoryComm:
		if len(res.External) == 0 {
			res.External = append(res.External, "network")
		}
	}
	return res
}

func permissionsFor(steps []core.PlanStep) []string {
	seen := map[string]bool{}
	var perms []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			perms = append(perms, p)
		}
	}
	for _, step := range steps {
		if len(step.Resources.Files) > 0 {
			add("fs:write")
		}
		if len(step.Resources.External) > 0 {
			add("net:egress")
		}
		if len(step.Resources.Repos) > 0 {
			add("repo:write")
		}
		if strings.HasPrefix(step.ActionType, "exec.") {
			add("host:exec")
		}
	}
	return perms
}

// splitHubTarget recognizes "hub/workflow" action types.
func splitHubTarget(action string) (hubID, workflow string, ok bool) {
	idx := strings.Index(action, "/")
	if idx <= 0 || idx == len(action)-1 {
		return "", "", false
	}
	return action[:idx], action[idx+1:], true
}

func flattenParams(params map[string]interface{}) string {
	var sb strings.Builder
	for k, v := range params {
		sb.WriteString(k)
		sb.WriteString("=")
		if s, ok := v.(string); ok {
			sb.WriteString(s)
		}
		sb.WriteString(" ")
	}
	return sb.String()
}

// isIdempotentCategory marks read-only categories whose steps may be
// retried without side-effect concerns.
func isIdempotentCategory(cat core.SkillCategory) bool {
	switch cat {
	case core.CategoryAI, core.CategoryWeb, core.CategoryUtil:
		return true
	default:
		return false
	}
}
