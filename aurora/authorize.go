// Package aurora is the safety supervisor: it authorizes plans before they
// run, watches live metrics while they run, and protects the host by
// throttling, pausing, or cutting executions. Aurora never executes steps;
// it only decides and signals.
package aurora

import (
	"fmt"
	"regexp"

	"github.com/operandhq/operand/core"
)

// Decision is the authorization outcome.
type Decision string

const (
	DecisionAllowed              Decision = "allowed"
	DecisionRequiresConfirmation Decision = "requires_confirmation"
	DecisionBlocked              Decision = "blocked"
)

// Level is the color band a risk score lands in.
type Level string

const (
	LevelGreen  Level = "green"
	LevelYellow Level = "yellow"
	LevelOrange Level = "orange"
	LevelRed    Level = "red"
)

// AuthorizationRequest is the operator's submission to Aurora.
type AuthorizationRequest struct {
	ExecutionID       string                 `json:"execution_id"`
	Origin            core.Origin            `json:"origin"`
	Plan              core.Plan              `json:"plan"`
	Resources         core.DeclaredResources `json:"declared_resources"`
	RiskLevel         core.RiskLevel         `json:"risk_level"`
	PermissionsNeeded []string               `json:"permissions_needed,omitempty"`
	Limits            core.PlanLimits        `json:"limits"`
	Mode              core.ExecutionMode     `json:"mode"`
	UserID            string                 `json:"user_id,omitempty"`
	Context           map[string]interface{} `json:"context,omitempty"`
}

// AuthorizationResponse is Aurora's verdict.
type AuthorizationResponse struct {
	Decision             Decision         `json:"decision"`
	Level                Level            `json:"level"`
	ImposedLimits        *core.PlanLimits `json:"imposed_limits,omitempty"`
	Rules                []string         `json:"rules,omitempty"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
	Message              string           `json:"message"`
	Reason               string           `json:"reason"`
	RiskScore            int              `json:"risk_score"`
}

// Named deterministic rules referenced in responses and in the log.
const (
	RuleDestructivePrimitive = "destructive_primitive"
	RuleFileCount            = "file_count_over_limit"
	RuleCredentialOutput     = "credential_in_output_path"
	RuleProductionGuard      = "production_without_real_flag"
)

var (
	destructiveInput = []*regexp.Regexp{
		regexp.MustCompile(`rm\s+-[a-z]*r[a-z]*f?\s+/(\s|$)`),
		regexp.MustCompile(`rm\s+-[a-z]*f[a-z]*r\s+/(\s|$)`),
		regexp.MustCompile(`(?i)drop\s+(schema|database|table)`),
		regexp.MustCompile(`(?i)truncate\s+table`),
		regexp.MustCompile(`mkfs|dd\s+if=`),
	}
	credentialLooking = regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|token|credential|private[_-]?key|id_rsa|\.env)`)
)

// riskScore maps the plan's classified risk onto the 0..100 scale and adds
// modifiers for sensitive permissions.
func riskScore(req AuthorizationRequest) int {
	score := 10
	switch req.RiskLevel {
	case core.RiskMedium:
		score = 40
	case core.RiskHigh:
		score = 70
	case core.RiskCritical:
		score = 90
	}
	for _, perm := range req.PermissionsNeeded {
		if perm == "host:exec" {
			score += 10
		}
	}
	if len(req.Resources.Files) > 50 {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

// levelFor applies the score band table.
func levelFor(score int) Level {
	switch {
	case score < 30:
		return LevelGreen
	case score < 60:
		return LevelYellow
	case score < 80:
		return LevelOrange
	default:
		return LevelRed
	}
}

func decisionFor(level Level) Decision {
	switch level {
	case LevelGreen, LevelYellow:
		return DecisionAllowed
	case LevelOrange:
		return DecisionRequiresConfirmation
	default:
		return DecisionBlocked
	}
}

// Authorize computes the pre-gate verdict. Deterministic rules only ever
// upgrade the decision, never relax it.
func (m *Monitor) Authorize(req AuthorizationRequest) AuthorizationResponse {
	score := riskScore(req)
	level := levelFor(score)
	decision := decisionFor(level)
	var rules []string
	reason := fmt.Sprintf("risk_score=%d level=%s", score, level)

	text := planText(req.Plan)

	confirmed, _ := req.Context["confirmed"].(bool)

	for _, pattern := range destructiveInput {
		if pattern.MatchString(text) {
			rules = append(rules, RuleDestructivePrimitive)
			score = max(score, 95)
			level = LevelRed
			if confirmed {
				decision = DecisionRequiresConfirmation
				reason = "destructive primitive; explicit confirmation required"
			} else {
				decision = DecisionBlocked
				reason = "destructive primitive detected"
			}
			break
		}
	}

	if filesChanged(req) > 200 && decision == DecisionAllowed {
		rules = append(rules, RuleFileCount)
		decision = DecisionRequiresConfirmation
		level = upgradeLevel(level, LevelOrange)
		reason = "more than 200 files would change"
	}

	if credentialLooking.MatchString(outputPaths(req.Plan)) {
		rules = append(rules, RuleCredentialOutput)
		decision = DecisionBlocked
		level = LevelRed
		score = max(score, 90)
		reason = "credential-looking content in output path"
	}

	if env, _ := req.Context["environment"].(string); env == "production" {
		prodFlag, _ := req.Context["production"].(bool)
		if req.Mode != core.ModeReal || !prodFlag {
			rules = append(rules, RuleProductionGuard)
			decision = DecisionBlocked
			level = LevelRed
			score = max(score, 85)
			reason = "production target requires mode=real and the production flag"
		}
	}

	resp := AuthorizationResponse{
		Decision:             decision,
		Level:                level,
		Rules:                rules,
		RequiresConfirmation: decision == DecisionRequiresConfirmation,
		Message:              humanMessage(decision, level, rules),
		Reason:               reason,
		RiskScore:            score,
	}
	if level == LevelYellow || level == LevelOrange {
		// Tighter limits ride along with elevated risk.
		imposed := req.Limits
		if imposed.MaxRetries > 1 {
			imposed.MaxRetries = 1
		}
		resp.ImposedLimits = &imposed
	}

	m.logger.Info("Authorization decision", map[string]interface{}{
		"execution_id": req.ExecutionID,
		"decision":     resp.Decision,
		"level":        resp.Level,
		"risk_score":   resp.RiskScore,
		"rules":        resp.Rules,
	})

	if resp.Decision == DecisionBlocked {
		m.bus.PublishAurora(core.AuroraEvent{
			Type:        core.AuroraAlert,
			ExecutionID: req.ExecutionID,
			Reason:      resp.Reason,
			Payload:     map[string]interface{}{"rules": rules, "risk_score": score},
			Timestamp:   now(),
		})
	}
	return resp
}

func humanMessage(decision Decision, level Level, rules []string) string {
	switch decision {
	case DecisionAllowed:
		if level == LevelYellow {
			return "Approved with monitoring alerts enabled."
		}
		return "Approved."
	case DecisionRequiresConfirmation:
		return "This action needs your confirmation before it can run."
	default:
		if len(rules) > 0 {
			return "Blocked by safety rule: " + rules[0]
		}
		return "Blocked: the risk of this action is too high."
	}
}

func planText(plan core.Plan) string {
	text := ""
	for _, step := range plan.Steps {
		text += step.Description + " "
		for k, v := range step.Params {
			if s, ok := v.(string); ok {
				text += k + "=" + s + " "
			}
		}
	}
	return text
}

func outputPaths(plan core.Plan) string {
	text := ""
	for _, step := range plan.Steps {
		for _, f := range step.Resources.Files {
			text += f + " "
		}
	}
	return text
}

// filesChanged counts distinct declared files. Callers pre-merge step
// resources into the request, so the count dedupes rather than sums.
func filesChanged(req AuthorizationRequest) int {
	seen := make(map[string]struct{}, len(req.Resources.Files))
	for _, f := range req.Resources.Files {
		seen[f] = struct{}{}
	}
	for _, step := range req.Plan.Steps {
		for _, f := range step.Resources.Files {
			seen[f] = struct{}{}
		}
	}
	return len(seen)
}

func upgradeLevel(current, floor Level) Level {
	order := map[Level]int{LevelGreen: 0, LevelYellow: 1, LevelOrange: 2, LevelRed: 3}
	if order[floor] > order[current] {
		return floor
	}
	return current
}
