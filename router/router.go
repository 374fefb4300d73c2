// Package router classifies raw human input into a routed intent: a named
// intent with a confidence score, a suggested skill or hub workflow, and
// any entities extracted from the text. Routing never fails; input that
// matches nothing comes back as intent "unknown" at confidence zero.
package router

import (
	"regexp"
	"strings"

	"github.com/operandhq/operand/core"
)

// Urgency grades how quickly an intent should be acted on.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Alternative is a lower-ranked rule match kept for disambiguation.
type Alternative struct {
	Intent     string  `json:"intent"`
	Skill      string  `json:"skill,omitempty"`
	Confidence float64 `json:"confidence"`
}

// RoutedIntent is the router's output.
type RoutedIntent struct {
	Intent         string                 `json:"intent"`
	Confidence     float64                `json:"confidence"`
	SuggestedSkill string                 `json:"suggested_skill,omitempty"`
	Alternatives   []Alternative          `json:"alternatives,omitempty"`
	Urgency        Urgency                `json:"urgency"`
	Category       core.SkillCategory     `json:"category,omitempty"`
	Entities       map[string]string      `json:"entities,omitempty"`
	PreparedInput  map[string]interface{} `json:"prepared_input,omitempty"`
}

// Rule is one scoring rule. A rule matches when any of its patterns
// matches; named captures in patterns become entities.
type Rule struct {
	Intent   string
	Category core.SkillCategory
	Skill    string
	Urgency  Urgency
	Patterns []*regexp.Regexp
}

// Refinement picks a sub-skill within a winning category.
type Refinement struct {
	Category core.SkillCategory
	Pattern  *regexp.Regexp
	Skill    string
}

// Router holds the direct-command alphabet, the ordered rule set, and the
// refinement table. It is immutable after construction and safe for
// concurrent use.
type Router struct {
	direct      map[string]string
	rules       []Rule
	refinements []Refinement
	logger      core.Logger
}

// New creates a router with the default tables.
func New(logger core.Logger) *Router {
	return &Router{
		direct:      defaultDirectCommands(),
		rules:       defaultRules(),
		refinements: defaultRefinements(),
		logger:      core.ScopedLogger(logger, "router"),
	}
}

// NewWithRules creates a router with custom tables, used by tests and by
// hubs that extend the intent vocabulary.
func NewWithRules(direct map[string]string, rules []Rule, refinements []Refinement, logger core.Logger) *Router {
	return &Router{
		direct:      direct,
		rules:       rules,
		refinements: refinements,
		logger:      core.ScopedLogger(logger, "router"),
	}
}

// Route classifies raw input. It always returns a result.
func (r *Router) Route(rawInput string) RoutedIntent {
	input := strings.TrimSpace(rawInput)
	if input == "" {
		return RoutedIntent{Intent: "unknown", Urgency: UrgencyLow, PreparedInput: map[string]interface{}{}}
	}

	// Direct command fast path: a leading token from the registered
	// alphabet maps straight to a skill at full confidence.
	if routed, ok := r.routeDirect(input); ok {
		return routed
	}

	// Rule scoring: best confidence wins, earlier rule wins ties.
	best, alternatives := r.scoreRules(input)
	if best != nil {
		return r.finish(*best, input, alternatives)
	}

	// Fallback: a trailing question mark reads as a question for the AI.
	if strings.HasSuffix(input, "?") {
		return RoutedIntent{
			Intent:         "ask_ai",
			Confidence:     0.5,
			SuggestedSkill: "ai.generate",
			Urgency:        UrgencyLow,
			Category:       core.CategoryAI,
			PreparedInput:  map[string]interface{}{"prompt": input},
		}
	}
	return RoutedIntent{Intent: "unknown", Urgency: UrgencyLow, PreparedInput: map[string]interface{}{"text": input}}
}

func (r *Router) routeDirect(input string) (RoutedIntent, bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return RoutedIntent{}, false
	}
	skill, ok := r.direct[strings.ToLower(fields[0])]
	if !ok {
		return RoutedIntent{}, false
	}
	args := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
	return RoutedIntent{
		Intent:         "direct_command",
		Confidence:     1.0,
		SuggestedSkill: skill,
		Urgency:        UrgencyMedium,
		PreparedInput:  map[string]interface{}{"args": args},
	}, true
}

type scored struct {
	rule       Rule
	confidence float64
	entities   map[string]string
}

func (r *Router) scoreRules(input string) (*scored, []Alternative) {
	var best *scored
	var alternatives []Alternative

	tokens := len(strings.Fields(input))

	for i := range r.rules {
		rule := r.rules[i]
		matched := 0
		entities := map[string]string{}
		for _, pattern := range rule.Patterns {
			m := pattern.FindStringSubmatch(input)
			if m == nil {
				continue
			}
			matched++
			for gi, name := range pattern.SubexpNames() {
				if name != "" && gi < len(m) && m[gi] != "" {
					entities[name] = m[gi]
				}
			}
		}
		if matched == 0 {
			continue
		}

		confidence := 0.4 + 0.2*float64(matched)
		if tokens <= 5 {
			confidence += 0.1
		}
		if len(entities) > 0 {
			confidence += 0.05
		}
		confidence = clamp(confidence, 0, 1)

		s := scored{rule: rule, confidence: confidence, entities: entities}
		// Strictly-greater keeps the earlier rule on ties.
		if best == nil || s.confidence > best.confidence {
			if best != nil {
				alternatives = append(alternatives, Alternative{
					Intent:     best.rule.Intent,
					Skill:      best.rule.Skill,
					Confidence: best.confidence,
				})
			}
			best = &s
		} else {
			alternatives = append(alternatives, Alternative{
				Intent:     rule.Intent,
				Skill:      rule.Skill,
				Confidence: s.confidence,
			})
		}
	}
	return best, alternatives
}

func (r *Router) finish(s scored, input string, alternatives []Alternative) RoutedIntent {
	skill := s.rule.Skill
	for _, ref := range r.refinements {
		if ref.Category == s.rule.Category && ref.Pattern.MatchString(input) {
			skill = ref.Skill
			break
		}
	}

	prepared := map[string]interface{}{"text": input}
	for name, value := range s.entities {
		prepared[name] = value
	}

	routed := RoutedIntent{
		Intent:         s.rule.Intent,
		Confidence:     s.confidence,
		SuggestedSkill: skill,
		Alternatives:   alternatives,
		Urgency:        s.rule.Urgency,
		Category:       s.rule.Category,
		Entities:       s.entities,
		PreparedInput:  prepared,
	}
	r.logger.Debug("Routed intent", map[string]interface{}{
		"intent":     routed.Intent,
		"confidence": routed.Confidence,
		"skill":      routed.SuggestedSkill,
		"category":   routed.Category,
	})
	return routed
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
