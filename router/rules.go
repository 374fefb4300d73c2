package router

import (
	"regexp"

	"github.com/operandhq/operand/core"
)

// defaultDirectCommands is the direct-command alphabet. The leading token
// maps straight to a skill; the rest of the line travels as args.
func defaultDirectCommands() map[string]string {
	return map[string]string{
		"/exec":       "exec.shell",
		"/ai":         "ai.generate",
		"/screenshot": "browser.screenshot",
		"/open":       "web.fetch",
		"/notify":     "comm.notify",
		"/status":     "util.status",
	}
}

// defaultRules is the ordered scoring rule set. Order matters: ties hand
// overlapping matches to the earlier rule, so the question rule outranks
// content generation for inputs that fire both.
func defaultRules() []Rule {
	return []Rule{
		{
			Intent:   "ask_ai",
			Category: core.CategoryAI,
			Skill:    "ai.generate",
			Urgency:  UrgencyLow,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)^(what|why|how|who|when|o que|por que|como|quem|quando)\b`),
				regexp.MustCompile(`(?i)\b(explain|explique|pergunt|ask)\b`),
			},
		},
		{
			Intent:   "generate_content",
			Category: core.CategoryAI,
			Skill:    "ai.generate",
			Urgency:  UrgencyLow,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(gerar|gere|generate|escrev|write|draft|redigir|criar um texto)\b`),
				regexp.MustCompile(`(?i)\b(resum|summari|traduz|translate)\b`),
			},
		},
		{
			Intent:   "run_command",
			Category: core.CategoryExec,
			Skill:    "exec.shell",
			Urgency:  UrgencyHigh,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:execute|executar|run|rodar)\s+(?P<command>.+)$`),
				regexp.MustCompile(`(?i)\b(shell|terminal|bash|rm -rf)\b`),
			},
		},
		{
			Intent:   "file_operation",
			Category: core.CategoryFile,
			Skill:    "file.read",
			Urgency:  UrgencyMedium,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(read|leia|save|salve|delete|apague|rename|renomeie)\b.*\b(file|arquivo)\b`),
				regexp.MustCompile(`(?i)\b(file|arquivo)\s+(?P<path>\S+)`),
			},
		},
		{
			Intent:   "browse_web",
			Category: core.CategoryWeb,
			Skill:    "web.fetch",
			Urgency:  UrgencyMedium,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(browse|navegue|abra|open|visit|acesse)\b`),
				regexp.MustCompile(`(?P<url>https?://\S+)`),
				regexp.MustCompile(`(?i)\b(screenshot|captura de tela|click|clique)\b`),
			},
		},
		{
			Intent:   "scaffold_app",
			Category: core.CategoryUtil,
			Skill:    "enterprise/full",
			Urgency:  UrgencyMedium,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(scaffold|criar app|new app|novo app|mvp|aplicativo completo)\b`),
				regexp.MustCompile(`(?i)\b(enterprise|empresa)\b.*\b(app|sistema|pipeline)\b`),
			},
		},
		{
			Intent:   "database_operation",
			Category: core.CategoryUtil,
			Skill:    "supabase/schema-audit",
			Urgency:  UrgencyHigh,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(database|banco de dados|sql|schema|migra|supabase)\b`),
			},
		},
		{
			Intent:   "social_post",
			Category: core.CategoryComm,
			Skill:    "social/content-draft",
			Urgency:  UrgencyLow,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(post|tweet|publique|publish|social)\b`),
			},
		},
		{
			Intent:   "notify",
			Category: core.CategoryComm,
			Skill:    "comm.notify",
			Urgency:  UrgencyMedium,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(send|envie|notify|notifique)\b.*\b(message|mensagem|alert|aviso)\b`),
			},
		},
	}
}

// defaultRefinements picks sub-skills inside a winning category.
func defaultRefinements() []Refinement {
	return []Refinement{
		{Category: core.CategoryWeb, Pattern: regexp.MustCompile(`(?i)\b(screenshot|captura de tela)\b`), Skill: "browser.screenshot"},
		{Category: core.CategoryWeb, Pattern: regexp.MustCompile(`(?i)\b(click|clique)\b`), Skill: "browser.click"},
		{Category: core.CategoryFile, Pattern: regexp.MustCompile(`(?i)\b(save|salve|write|escreva)\b`), Skill: "file.write"},
		{Category: core.CategoryFile, Pattern: regexp.MustCompile(`(?i)\b(delete|apague|remove)\b`), Skill: "file.delete"},
		{Category: core.CategoryUtil, Pattern: regexp.MustCompile(`(?i)\b(security|seguran)\b`), Skill: "supabase/security-audit"},
		{Category: core.CategoryUtil, Pattern: regexp.MustCompile(`(?i)\b(migra)\b`), Skill: "supabase/migration-plan"},
	}
}
