package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operandhq/operand/core"
)

func newTestRouter() *Router {
	return New(&core.NoOpLogger{})
}

func TestRouteDirectCommand(t *testing.T) {
	r := newTestRouter()
	routed := r.Route("/exec ls -la /tmp")

	assert.Equal(t, "direct_command", routed.Intent)
	assert.Equal(t, 1.0, routed.Confidence)
	assert.Equal(t, "exec.shell", routed.SuggestedSkill)
	assert.Equal(t, "ls -la /tmp", routed.PreparedInput["args"])
}

func TestRouteDirectCommandCaseInsensitiveToken(t *testing.T) {
	r := newTestRouter()
	routed := r.Route("/STATUS")
	assert.Equal(t, "direct_command", routed.Intent)
	assert.Equal(t, "util.status", routed.SuggestedSkill)
}

func TestRouteEmptyInput(t *testing.T) {
	r := newTestRouter()
	for _, input := range []string{"", "   ", "\t\n"} {
		routed := r.Route(input)
		assert.Equal(t, "unknown", routed.Intent, "input %q", input)
		assert.Zero(t, routed.Confidence)
	}
}

func TestRouteQuestionFallback(t *testing.T) {
	r := newTestRouter()
	routed := r.Route("xqzt vvkp qualquer coisa?")

	assert.Equal(t, "ask_ai", routed.Intent)
	assert.Equal(t, 0.5, routed.Confidence)
	assert.Equal(t, "ai.generate", routed.SuggestedSkill)
}

func TestRouteUnknown(t *testing.T) {
	r := newTestRouter()
	routed := r.Route("xqzt vvkp")

	assert.Equal(t, "unknown", routed.Intent)
	assert.Zero(t, routed.Confidence)
	assert.Equal(t, "xqzt vvkp", routed.PreparedInput["text"])
}

func TestRouteContentGeneration(t *testing.T) {
	r := newTestRouter()
	routed := r.Route("Gerar um texto de teste")

	assert.Equal(t, "generate_content", routed.Intent)
	assert.Equal(t, "ai.generate", routed.SuggestedSkill)
	assert.Equal(t, core.CategoryAI, routed.Category)
	assert.Greater(t, routed.Confidence, 0.5)
}

func TestRouteCommandEntityExtraction(t *testing.T) {
	r := newTestRouter()
	routed := r.Route("execute make build agora")

	assert.Equal(t, "run_command", routed.Intent)
	assert.Equal(t, "exec.shell", routed.SuggestedSkill)
	assert.Equal(t, UrgencyHigh, routed.Urgency)
	assert.Equal(t, "make build agora", routed.Entities["command"])
	assert.Equal(t, "make build agora", routed.PreparedInput["command"])
}

func TestRouteURLEntity(t *testing.T) {
	r := newTestRouter()
	routed := r.Route("open https://example.com/docs")

	assert.Equal(t, "browse_web", routed.Intent)
	assert.Equal(t, "web.fetch", routed.SuggestedSkill)
	assert.Equal(t, "https://example.com/docs", routed.Entities["url"])
}

func TestRouteRefinementPicksSubSkill(t *testing.T) {
	r := newTestRouter()
	routed := r.Route("open https://example.com and take a screenshot")

	assert.Equal(t, "browse_web", routed.Intent)
	assert.Equal(t, "browser.screenshot", routed.SuggestedSkill)
}

func TestRouteHubWorkflows(t *testing.T) {
	r := newTestRouter()

	routed := r.Route("criar app de notas com mvp simples")
	assert.Equal(t, "scaffold_app", routed.Intent)
	assert.Equal(t, "enterprise/full", routed.SuggestedSkill)

	routed = r.Route("auditar o schema do banco de dados")
	assert.Equal(t, "database_operation", routed.Intent)
	assert.Equal(t, "supabase/schema-audit", routed.SuggestedSkill)

	routed = r.Route("verificar security do supabase")
	assert.Equal(t, "database_operation", routed.Intent)
	assert.Equal(t, "supabase/security-audit", routed.SuggestedSkill)
}

func TestRouteTieBreakPrefersEarlierRule(t *testing.T) {
	r := newTestRouter()

	// One pattern fires in each of ask_ai and generate_content; equal
	// scores hand the match to the earlier rule.
	routed := r.Route("explique escrevendo")
	assert.Equal(t, "ask_ai", routed.Intent)
	require.NotEmpty(t, routed.Alternatives)
	assert.Equal(t, "generate_content", routed.Alternatives[0].Intent)
	assert.Equal(t, routed.Confidence, routed.Alternatives[0].Confidence)
}

func TestRouteMoreMatchesWin(t *testing.T) {
	r := newTestRouter()

	// generate_content fires twice (escrev + resum), ask_ai once.
	routed := r.Route("explique e escreva um resumo do documento")
	assert.Equal(t, "generate_content", routed.Intent)
	found := false
	for _, alt := range routed.Alternatives {
		if alt.Intent == "ask_ai" {
			found = true
			assert.Less(t, alt.Confidence, routed.Confidence)
		}
	}
	assert.True(t, found, "losing rule should appear in alternatives")
}
