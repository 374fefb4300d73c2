package main

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/operandhq/operand/core"
)

// registerBuiltinSkills installs the platform's stock skills. They are
// deliberately thin stand-ins: the platform's contract is the descriptor
// and the result shape, not what happens inside a skill. Deployments
// replace these with real integrations at startup.
func registerBuiltinSkills(registry *core.SkillRegistry) error {
	skills := []core.Skill{
		core.NewSkill(core.Descriptor{
			Name:        "exec.shell",
			Description: "Run a shell command on the host.",
			Category:    core.CategoryExec,
			Dangerous:   true,
			TimeoutMS:   60_000,
			ParameterSchema: json.RawMessage(`{
				"type": "object",
				"required": ["command"],
				"properties": {"command": {"type": "string", "minLength": 1}}
			}`),
		}, stubRun("exec.shell")),

		core.NewSkill(core.Descriptor{
			Name:        "ai.generate",
			Description: "Generate text from a prompt.",
			Category:    core.CategoryAI,
			TimeoutMS:   120_000,
		}, stubRun("ai.generate")),

		core.NewSkill(core.Descriptor{
			Name:        "file.read",
			Description: "Read a file from the workspace.",
			Category:    core.CategoryFile,
			TimeoutMS:   10_000,
			ParameterSchema: json.RawMessage(`{
				"type": "object",
				"required": ["path"],
				"properties": {"path": {"type": "string", "minLength": 1}}
			}`),
		}, stubRun("file.read")),

		core.NewSkill(core.Descriptor{
			Name:        "file.write",
			Description: "Write a file in the workspace.",
			Category:    core.CategoryFile,
			TimeoutMS:   10_000,
			ParameterSchema: json.RawMessage(`{
				"type": "object",
				"required": ["path"],
				"properties": {
					"path": {"type": "string", "minLength": 1},
					"content": {"type": "string"}
				}
			}`),
		}, stubRun("file.write")),

		core.NewSkill(core.Descriptor{
			Name:        "file.delete",
			Description: "Delete a file from the workspace.",
			Category:    core.CategoryFile,
			Dangerous:   true,
			TimeoutMS:   10_000,
			ParameterSchema: json.RawMessage(`{
				"type": "object",
				"required": ["path"],
				"properties": {"path": {"type": "string", "minLength": 1}}
			}`),
		}, stubRun("file.delete")),

		core.NewSkill(core.Descriptor{
			Name:        "web.fetch",
			Description: "Fetch a URL.",
			Category:    core.CategoryWeb,
			TimeoutMS:   30_000,
		}, stubRun("web.fetch")),

		core.NewSkill(core.Descriptor{
			Name:        "browser.screenshot",
			Description: "Capture a screenshot of a page.",
			Category:    core.CategoryBrowser,
			TimeoutMS:   30_000,
		}, stubRun("browser.screenshot")),

		core.NewSkill(core.Descriptor{
			Name:        "browser.click",
			Description: "Click an element on a page.",
			Category:    core.CategoryBrowser,
			TimeoutMS:   30_000,
		}, stubRun("browser.click")),

		core.NewSkill(core.Descriptor{
			Name:        "comm.notify",
			Description: "Deliver a notification message.",
			Category:    core.CategoryComm,
			TimeoutMS:   15_000,
		}, stubRun("comm.notify")),

		core.NewSkill(core.Descriptor{
			Name:        "util.status",
			Description: "Report process status.",
			Category:    core.CategoryUtil,
			TimeoutMS:   5_000,
		}, runUtilStatus),
	}

	for _, skill := range skills {
		if err := registry.Register(skill); err != nil {
			return err
		}
	}
	return nil
}

// stubRun acknowledges the call and echoes the parameters back.
func stubRun(name string) func(ctx context.Context, params map[string]interface{}) (*core.Result, error) {
	return func(ctx context.Context, params map[string]interface{}) (*core.Result, error) {
		return &core.Result{
			Success: true,
			Data: map[string]interface{}{
				"content": "stub result from " + name,
				"params":  params,
			},
			Metadata: map[string]interface{}{"skill": name, "stub": true},
		}, nil
	}
}

func runUtilStatus(ctx context.Context, params map[string]interface{}) (*core.Result, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	hostname, _ := os.Hostname()
	return &core.Result{
		Success: true,
		Data: map[string]interface{}{
			"hostname":       hostname,
			"goroutines":     runtime.NumGoroutine(),
			"heap_bytes":     mem.HeapInuse,
			"timestamp_unix": time.Now().Unix(),
		},
	}, nil
}
