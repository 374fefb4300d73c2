// Command operand runs the agentic platform: REST+WebSocket gateway,
// intent router, planner, Aurora safety supervisor, executor, hub
// runtime, and the persistent session store, all wired over one
// in-process event bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/operandhq/operand/aurora"
	"github.com/operandhq/operand/core"
	"github.com/operandhq/operand/executor"
	"github.com/operandhq/operand/gateway"
	"github.com/operandhq/operand/hub"
	"github.com/operandhq/operand/planner"
	"github.com/operandhq/operand/router"
	"github.com/operandhq/operand/session"
	"github.com/operandhq/operand/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "operand:", err)
		os.Exit(1)
	}
}

func run() error {
	// A local .env is optional; the environment always wins.
	_ = godotenv.Load()

	cfg, err := core.NewConfig()
	if err != nil {
		return err
	}
	logger := core.NewProductionLogger(cfg.LogLevel)

	tel, err := telemetry.Init(telemetry.Config{
		ServiceName: cfg.Name,
		Version:     cfg.Version,
		Enabled:     cfg.Development,
		PrettyPrint: cfg.Development,
	})
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	bus := core.NewEventBus()
	defer bus.Close()

	var index session.Index
	if cfg.RedisURL != "" {
		ri, err := session.NewRedisIndex(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("Redis index unavailable, using in-memory index", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			index = ri
		}
	}
	store, err := session.NewStore(cfg.RunDir, index, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	recovered, err := store.Recover()
	if err != nil {
		return err
	}
	if len(recovered) > 0 {
		logger.Info("Recovered interrupted executions", map[string]interface{}{
			"count": len(recovered),
		})
	}

	registry := core.NewSkillRegistry(cfg.SafetyProfile, logger)
	if err := registerBuiltinSkills(registry); err != nil {
		return err
	}

	hubs := hub.NewRuntime(logger)
	if err := hub.LoadBuiltin(hubs); err != nil {
		return err
	}

	monitor := aurora.New(cfg, bus, logger, nil)
	monitor.UseTelemetry(tel)
	exec := executor.New(cfg, registry, store, bus, monitor, hubs, logger)
	exec.UseTelemetry(tel)

	srv := gateway.New(cfg, logger, bus, registry,
		router.New(logger), planner.New(registry, cfg, logger),
		monitor, exec, store, hubs)
	srv.UseTelemetry(tel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeSub := bus.Subscribe(core.TopicExecutions, core.TopicAurora)
	go store.Run(ctx, storeSub)
	go monitor.Run(ctx)

	logger.Info("Starting operand", map[string]interface{}{
		"version":        cfg.Version,
		"port":           cfg.Port,
		"safety_profile": string(cfg.SafetyProfile),
		"run_dir":        cfg.RunDir,
	})
	return srv.Start(ctx)
}
