// Package executor drives authorized plans step by step. It owns retries,
// checkpoints, the dangerous-skill pool, and cancellation; every dispatch
// passes through the Aurora per-step gate first. One worker goroutine
// drives one execution, so per-execution events are emitted in order.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/operandhq/operand/aurora"
	"github.com/operandhq/operand/core"
	"github.com/operandhq/operand/session"
)

const (
	backoffBase   = 250 * time.Millisecond
	backoffFactor = 2
	backoffJitter = 0.2
	backoffCap    = 5 * time.Second
)

// Supervisor is Aurora's surface as the executor sees it.
type Supervisor interface {
	Track(executionID string, origin core.Origin, mode core.ExecutionMode)
	Finish(executionID string)
	PreStep(executionID string, origin core.Origin, step core.PlanStep, category core.SkillCategory, dangerous bool) aurora.StepDecision
	PostStep(executionID string, step core.PlanStep, category core.SkillCategory, success bool)
	RecoverFromCut(executionID string, origin core.Origin, hasCheckpoint bool) aurora.Recovery
	Resume(executionID string)
}

// HubRuntime expands hub workflow steps into plan fragments and carries
// dataflow between fragment steps.
type HubRuntime interface {
	Expand(hubID, workflow string, params map[string]interface{}) ([]core.PlanStep, error)
	Bind(executionID string, step core.PlanStep) (map[string]interface{}, error)
	RecordOutput(executionID, stepID string, output map[string]interface{})
	Release(executionID string)
}

// runState is the executor's handle on one in-flight execution.
type runState struct {
	cancel context.CancelFunc
	resume chan struct{}
}

// Executor runs plans. Safe for concurrent use; each Execute call drives
// one execution on the calling goroutine.
type Executor struct {
	cfg      *core.Config
	registry *core.SkillRegistry
	store    *session.Store
	bus      *core.EventBus
	monitor  Supervisor
	hubs     HubRuntime
	logger   core.Logger
	tel      core.Telemetry

	dangerous chan struct{}

	mu         sync.Mutex
	running    map[string]*runState
	restarting map[string]struct{}
}

// New creates an executor. hubs may be nil when no hub runtime is wired;
// hub steps then fail with NotFound.
func New(cfg *core.Config, registry *core.SkillRegistry, store *session.Store, bus *core.EventBus, monitor Supervisor, hubs HubRuntime, logger core.Logger) *Executor {
	return &Executor{
		cfg:        cfg,
		registry:   registry,
		store:      store,
		bus:        bus,
		monitor:    monitor,
		hubs:       hubs,
		logger:     core.ScopedLogger(logger, "executor"),
		tel:        &core.NoOpTelemetry{},
		dangerous:  make(chan struct{}, cfg.MaxConcurrentDangerous),
		running:    make(map[string]*runState),
		restarting: make(map[string]struct{}),
	}
}

// UseTelemetry installs a telemetry provider. Call before Execute.
func (e *Executor) UseTelemetry(t core.Telemetry) {
	if t != nil {
		e.tel = t
	}
}

// Cancel requests cooperative cancellation; it takes effect at the next
// dispatch boundary.
func (e *Executor) Cancel(executionID string) error {
	e.mu.Lock()
	st, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return &core.Error{Op: "executor.Cancel", Kind: core.KindNotFound, ID: executionID, Err: core.ErrExecutionNotFound}
	}
	st.cancel()
	return nil
}

// Resume lifts a confirmation pause. Live executions unpark in place;
// pending records (awaiting pre-gate confirmation) and cut-paused records
// restart from the persisted plan, skipping steps that already succeeded.
func (e *Executor) Resume(executionID string) error {
	e.mu.Lock()
	if st, ok := e.running[executionID]; ok {
		e.mu.Unlock()
		e.monitor.Resume(executionID)
		select {
		case st.resume <- struct{}{}:
		default:
		}
		return nil
	}
	if _, ok := e.restarting[executionID]; ok {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	rec, err := e.store.Get(executionID)
	if err != nil {
		return err
	}
	switch rec.Status {
	case core.ExecutionPending, core.ExecutionPaused:
	default:
		return &core.Error{Op: "executor.Resume", Kind: core.KindConflict, ID: executionID,
			Message: "execution is " + string(rec.Status) + ", nothing to resume"}
	}
	plan, origin, ok := e.store.PlanFor(executionID)
	if !ok {
		return &core.Error{Op: "executor.Resume", Kind: core.KindNotFound, ID: executionID, Err: core.ErrExecutionNotFound}
	}
	plan.Steps = remainingSteps(plan.Steps, rec.StepResults)

	e.mu.Lock()
	e.restarting[executionID] = struct{}{}
	e.mu.Unlock()

	e.monitor.Resume(executionID)
	e.publish(executionID, core.EventExecutionResumed, map[string]interface{}{
		"steps_remaining": len(plan.Steps),
	})
	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.restarting, executionID)
			e.mu.Unlock()
		}()
		if _, err := e.Execute(context.Background(), executionID, plan, origin); err != nil {
			e.logger.Warn("Resumed execution finished with error", map[string]interface{}{
				"execution_id": executionID,
				"error":        err.Error(),
			})
		}
	}()
	return nil
}

// remainingSteps filters out steps whose success is already on the record,
// so a resumed execution does not redo committed work.
func remainingSteps(steps []core.PlanStep, results []core.StepResult) []core.PlanStep {
	done := make(map[string]bool, len(results))
	for _, sr := range results {
		if sr.Status == core.StepSuccess {
			done[sr.StepID] = true
		}
	}
	out := make([]core.PlanStep, 0, len(steps))
	for _, step := range steps {
		if !done[step.StepID] {
			out = append(out, step)
		}
	}
	return out
}

// Execute drives the plan to a terminal state and returns the final
// record. The caller decides whether to run it synchronously or on its
// own goroutine.
func (e *Executor) Execute(ctx context.Context, executionID string, plan core.Plan, origin core.Origin) (core.ExecutionRecord, error) {
	budget := time.Duration(plan.Limits.MaxTimeMS) * time.Millisecond
	if budget <= 0 {
		budget = time.Duration(e.cfg.MaxTimeMS) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	st := &runState{cancel: cancel, resume: make(chan struct{}, 1)}
	e.mu.Lock()
	e.running[executionID] = st
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, executionID)
		e.mu.Unlock()
		if e.hubs != nil {
			e.hubs.Release(executionID)
		}
	}()

	e.monitor.Track(executionID, origin, plan.Mode)
	defer e.monitor.Finish(executionID)

	e.setStatus(executionID, core.ExecutionRunning)
	e.publish(executionID, core.EventExecutionStarted, map[string]interface{}{
		"plan_id": plan.PlanID,
		"mode":    string(plan.Mode),
		"steps":   len(plan.Steps),
	})

	run := &planRun{
		executionID: executionID,
		plan:        plan,
		origin:      origin,
		state:       st,
		deadline:    time.Now().Add(budget),
	}
	err := e.runSteps(runCtx, run, plan.Steps)
	return e.finalize(run, err)
}

// planRun carries the mutable state of one execution drive. Parallel batch
// workers share it, so the cut flag is guarded.
type planRun struct {
	executionID string
	plan        core.Plan
	origin      core.Origin
	state       *runState
	deadline    time.Time

	mu        sync.Mutex
	cut       bool
	cutReason string
}

// markCut records the first cut reason; later cuts keep the original.
func (r *planRun) markCut(reason string) {
	r.mu.Lock()
	if !r.cut {
		r.cut = true
		r.cutReason = reason
	}
	r.mu.Unlock()
}

func (r *planRun) cutState() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cut, r.cutReason
}

// runSteps walks the step list, running consecutive parallel steps as a
// bounded fan-out batch and everything else serially.
func (e *Executor) runSteps(ctx context.Context, run *planRun, steps []core.PlanStep) error {
	for i := 0; i < len(steps); {
		if steps[i].Parallel {
			j := i
			for j < len(steps) && steps[j].Parallel {
				j++
			}
			if err := e.runParallel(ctx, run, steps[i:j]); err != nil {
				return err
			}
			i = j
			continue
		}
		if err := e.runStep(ctx, run, steps[i]); err != nil {
			return err
		}
		i++
	}
	return nil
}

// runParallel fans a batch out over at most cfg.ParallelFanout workers.
// The first hard failure cancels the rest of the batch.
func (e *Executor) runParallel(ctx context.Context, run *planRun, batch []core.PlanStep) error {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, e.cfg.ParallelFanout)
	errCh := make(chan error, len(batch))
	var wg sync.WaitGroup
	for _, step := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(step core.PlanStep) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.runStep(batchCtx, run, step); err != nil {
				errCh <- err
				cancel()
			}
		}(step)
	}
	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// runStep drives one step through the gate, dispatch, retries, and the
// checkpoint commit.
func (e *Executor) runStep(ctx context.Context, run *planRun, step core.PlanStep) error {
	// Hub steps expand into a fragment executed under the same gates.
	if hubID, workflow, ok := splitHubTarget(step.ActionType); ok {
		return e.runHubStep(ctx, run, step, hubID, workflow)
	}

	desc, derr := e.registry.Describe(step.ActionType)
	if derr != nil {
		e.recordStepFailure(run, step, 1, 0, &core.ErrorInfo{Code: "NOT_FOUND", Message: "unknown skill " + step.ActionType})
		return derr
	}

	maxRetries := run.plan.Limits.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}

	start := time.Now()
	attempts := 0
	throttles := 0
	for {
		if err := ctx.Err(); err != nil {
			return e.cancelled(run, err)
		}

		dec := e.monitor.PreStep(run.executionID, run.origin, step, desc.Category, desc.Dangerous)
		switch dec.Action {
		case aurora.StepDeny:
			e.publish(run.executionID, core.EventPreStepDeny, map[string]interface{}{
				"step_id": step.StepID,
				"reason":  dec.Reason,
			})
			if dec.Cut {
				run.markCut(dec.Reason)
				return core.ErrCut
			}
			info := &core.ErrorInfo{Code: core.KindBlocked.APICode(), Message: dec.Reason}
			if step.Optional {
				e.recordStepSkipped(run, step, info)
				return nil
			}
			e.recordStepFailure(run, step, attempts+1, time.Since(start).Milliseconds(), info)
			return &core.Error{Op: "executor.runStep", Kind: core.KindBlocked, ID: step.StepID, Message: dec.Reason, Err: core.ErrBlocked}

		case aurora.StepThrottle:
			throttles++
			if throttles > maxRetries {
				info := &core.ErrorInfo{Code: core.KindBlocked.APICode(), Message: "throttle retries exhausted"}
				e.recordStepFailure(run, step, attempts+1, time.Since(start).Milliseconds(), info)
				return &core.Error{Op: "executor.runStep", Kind: core.KindBlocked, ID: step.StepID, Err: core.ErrRateLimited}
			}
			if err := sleepCtx(ctx, dec.Delay); err != nil {
				return e.cancelled(run, err)
			}
			continue

		case aurora.StepRequireConfirmation:
			if err := e.waitForResume(ctx, run, step, dec.Reason); err != nil {
				return err
			}
			continue
		}

		e.publish(run.executionID, core.EventPreStepAllow, map[string]interface{}{
			"step_id":     step.StepID,
			"action_type": step.ActionType,
		})

		attempts++
		output, runErr := e.dispatch(ctx, run, step, desc)
		success := runErr == nil
		e.monitor.PostStep(run.executionID, step, desc.Category, success)

		if success {
			return e.commitStep(run, step, attempts, time.Since(start), output)
		}

		if e.shouldRetry(step, runErr, attempts, maxRetries) {
			e.publish(run.executionID, core.EventStepRetried, map[string]interface{}{
				"step_id": step.StepID,
				"attempt": attempts,
				"error":   runErr.Error(),
			})
			if err := sleepCtx(ctx, backoffDelay(attempts)); err != nil {
				return e.cancelled(run, err)
			}
			continue
		}

		info := core.ErrorInfoFrom(runErr)
		if step.Optional {
			e.recordStepSkipped(run, step, info)
			return nil
		}
		e.recordStepFailure(run, step, attempts, time.Since(start).Milliseconds(), info)
		e.publish(run.executionID, core.EventStepFailed, map[string]interface{}{
			"step_id":  step.StepID,
			"attempts": attempts,
			"error":    info.Message,
		})
		return runErr
	}
}

// runHubStep expands the workflow and drives the fragment.
func (e *Executor) runHubStep(ctx context.Context, run *planRun, step core.PlanStep, hubID, workflow string) error {
	if e.hubs == nil {
		err := &core.Error{Op: "executor.runHubStep", Kind: core.KindNotFound, ID: hubID, Err: core.ErrHubNotFound}
		e.recordStepFailure(run, step, 1, 0, core.ErrorInfoFrom(err))
		return err
	}
	fragment, err := e.hubs.Expand(hubID, workflow, step.Params)
	if err != nil {
		e.recordStepFailure(run, step, 1, 0, core.ErrorInfoFrom(err))
		return err
	}

	start := time.Now()
	if err := e.runSteps(ctx, run, fragment); err != nil {
		return err
	}
	e.recordStepSuccess(run, step, 1, time.Since(start).Milliseconds(), map[string]interface{}{
		"hub":      hubID,
		"workflow": workflow,
		"steps":    len(fragment),
	})
	return nil
}

// dispatch invokes the skill with a deadline of min(step timeout, plan
// budget remaining). Dry-run mode records the dispatch without running it.
func (e *Executor) dispatch(ctx context.Context, run *planRun, step core.PlanStep, desc core.Descriptor) (map[string]interface{}, error) {
	params := step.Params
	if e.hubs != nil {
		bound, err := e.hubs.Bind(run.executionID, step)
		if err != nil {
			return nil, err
		}
		if bound != nil {
			params = bound
		}
	}

	if err := e.registry.ValidateParams(step.ActionType, params); err != nil {
		return nil, err
	}

	if run.plan.Mode == core.ModeDryRun {
		return map[string]interface{}{
			"dry_run":     true,
			"action_type": step.ActionType,
			"params":      params,
		}, nil
	}

	skill, err := e.registry.Lookup(step.ActionType)
	if err != nil {
		return nil, err
	}

	if desc.Dangerous {
		select {
		case e.dangerous <- struct{}{}:
			defer func() { <-e.dangerous }()
		case <-ctx.Done():
			return nil, &core.Error{Op: "executor.dispatch", Kind: core.KindCancelled, ID: step.StepID, Err: core.ErrCancelled}
		}
	}

	timeout := time.Duration(desc.TimeoutMS) * time.Millisecond
	remaining := time.Until(run.deadline)
	if timeout <= 0 || remaining < timeout {
		timeout = remaining
	}
	if timeout <= 0 {
		return nil, &core.Error{Op: "executor.dispatch", Kind: core.KindTimeout, ID: step.StepID, Err: core.ErrTimeout}
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stepCtx, span := e.tel.StartSpan(stepCtx, "skill.run")
	span.SetAttribute("skill", step.ActionType)
	span.SetAttribute("execution_id", run.executionID)
	defer span.End()

	result, err := skill.Run(stepCtx, params)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &core.Error{Op: "executor.dispatch", Kind: core.KindTimeout, ID: step.StepID, Err: core.ErrTimeout}
		}
		return nil, err
	}
	if result == nil || !result.Success {
		msg := "skill reported failure"
		if result != nil && result.Error != "" {
			msg = result.Error
		}
		return nil, &core.Error{Op: "executor.dispatch", Kind: core.KindTransient, ID: step.StepID, Message: msg}
	}
	return result.Data, nil
}

// commitStep records the result, writes the checkpoint when required, and
// emits the post-step pair. The checkpoint event carries a higher seq than
// the step_success it covers, so log readers see success before its
// checkpoint.
func (e *Executor) commitStep(run *planRun, step core.PlanStep, attempts int, elapsed time.Duration, output map[string]interface{}) error {
	e.recordStepSuccess(run, step, attempts, elapsed.Milliseconds(), output)
	if e.hubs != nil {
		e.hubs.RecordOutput(run.executionID, step.StepID, output)
	}

	e.publish(run.executionID, core.EventStepSuccess, map[string]interface{}{
		"step_id":  step.StepID,
		"attempts": attempts,
	})

	// Checkpoints cover non-idempotent steps and external mutations; a
	// rehearsal run has nothing worth rolling back to.
	if run.plan.Mode != core.ModeDryRun && (!step.Idempotent || !step.Resources.Empty()) {
		blob, _ := json.Marshal(output)
		cp := core.Checkpoint{
			CheckpointID: uuid.New().String(),
			ExecutionID:  run.executionID,
			AfterStepID:  step.StepID,
			StateBlob:    blob,
			CreatedAt:    time.Now().UTC(),
		}
		if err := e.store.SaveCheckpoint(cp); err != nil {
			return err
		}
		e.publish(run.executionID, core.EventCheckpoint, map[string]interface{}{
			"checkpoint_id": cp.CheckpointID,
			"after_step_id": step.StepID,
		})
	}

	e.publish(run.executionID, core.EventPostStep, map[string]interface{}{
		"step_id": step.StepID,
	})
	return nil
}

// waitForResume parks the execution until Resume or cancellation.
func (e *Executor) waitForResume(ctx context.Context, run *planRun, step core.PlanStep, reason string) error {
	if !run.origin.SupportsConfirmation() {
		info := &core.ErrorInfo{Code: core.KindBlocked.APICode(), Message: "confirmation required but origin cannot confirm"}
		e.recordStepFailure(run, step, 1, 0, info)
		return &core.Error{Op: "executor.waitForResume", Kind: core.KindBlocked, ID: step.StepID, Err: core.ErrConfirmationWait}
	}

	e.setStatus(run.executionID, core.ExecutionPaused)
	e.publish(run.executionID, core.EventExecutionPaused, map[string]interface{}{
		"step_id": step.StepID,
		"reason":  reason,
	})
	select {
	case <-run.state.resume:
		e.setStatus(run.executionID, core.ExecutionRunning)
		e.publish(run.executionID, core.EventExecutionResumed, nil)
		return nil
	case <-ctx.Done():
		return e.cancelled(run, ctx.Err())
	}
}

// finalize settles the terminal status, runs cut recovery when needed, and
// writes the completion artifacts.
func (e *Executor) finalize(run *planRun, runErr error) (core.ExecutionRecord, error) {
	wasCut, cutReason := run.cutState()
	switch {
	case runErr == nil:
		completed := time.Now().UTC()
		e.store.Update(run.executionID, func(r *core.ExecutionRecord) {
			r.Status = core.ExecutionCompleted
			r.CompletedAt = &completed
		})
		e.publish(run.executionID, core.EventExecutionCompleted, nil)

	case wasCut || errors.Is(runErr, core.ErrCut):
		_, hasCheckpoint := e.store.LatestCheckpoint(run.executionID)
		rec := e.monitor.RecoverFromCut(run.executionID, run.origin, hasCheckpoint)
		completed := time.Now().UTC()
		e.store.Update(run.executionID, func(r *core.ExecutionRecord) {
			r.Status = rec.FinalStatus
			if rec.FinalStatus == core.ExecutionFailed {
				r.Error = &core.ErrorInfo{Code: core.KindBlocked.APICode(), Message: cutReason}
				r.CompletedAt = &completed
			}
		})
		if rec.FinalStatus == core.ExecutionFailed {
			e.publish(run.executionID, core.EventExecutionFailed, map[string]interface{}{"reason": cutReason})
		} else {
			e.publish(run.executionID, core.EventExecutionPaused, map[string]interface{}{"reason": cutReason})
		}

	case errors.Is(runErr, core.ErrCancelled) || errors.Is(runErr, context.Canceled):
		completed := time.Now().UTC()
		e.store.Update(run.executionID, func(r *core.ExecutionRecord) {
			r.Status = core.ExecutionCancelled
			r.CompletedAt = &completed
		})
		e.publish(run.executionID, core.EventExecutionCancelled, nil)

	default:
		info := core.ErrorInfoFrom(runErr)
		completed := time.Now().UTC()
		e.store.Update(run.executionID, func(r *core.ExecutionRecord) {
			r.Status = core.ExecutionFailed
			r.Error = info
			r.CompletedAt = &completed
		})
		e.publish(run.executionID, core.EventExecutionFailed, map[string]interface{}{
			"code":    info.Code,
			"message": info.Message,
		})
	}

	if err := e.store.WriteReport(run.executionID); err != nil {
		e.logger.Warn("Failed to write report", map[string]interface{}{
			"execution_id": run.executionID,
			"error":        err.Error(),
		})
	}
	rec, err := e.store.Get(run.executionID)
	if err != nil {
		return core.ExecutionRecord{}, err
	}
	return rec, runErr
}

// cancelled rolls to the last checkpoint and surfaces the cancellation.
func (e *Executor) cancelled(run *planRun, cause error) error {
	if cp, ok := e.store.LatestCheckpoint(run.executionID); ok {
		e.publish(run.executionID, core.EventNotification, map[string]interface{}{
			"message":       "rolled back to last checkpoint",
			"checkpoint_id": cp.CheckpointID,
		})
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return &core.Error{Op: "executor.Execute", Kind: core.KindTimeout, ID: run.executionID, Err: core.ErrTimeout}
	}
	return &core.Error{Op: "executor.Execute", Kind: core.KindCancelled, ID: run.executionID, Err: core.ErrCancelled}
}

func (e *Executor) shouldRetry(step core.PlanStep, err error, attempts, maxRetries int) bool {
	if !step.Idempotent || attempts >= maxRetries {
		return false
	}
	return core.IsRetryable(err)
}

func (e *Executor) setStatus(executionID string, status core.ExecutionStatus) {
	e.store.Update(executionID, func(r *core.ExecutionRecord) {
		r.Status = status
	})
}

func (e *Executor) publish(executionID, eventType string, payload map[string]interface{}) {
	e.bus.Publish(core.Event{
		Topic:       core.TopicExecutions,
		Type:        eventType,
		ExecutionID: executionID,
		Payload:     payload,
	})
}

func (e *Executor) recordStepSuccess(run *planRun, step core.PlanStep, attempts int, durationMS int64, output map[string]interface{}) {
	e.store.Update(run.executionID, func(r *core.ExecutionRecord) {
		r.StepResults = append(r.StepResults, core.StepResult{
			StepID:     step.StepID,
			Status:     core.StepSuccess,
			Attempts:   attempts,
			DurationMS: durationMS,
			Output:     output,
		})
	})
	e.tel.RecordMetric("executor.steps", 1, map[string]string{"status": "success"})
}

func (e *Executor) recordStepFailure(run *planRun, step core.PlanStep, attempts int, durationMS int64, info *core.ErrorInfo) {
	e.store.Update(run.executionID, func(r *core.ExecutionRecord) {
		r.StepResults = append(r.StepResults, core.StepResult{
			StepID:     step.StepID,
			Status:     core.StepFailed,
			Attempts:   attempts,
			DurationMS: durationMS,
			Error:      info,
		})
	})
	e.tel.RecordMetric("executor.steps", 1, map[string]string{"status": "failed"})
}

func (e *Executor) recordStepSkipped(run *planRun, step core.PlanStep, info *core.ErrorInfo) {
	e.store.Update(run.executionID, func(r *core.ExecutionRecord) {
		r.StepResults = append(r.StepResults, core.StepResult{
			StepID: step.StepID,
			Status: core.StepSkipped,
			Error:  info,
		})
	})
	e.publish(run.executionID, core.EventStepFailed, map[string]interface{}{
		"step_id": step.StepID,
		"skipped": true,
	})
}

// backoffDelay computes the exponential backoff with jitter for the given
// attempt count (1-based).
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= backoffFactor
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}
	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	d = time.Duration(float64(d) * jitter)
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func splitHubTarget(action string) (hubID, workflow string, ok bool) {
	idx := strings.Index(action, "/")
	if idx <= 0 || idx == len(action)-1 {
		return "", "", false
	}
	return action[:idx], action[idx+1:], true
}
