package aurora

import (
	"context"
	"sync"
	"time"

	"github.com/operandhq/operand/core"
)

// StepAction is the per-step gate verdict.
type StepAction string

const (
	StepProceed             StepAction = "proceed"
	StepDeny                StepAction = "deny"
	StepThrottle            StepAction = "throttle"
	StepRequireConfirmation StepAction = "require_confirmation"
)

// StepDecision is what the executor receives before each dispatch. Cut
// marks denials caused by a live CUT, which trigger recovery instead of a
// plain step failure.
type StepDecision struct {
	Action       StepAction    `json:"action"`
	Delay        time.Duration `json:"-"`
	RetryAfterMS int64         `json:"retry_after_ms,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Cut          bool          `json:"cut,omitempty"`
}

func proceed() StepDecision { return StepDecision{Action: StepProceed} }

func deny(reason string) StepDecision {
	return StepDecision{Action: StepDeny, Reason: reason}
}

func throttle(d time.Duration, reason string) StepDecision {
	return StepDecision{Action: StepThrottle, Delay: d, RetryAfterMS: d.Milliseconds(), Reason: reason}
}

// executionState is the monitor's live view of one execution.
type executionState struct {
	origin    core.Origin
	mode      core.ExecutionMode
	paused    bool
	cut       bool
	cutReason string
	errors    []time.Time
	successes int
	failures  int
	stepStart time.Time
	stepEst   int64
	stepID    string
}

// Monitor is the safety supervisor. All state transitions are decided
// under one lock so they form a total order; collectors run on their own
// goroutine and hand each tick to the evaluator.
type Monitor struct {
	mu         sync.Mutex
	logger     core.Logger
	tel        core.Telemetry
	bus        *core.EventBus
	breakers   *BreakerSet
	limiter    *RateLimiter
	loops      *LoopDetector
	collectors *Collectors

	executions     map[string]*executionState
	safeMode       bool
	safeModeSource string
	blockWrites    bool
	throttled      bool
	throttleDur    time.Duration
}

// New creates the monitor. A nil sampler uses the in-runtime default.
func New(cfg *core.Config, bus *core.EventBus, logger core.Logger, sampler Sampler) *Monitor {
	m := &Monitor{
		logger:     core.ScopedLogger(logger, "aurora"),
		tel:        &core.NoOpTelemetry{},
		bus:        bus,
		breakers:   NewBreakerSet(DefaultBreakerConfig(cfg.CutCooldown)),
		limiter:    NewRateLimiter(),
		loops:      NewLoopDetector(),
		executions: make(map[string]*executionState),
	}
	m.collectors = NewCollectors(sampler, time.Second, logger)
	m.collectors.onTick = m.evaluate
	return m
}

// UseTelemetry installs a telemetry provider. Call before Run.
func (m *Monitor) UseTelemetry(t core.Telemetry) {
	if t != nil {
		m.tel = t
	}
}

// Run drives the collector loop until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	m.collectors.Run(ctx)
}

// Ingest feeds one process sample through the evaluator. Tests and host
// agents use this instead of the sampling loop.
func (m *Monitor) Ingest(s ProcessSample) {
	m.collectors.Ingest(s)
}

func now() time.Time { return time.Now().UTC() }

// Track registers an execution with the live gate.
func (m *Monitor) Track(executionID string, origin core.Origin, mode core.ExecutionMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[executionID] = &executionState{origin: origin, mode: mode}
}

// Finish drops all live state for an execution. Safe mode raised by this
// execution lifts with it; the error window that justified it is gone.
func (m *Monitor) Finish(executionID string) {
	m.mu.Lock()
	delete(m.executions, executionID)
	if m.safeMode && m.safeModeSource == executionID {
		m.safeMode = false
		m.safeModeSource = ""
	}
	m.mu.Unlock()
	m.loops.Forget(executionID)
}

// Resume lifts a pause after human confirmation.
func (m *Monitor) Resume(executionID string) {
	m.mu.Lock()
	if st, ok := m.executions[executionID]; ok {
		st.paused = false
	}
	m.mu.Unlock()
	m.bus.PublishAurora(core.AuroraEvent{
		Type:        core.AuroraResume,
		ExecutionID: executionID,
		Reason:      "confirmed by user",
		Timestamp:   now(),
	})
}

// PreStep is the per-step gate. Checks run cheapest first; the first rule
// that fires decides.
func (m *Monitor) PreStep(executionID string, origin core.Origin, step core.PlanStep, category core.SkillCategory, dangerous bool) StepDecision {
	nowTime := now()

	m.mu.Lock()
	st := m.executions[executionID]
	if st == nil {
		st = &executionState{origin: origin}
		m.executions[executionID] = st
	}
	if st.cut {
		reason := st.cutReason
		m.mu.Unlock()
		d := deny("execution cut: " + reason)
		d.Cut = true
		return d
	}
	if st.paused {
		m.mu.Unlock()
		return StepDecision{Action: StepRequireConfirmation, Reason: "execution paused pending confirmation"}
	}
	if m.safeMode && dangerous {
		m.mu.Unlock()
		return deny("safe mode active, dangerous steps denied")
	}
	if m.blockWrites && len(step.Resources.Files) > 0 {
		m.mu.Unlock()
		return deny("disk pressure, new writes blocked")
	}
	throttled := m.throttled
	throttleDur := m.throttleDur
	st.stepStart = nowTime
	st.stepEst = step.EstimatedDurationMS
	st.stepID = step.StepID
	m.mu.Unlock()

	target := step.Target
	if target == "" {
		target = step.ActionType
	}
	breaker := m.breakers.Get(category, target)
	if !breaker.Allow(nowTime) {
		return deny("circuit open for " + string(category) + "/" + target)
	}

	// Loop detection runs before rate limiting so a runaway caller is cut
	// rather than throttled forever.
	switch m.loops.Observe(executionID, step.ActionType, step.Params, nowTime) {
	case LoopAlert:
		m.bus.PublishAurora(core.AuroraEvent{
			Type:        core.AuroraAlert,
			ExecutionID: executionID,
			Reason:      "same action repeated 10 times",
			Payload:     map[string]interface{}{"action_type": step.ActionType},
			Timestamp:   nowTime,
		})
	case LoopCut:
		m.cutExecution(executionID, "same action repeated 20 times, loop cut", nowTime)
		d := deny("loop detected, execution cut")
		d.Cut = true
		return d
	}

	if ok, wait := m.limiter.Allow(origin, category); !ok {
		return throttle(wait, "rate limit exceeded")
	}

	if throttled {
		return throttle(throttleDur, "system under cpu pressure")
	}
	return proceed()
}

// PostStep records a step outcome for the breaker, the error-rate window,
// and the running success ratio, then re-evaluates the execution rules.
func (m *Monitor) PostStep(executionID string, step core.PlanStep, category core.SkillCategory, success bool) {
	nowTime := now()

	target := step.Target
	if target == "" {
		target = step.ActionType
	}
	breaker := m.breakers.Get(category, target)
	if success {
		breaker.RecordSuccess(nowTime)
	} else {
		breaker.RecordFailure(nowTime)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.executions[executionID]
	if st == nil {
		return
	}
	st.stepStart = time.Time{}
	st.stepEst = 0
	if success {
		st.successes++
	} else {
		st.failures++
		st.errors = append(st.errors, nowTime)
	}
	m.evaluateExecutionLocked(executionID, st, nowTime)
}

// evaluate is the centralized threshold evaluator, invoked once per
// collector tick.
func (m *Monitor) evaluate(nowTime time.Time) {
	cpuVerdict := evaluateCPU(m.collectors, nowTime)

	var ramVerdict, diskVerdict verdict
	if latest, ok := m.collectors.latestRAM(); ok {
		ramVerdict = evaluateRAM(latest, m.collectors.ramSince(nowTime.Add(-ramTrendWindow)))
	}
	if latest, ok := m.collectors.latestDisk(); ok {
		diskVerdict = evaluateDisk(latest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch cpuVerdict.action {
	case actionCut:
		m.cutAllLocked(cpuVerdict.reason, nowTime)
	case actionThrottle:
		if !m.throttled {
			m.throttled = true
			m.throttleDur = 500 * time.Millisecond
			m.emitLocked(core.AuroraLimit, "", cpuVerdict.reason, nil, nowTime)
		} else {
			// Pressure persisting across ticks widens the delay.
			m.throttleDur *= 2
			if m.throttleDur > 10*time.Second {
				m.throttleDur = 10 * time.Second
			}
		}
	default:
		if m.throttled {
			m.throttled = false
			m.throttleDur = 0
			m.emitLocked(core.AuroraResume, "", "cpu pressure cleared", nil, nowTime)
		}
	}

	switch ramVerdict.action {
	case actionCut:
		m.cutAllLocked(ramVerdict.reason, nowTime)
	case actionAlert:
		m.emitLocked(core.AuroraAlert, "", ramVerdict.reason, nil, nowTime)
	}

	switch diskVerdict.action {
	case actionBlockWrites:
		if !m.blockWrites {
			m.blockWrites = true
			m.emitLocked(core.AuroraLimit, "", diskVerdict.reason, nil, nowTime)
		}
	case actionAlert:
		m.emitLocked(core.AuroraAlert, "", diskVerdict.reason, nil, nowTime)
	default:
		m.blockWrites = false
	}

	for id, st := range m.executions {
		if st.cut || st.stepStart.IsZero() {
			continue
		}
		v := evaluateStepDuration(nowTime.Sub(st.stepStart), st.stepEst)
		switch v.action {
		case actionCut:
			m.cutExecutionLocked(id, st, v.reason, nowTime)
		case actionAlert:
			m.emitLocked(core.AuroraAlert, id, v.reason, map[string]interface{}{"step_id": st.stepID}, nowTime)
		}
	}
}

// evaluateExecutionLocked applies the error-rate and success-ratio rules
// for one execution. Caller holds the lock.
func (m *Monitor) evaluateExecutionLocked(executionID string, st *executionState, nowTime time.Time) {
	switch v := evaluateErrorRate(st.errors, nowTime); v.action {
	case actionSafeMode:
		if !m.safeMode {
			m.safeMode = true
			m.safeModeSource = executionID
			m.emitLocked(core.AuroraLimit, executionID, v.reason, nil, nowTime)
		}
	case actionAlert:
		m.emitLocked(core.AuroraAlert, executionID, v.reason, nil, nowTime)
	default:
		// Only the execution whose error burst raised safe mode can lower
		// it; healthy outcomes elsewhere say nothing about that burst.
		if m.safeMode && m.safeModeSource == executionID {
			m.safeMode = false
			m.safeModeSource = ""
		}
	}

	switch v := evaluateSuccessRatio(st.successes, st.failures); v.action {
	case actionPause:
		if !st.paused {
			st.paused = true
			m.emitLocked(core.AuroraPause, executionID, v.reason, nil, nowTime)
		}
	case actionAlert:
		m.emitLocked(core.AuroraAlert, executionID, v.reason, nil, nowTime)
	}
}

func (m *Monitor) cutExecution(executionID, reason string, nowTime time.Time) {
	m.mu.Lock()
	st := m.executions[executionID]
	if st != nil {
		m.cutExecutionLocked(executionID, st, reason, nowTime)
	}
	m.mu.Unlock()
}

func (m *Monitor) cutExecutionLocked(executionID string, st *executionState, reason string, nowTime time.Time) {
	if st.cut {
		return
	}
	st.cut = true
	st.cutReason = reason
	m.emitLocked(core.AuroraCut, executionID, reason, nil, nowTime)
}

func (m *Monitor) cutAllLocked(reason string, nowTime time.Time) {
	for id, st := range m.executions {
		m.cutExecutionLocked(id, st, reason, nowTime)
	}
}

// emitLocked publishes an Aurora event. The bus copies the event out; no
// lock ordering issue arises because the bus never calls back into the
// monitor.
func (m *Monitor) emitLocked(t core.AuroraEventType, executionID, reason string, payload map[string]interface{}, nowTime time.Time) {
	m.tel.RecordMetric("aurora.events", 1, map[string]string{"type": string(t)})
	m.bus.PublishAurora(core.AuroraEvent{
		Type:        t,
		ExecutionID: executionID,
		Reason:      reason,
		Payload:     payload,
		Timestamp:   nowTime,
	})
}

// Status snapshots the monitor for the status endpoint.
func (m *Monitor) Status() map[string]interface{} {
	m.mu.Lock()
	active := len(m.executions)
	safeMode := m.safeMode
	throttled := m.throttled
	blockWrites := m.blockWrites
	m.mu.Unlock()
	return map[string]interface{}{
		"active_executions": active,
		"safe_mode":         safeMode,
		"throttled":         throttled,
		"writes_blocked":    blockWrites,
		"breakers":          m.breakers.States(),
	}
}
