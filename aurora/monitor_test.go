package aurora

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operandhq/operand/core"
)

// feedCPU pushes one synthetic sample per second over the span.
func feedCPU(m *Monitor, start time.Time, span time.Duration, cpu float64) {
	for d := time.Duration(0); d <= span; d += time.Second {
		m.Ingest(ProcessSample{CPUPercent: cpu, RAMPercent: 40, At: start.Add(d)})
	}
}

func drainAurora(sub *core.Subscription) []core.Event {
	var out []core.Event
	for {
		select {
		case ev := <-sub.C():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func auroraTypes(events []core.Event) []string {
	var types []string
	for _, ev := range events {
		if t, ok := ev.Payload["type"].(string); ok {
			types = append(types, t)
		}
	}
	return types
}

func TestCPUSaturationThrottlesThenCuts(t *testing.T) {
	m, bus := newTestMonitor(t)
	sub := bus.SubscribeBuffered(1024, core.TopicAurora)
	defer bus.Unsubscribe(sub)

	m.Track("exec-cpu", core.OriginAPI, core.ModeReal)
	start := time.Now()

	// 61 seconds above 80%: throttle starts, no cut yet.
	feedCPU(m, start, 61*time.Second, 95)
	dec := m.PreStep("exec-cpu", core.OriginAPI, core.PlanStep{
		StepID:     "s1",
		ActionType: "util.status",
	}, core.CategoryUtil, false)
	require.Equal(t, StepThrottle, dec.Action)
	assert.Greater(t, dec.RetryAfterMS, int64(0))

	// Carry on to 121 seconds: the cut threshold is crossed.
	feedCPU(m, start.Add(61*time.Second), 60*time.Second, 95)
	dec = m.PreStep("exec-cpu", core.OriginAPI, core.PlanStep{
		StepID:     "s2",
		ActionType: "util.status",
	}, core.CategoryUtil, false)
	assert.Equal(t, StepDeny, dec.Action)

	types := auroraTypes(drainAurora(sub))
	assert.Contains(t, types, string(core.AuroraLimit))
	assert.Contains(t, types, string(core.AuroraCut))
}

func TestThrottleDelayGrowsUnderSustainedPressure(t *testing.T) {
	m, _ := newTestMonitor(t)
	start := time.Now()

	feedCPU(m, start, 61*time.Second, 85)
	m.mu.Lock()
	first := m.throttleDur
	m.mu.Unlock()

	feedCPU(m, start.Add(61*time.Second), 10*time.Second, 85)
	m.mu.Lock()
	second := m.throttleDur
	m.mu.Unlock()

	assert.Greater(t, second, first)
}

func TestRAMCutAndLeakTrend(t *testing.T) {
	m, bus := newTestMonitor(t)
	sub := bus.SubscribeBuffered(1024, core.TopicAurora)
	defer bus.Unsubscribe(sub)

	m.Track("exec-ram", core.OriginAPI, core.ModeReal)
	m.Ingest(ProcessSample{RAMPercent: 96, At: time.Now()})

	types := auroraTypes(drainAurora(sub))
	assert.Contains(t, types, string(core.AuroraCut))

	// Trend rule: +25% over the trend window cuts even below the hard line.
	m2, bus2 := newTestMonitor(t)
	sub2 := bus2.SubscribeBuffered(1024, core.TopicAurora)
	defer bus2.Unsubscribe(sub2)
	m2.Track("exec-leak", core.OriginAPI, core.ModeReal)

	start := time.Now()
	for i := 0; i <= 170; i++ {
		m2.Ingest(ProcessSample{RAMPercent: 50 + float64(i)*0.15, At: start.Add(time.Duration(i) * time.Second)})
	}
	types = auroraTypes(drainAurora(sub2))
	assert.Contains(t, types, string(core.AuroraCut))
}

func TestDiskPressureBlocksNewWrites(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.Track("exec-disk", core.OriginAPI, core.ModeReal)

	m.Ingest(ProcessSample{DiskPercent: 96, At: time.Now()})

	dec := m.PreStep("exec-disk", core.OriginAPI, core.PlanStep{
		StepID:     "s1",
		ActionType: "file.write",
		Resources:  core.DeclaredResources{Files: []string{"out.txt"}},
	}, core.CategoryFile, false)
	assert.Equal(t, StepDeny, dec.Action)

	// Steps without file writes still pass.
	dec = m.PreStep("exec-disk", core.OriginAPI, core.PlanStep{
		StepID:     "s2",
		ActionType: "util.status",
	}, core.CategoryUtil, false)
	assert.Equal(t, StepProceed, dec.Action)
}

func TestStepDurationOverruns(t *testing.T) {
	m, bus := newTestMonitor(t)
	sub := bus.SubscribeBuffered(1024, core.TopicAurora)
	defer bus.Unsubscribe(sub)

	m.Track("exec-slow", core.OriginAPI, core.ModeReal)
	step := core.PlanStep{StepID: "s1", ActionType: "web.fetch", EstimatedDurationMS: 1000}
	require.Equal(t, StepProceed, m.PreStep("exec-slow", core.OriginAPI, step, core.CategoryWeb, false).Action)

	// Rewind the recorded start so the step looks 6x over its estimate.
	m.mu.Lock()
	m.executions["exec-slow"].stepStart = time.Now().Add(-6 * time.Second)
	m.mu.Unlock()

	m.Ingest(ProcessSample{RAMPercent: 40, At: time.Now()})

	types := auroraTypes(drainAurora(sub))
	assert.Contains(t, types, string(core.AuroraCut))

	dec := m.PreStep("exec-slow", core.OriginAPI, step, core.CategoryWeb, false)
	assert.Equal(t, StepDeny, dec.Action)
}

func TestErrorBurstEntersSafeMode(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.Track("exec-err", core.OriginAPI, core.ModeReal)

	step := core.PlanStep{StepID: "s1", ActionType: "web.fetch"}
	for i := 0; i < errorsSafePerMin+1; i++ {
		m.PostStep("exec-err", step, core.CategoryWeb, false)
	}

	dec := m.PreStep("exec-err2", core.OriginAPI, core.PlanStep{
		StepID:     "d1",
		ActionType: "exec.shell",
	}, core.CategoryExec, true)
	assert.Equal(t, StepDeny, dec.Action, "safe mode denies dangerous steps")

	dec = m.PreStep("exec-err3", core.OriginAPI, core.PlanStep{
		StepID:     "u1",
		ActionType: "util.status",
	}, core.CategoryUtil, false)
	assert.Equal(t, StepProceed, dec.Action, "safe mode still admits harmless steps")
}

func TestLowSuccessRatioPauses(t *testing.T) {
	m, bus := newTestMonitor(t)
	sub := bus.SubscribeBuffered(1024, core.TopicAurora)
	defer bus.Unsubscribe(sub)

	m.Track("exec-ratio", core.OriginAPI, core.ModeReal)
	step := core.PlanStep{StepID: "s1", ActionType: "web.fetch"}
	m.PostStep("exec-ratio", step, core.CategoryWeb, true)
	for i := 0; i < 4; i++ {
		m.PostStep("exec-ratio", step, core.CategoryWeb, false)
	}

	types := auroraTypes(drainAurora(sub))
	assert.Contains(t, types, string(core.AuroraPause))

	dec := m.PreStep("exec-ratio", core.OriginAPI, step, core.CategoryWeb, false)
	assert.Equal(t, StepRequireConfirmation, dec.Action)

	m.Resume("exec-ratio")
	// Resume admits the next step again (ratio rules re-evaluate only on
	// the next outcome).
	m.mu.Lock()
	paused := m.executions["exec-ratio"].paused
	m.mu.Unlock()
	assert.False(t, paused)
}

func TestPreStepLoopCut(t *testing.T) {
	m, bus := newTestMonitor(t)
	sub := bus.SubscribeBuffered(1024, core.TopicAurora)
	defer bus.Unsubscribe(sub)

	m.Track("exec-loop", core.OriginAPI, core.ModeReal)
	step := core.PlanStep{StepID: "s1", ActionType: "file.read", Params: map[string]interface{}{"path": "x"}}

	var denied bool
	for i := 1; i <= loopCutCount+1; i++ {
		dec := m.PreStep("exec-loop", core.OriginAPI, step, core.CategoryFile, false)
		if dec.Action == StepDeny {
			denied = true
			assert.GreaterOrEqual(t, i, loopCutCount)
			break
		}
	}
	assert.True(t, denied, "loop must eventually be cut")

	types := auroraTypes(drainAurora(sub))
	assert.Contains(t, types, string(core.AuroraAlert))
	assert.Contains(t, types, string(core.AuroraCut))
}

func TestRecoverFromCut(t *testing.T) {
	m, _ := newTestMonitor(t)

	rec := m.RecoverFromCut("exec-a", core.OriginCockpit, true)
	assert.True(t, rec.RollToCheckpoint)
	assert.True(t, rec.RequestResume)
	assert.Equal(t, core.ExecutionPaused, rec.FinalStatus)

	rec = m.RecoverFromCut("exec-b", core.OriginInternal, false)
	assert.False(t, rec.RollToCheckpoint)
	assert.False(t, rec.RequestResume)
	assert.Equal(t, core.ExecutionFailed, rec.FinalStatus)
}

func TestFinishForgetsExecution(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.Track("exec-f", core.OriginAPI, core.ModeReal)
	m.Finish("exec-f")

	m.mu.Lock()
	_, ok := m.executions["exec-f"]
	m.mu.Unlock()
	assert.False(t, ok)
}

func TestSafeModeSurvivesOtherExecutionsHealth(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.Track("exec-burst", core.OriginAPI, core.ModeReal)
	m.Track("exec-quiet", core.OriginAPI, core.ModeReal)

	step := core.PlanStep{StepID: "s1", ActionType: "web.fetch"}
	for i := 0; i < errorsSafePerMin+1; i++ {
		m.PostStep("exec-burst", step, core.CategoryWeb, false)
	}

	// A healthy outcome on an unrelated execution says nothing about the
	// burst; safe mode must hold.
	m.PostStep("exec-quiet", core.PlanStep{StepID: "q1", ActionType: "util.status"}, core.CategoryUtil, true)

	dangerous := core.PlanStep{StepID: "d1", ActionType: "exec.shell"}
	dec := m.PreStep("exec-quiet", core.OriginAPI, dangerous, core.CategoryExec, true)
	assert.Equal(t, StepDeny, dec.Action, "safe mode holds while the burst execution is live")

	// The burst execution finishing takes its error window with it.
	m.Finish("exec-burst")
	dec = m.PreStep("exec-quiet", core.OriginAPI, dangerous, core.CategoryExec, true)
	assert.Equal(t, StepProceed, dec.Action)
}
