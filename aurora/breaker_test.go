package aurora

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operandhq/operand/core"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	cfg := DefaultBreakerConfig(time.Second)
	b := newBreaker(cfg)
	start := time.Now()

	for i := 0; i < cfg.FailureThreshold; i++ {
		assert.True(t, b.Allow(start))
		b.RecordFailure(start)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow(start))
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	cfg := DefaultBreakerConfig(time.Second)
	b := newBreaker(cfg)
	start := time.Now()

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure(start)
	}
	require.Equal(t, StateOpen, b.State())

	after := start.Add(cfg.Cooldown)
	assert.True(t, b.Allow(after), "first caller after cooldown gets the probe")
	assert.False(t, b.Allow(after), "second caller is denied while the probe is in flight")
	assert.False(t, b.Allow(after.Add(time.Millisecond)))

	b.RecordSuccess(after)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow(after))
}

func TestBreakerProbeFailureDoublesCooldown(t *testing.T) {
	cfg := DefaultBreakerConfig(time.Second)
	b := newBreaker(cfg)
	start := time.Now()

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure(start)
	}

	probeAt := start.Add(cfg.Cooldown)
	require.True(t, b.Allow(probeAt))
	b.RecordFailure(probeAt)
	require.Equal(t, StateOpen, b.State())

	// The original cooldown no longer suffices.
	assert.False(t, b.Allow(probeAt.Add(cfg.Cooldown)))
	assert.True(t, b.Allow(probeAt.Add(2*cfg.Cooldown)))
}

func TestBreakerCooldownCap(t *testing.T) {
	cfg := DefaultBreakerConfig(time.Second)
	b := newBreaker(cfg)
	at := time.Now()

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure(at)
	}
	// Fail every probe; the cooldown must stop doubling at the cap.
	for i := 0; i < 10; i++ {
		at = at.Add(cfg.MaxCooldown)
		require.True(t, b.Allow(at), "probe %d", i)
		b.RecordFailure(at)
	}
	b.mu.Lock()
	cooldown := b.cooldown
	b.mu.Unlock()
	assert.Equal(t, cfg.MaxCooldown, cooldown)
}

func TestBreakerFailureWindowExpires(t *testing.T) {
	cfg := DefaultBreakerConfig(time.Second)
	b := newBreaker(cfg)
	start := time.Now()

	for i := 0; i < cfg.FailureThreshold-1; i++ {
		b.RecordFailure(start)
	}
	// Old failures age out of the window; one more does not open.
	later := start.Add(cfg.Window + time.Second)
	b.RecordFailure(later)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerSetDistinctPairs(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig(time.Second))
	at := time.Now()

	execShell := set.Get(core.CategoryExec, "exec.shell")
	for i := 0; i < 3; i++ {
		execShell.RecordFailure(at)
	}
	assert.Equal(t, StateOpen, execShell.State(), "exec uses the tighter threshold")
	assert.Equal(t, StateClosed, set.Get(core.CategoryWeb, "web.fetch").State())
	assert.Equal(t, StateClosed, set.Get(core.CategoryExec, "exec.other").State())
}

func TestRateLimiterBurstBoundary(t *testing.T) {
	l := NewRateLimiter()
	spec := categoryLimits[core.CategoryExec]

	for i := 0; i < spec.b; i++ {
		ok, _ := l.Allow(core.OriginAPI, core.CategoryExec)
		require.True(t, ok, "request %d within burst must pass", i)
	}
	ok, wait := l.Allow(core.OriginAPI, core.CategoryExec)
	assert.False(t, ok, "request past the burst is throttled")
	assert.Greater(t, wait, time.Duration(0), "denial carries a retry-after")
}

func TestRateLimiterPairsIndependent(t *testing.T) {
	l := NewRateLimiter()
	spec := categoryLimits[core.CategoryExec]

	for i := 0; i < spec.b; i++ {
		ok, _ := l.Allow(core.OriginAPI, core.CategoryExec)
		require.True(t, ok)
	}
	ok, _ := l.Allow(core.OriginCockpit, core.CategoryExec)
	assert.True(t, ok, "another origin has its own bucket")
	ok, _ = l.Allow(core.OriginAPI, core.CategoryUtil)
	assert.True(t, ok, "another category has its own bucket")
}

func TestLoopDetectorThresholds(t *testing.T) {
	d := NewLoopDetector()
	at := time.Now()
	params := map[string]interface{}{"path": "/tmp/x"}

	for i := 1; i <= 25; i++ {
		v := d.Observe("exec-loop", "file.read", params, at.Add(time.Duration(i)*100*time.Millisecond))
		switch {
		case i == loopAlertCount:
			assert.Equal(t, LoopAlert, v, "alert fires exactly at %d", loopAlertCount)
		case i >= loopCutCount:
			assert.Equal(t, LoopCut, v, "cut at and past %d", loopCutCount)
		default:
			assert.Equal(t, LoopOK, v, "count %d", i)
		}
	}
}

func TestLoopDetectorSignatureIgnoresKeyOrder(t *testing.T) {
	a := loopSignature("exec.shell", map[string]interface{}{"a": 1, "b": "x"})
	b := loopSignature("exec.shell", map[string]interface{}{"b": "x", "a": 1})
	assert.Equal(t, a, b)

	c := loopSignature("exec.shell", map[string]interface{}{"a": 2, "b": "x"})
	assert.NotEqual(t, a, c)
}

func TestLoopDetectorWindowExpiry(t *testing.T) {
	d := NewLoopDetector()
	at := time.Now()
	params := map[string]interface{}{}

	for i := 0; i < loopAlertCount-1; i++ {
		d.Observe("exec-w", "util.status", params, at)
	}
	v := d.Observe("exec-w", "util.status", params, at.Add(loopWindow+time.Second))
	assert.Equal(t, LoopOK, v, "old observations age out")
}
