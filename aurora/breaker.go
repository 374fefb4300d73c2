package aurora

import (
	"sync"
	"time"

	"github.com/operandhq/operand/core"
)

// BreakerState is the circuit breaker's state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig parameterizes one breaker. Destructive categories get a
// tighter window and a lower failure threshold.
type BreakerConfig struct {
	FailureThreshold int           // failures within Window that open the circuit
	Window           time.Duration // failure counting window
	Cooldown         time.Duration // initial open duration
	MaxCooldown      time.Duration // cooldown doubling cap
}

// DefaultBreakerConfig returns the baseline parameters.
func DefaultBreakerConfig(cooldown time.Duration) BreakerConfig {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         cooldown,
		MaxCooldown:      8 * cooldown,
	}
}

// breakerConfigFor tightens parameters for categories that mutate the host.
func breakerConfigFor(category core.SkillCategory, base BreakerConfig) BreakerConfig {
	switch category {
	case core.CategoryExec, core.CategoryFile, core.CategoryAutoPC:
		cfg := base
		cfg.FailureThreshold = 3
		cfg.Window = 30 * time.Second
		return cfg
	default:
		return base
	}
}

// Breaker is one circuit: closed -> open -> half_open. Exactly one probe is
// admitted in half_open; its outcome decides the next state. Every failure
// while open doubles the cooldown up to the cap.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    BreakerState
	failures []time.Time
	openedAt time.Time
	cooldown time.Duration
	probing  bool
}

func newBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed, cooldown: cfg.Cooldown}
}

// Allow reports whether a request may pass right now. In half_open only the
// first caller gets the probe; everyone else is denied until it resolves.
func (b *Breaker) Allow(nowTime time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if nowTime.Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.probing = false
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit from half_open and resets the cooldown;
// in closed it trims the failure window.
func (b *Breaker) RecordSuccess(nowTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = nil
		b.cooldown = b.cfg.Cooldown
		b.probing = false
	case StateClosed:
		b.trim(nowTime)
	}
}

// RecordFailure counts a failure. A half_open probe failure reopens with a
// doubled cooldown; in closed, crossing the windowed threshold opens.
func (b *Breaker) RecordFailure(nowTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.cooldown *= 2
		if b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
		b.state = StateOpen
		b.openedAt = nowTime
		b.probing = false
	case StateClosed:
		b.failures = append(b.failures, nowTime)
		b.trim(nowTime)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = nowTime
			b.failures = nil
		}
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) trim(nowTime time.Time) {
	cutoff := nowTime.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// BreakerSet holds one breaker per (category, target) pair.
type BreakerSet struct {
	mu       sync.Mutex
	base     BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty set using the given base config.
func NewBreakerSet(base BreakerConfig) *BreakerSet {
	return &BreakerSet{base: base, breakers: make(map[string]*Breaker)}
}

// Get returns (creating on first use) the breaker for the pair.
func (s *BreakerSet) Get(category core.SkillCategory, target string) *Breaker {
	key := string(category) + "|" + target
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = newBreaker(breakerConfigFor(category, s.base))
		s.breakers[key] = b
	}
	return b
}

// States snapshots every breaker for the status endpoint.
func (s *BreakerSet) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.breakers))
	for key, b := range s.breakers {
		out[key] = b.State().String()
	}
	return out
}
