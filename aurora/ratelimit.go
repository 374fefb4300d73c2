package aurora

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/operandhq/operand/core"
)

// rateLimitSpec is the per-category budget: b tokens of burst refilled at r
// per second. A burst of b admits exactly b immediate calls; the (b+1)th is
// throttled until a token refills.
type rateLimitSpec struct {
	r rate.Limit
	b int
}

// categoryLimits is the default budget table. Host-mutating categories get
// the tightest budgets.
var categoryLimits = map[core.SkillCategory]rateLimitSpec{
	core.CategoryExec:    {r: rate.Limit(0.5), b: 3},
	core.CategoryAutoPC:  {r: rate.Limit(0.5), b: 2},
	core.CategoryFile:    {r: rate.Limit(2), b: 10},
	core.CategoryAI:      {r: rate.Limit(1), b: 5},
	core.CategoryWeb:     {r: rate.Limit(2), b: 10},
	core.CategoryBrowser: {r: rate.Limit(1), b: 5},
	core.CategoryComm:    {r: rate.Limit(1), b: 5},
	core.CategoryUtil:    {r: rate.Limit(5), b: 20},
}

var defaultLimitSpec = rateLimitSpec{r: rate.Limit(1), b: 5}

// RateLimiter keeps one token bucket per (origin, category) pair. Denials
// surface as throttle decisions with a retry-after delay, never as errors.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates an empty limiter set.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*rate.Limiter)}
}

func (l *RateLimiter) bucket(origin core.Origin, category core.SkillCategory) *rate.Limiter {
	key := string(origin) + "|" + string(category)
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		spec, found := categoryLimits[category]
		if !found {
			spec = defaultLimitSpec
		}
		b = rate.NewLimiter(spec.r, spec.b)
		l.buckets[key] = b
	}
	return b
}

// Allow consumes a token if one is available. On denial it returns the
// delay after which the caller should retry.
func (l *RateLimiter) Allow(origin core.Origin, category core.SkillCategory) (bool, time.Duration) {
	b := l.bucket(origin, category)
	res := b.Reserve()
	if !res.OK() {
		return false, time.Second
	}
	delay := res.Delay()
	if delay > 0 {
		// Not admissible right now; hand the token back and report the wait.
		res.Cancel()
		return false, delay
	}
	return true, 0
}
