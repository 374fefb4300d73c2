package aurora

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/operandhq/operand/core"
)

// Sample is one metric observation.
type Sample struct {
	Value float64
	At    time.Time
}

// ring is a bounded ring buffer of samples. Oldest samples are overwritten.
type ring struct {
	buf  []Sample
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]Sample, size)}
}

func (r *ring) push(s Sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// since returns the samples observed after the cutoff, oldest first.
func (r *ring) since(cutoff time.Time) []Sample {
	var out []Sample
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	start := 0
	if r.full {
		start = r.next
	}
	for i := 0; i < n; i++ {
		s := r.buf[(start+i)%len(r.buf)]
		if s.At.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func (r *ring) latest() (Sample, bool) {
	if !r.full && r.next == 0 {
		return Sample{}, false
	}
	idx := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// ProcessSample is one host-level observation.
type ProcessSample struct {
	CPUPercent  float64
	RAMPercent  float64
	DiskPercent float64
	At          time.Time
}

// Sampler produces process samples. The default sampler reads the Go
// runtime's own view; tests and deployments with host agents substitute
// their own.
type Sampler interface {
	Sample() ProcessSample
}

// runtimeSampler reports the process's in-runtime view. CPU and disk are
// not observable from inside the runtime without a host agent, so they
// read as zero; RAM is heap-in-use against the OS-reserved heap.
type runtimeSampler struct{}

func (runtimeSampler) Sample() ProcessSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	ram := 0.0
	if ms.HeapSys > 0 {
		ram = float64(ms.HeapInuse) / float64(ms.HeapSys) * 100
	}
	return ProcessSample{RAMPercent: ram, At: time.Now().UTC()}
}

// Collectors samples process metrics on a fixed period into ring buffers
// and hands each tick to the monitor's centralized evaluator.
type Collectors struct {
	mu      sync.Mutex
	sampler Sampler
	period  time.Duration
	cpu     *ring
	ram     *ring
	disk    *ring
	logger  core.Logger
	onTick  func(time.Time)
}

// NewCollectors creates collectors with the given sampler. A nil sampler
// falls back to the runtime view. The rings hold five minutes at the
// default one-second period.
func NewCollectors(sampler Sampler, period time.Duration, logger core.Logger) *Collectors {
	if sampler == nil {
		sampler = runtimeSampler{}
	}
	if period <= 0 {
		period = time.Second
	}
	size := int((5 * time.Minute) / period)
	if size < 16 {
		size = 16
	}
	return &Collectors{
		sampler: sampler,
		period:  period,
		cpu:     newRing(size),
		ram:     newRing(size),
		disk:    newRing(size),
		logger:  core.ScopedLogger(logger, "aurora.collectors"),
	}
}

// Ingest records one sample. Exposed so tests can feed synthetic load and
// so external agents can push real host metrics.
func (c *Collectors) Ingest(s ProcessSample) {
	c.mu.Lock()
	c.cpu.push(Sample{Value: s.CPUPercent, At: s.At})
	c.ram.push(Sample{Value: s.RAMPercent, At: s.At})
	c.disk.push(Sample{Value: s.DiskPercent, At: s.At})
	onTick := c.onTick
	c.mu.Unlock()
	if onTick != nil {
		onTick(s.At)
	}
}

// Run samples until the context ends.
func (c *Collectors) Run(ctx context.Context) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Ingest(c.sampler.Sample())
		}
	}
}

func (c *Collectors) cpuSince(cutoff time.Time) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cpu.since(cutoff)
}

func (c *Collectors) ramSince(cutoff time.Time) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ram.since(cutoff)
}

func (c *Collectors) latestRAM() (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ram.latest()
}

func (c *Collectors) latestDisk() (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disk.latest()
}
