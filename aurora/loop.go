package aurora

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const (
	loopAlertCount = 10
	loopCutCount   = 20
	loopWindow     = 5 * time.Minute
)

// LoopDetector counts identical (action, params) invocations per execution
// inside a sliding window. The 10th identical call raises an alert; the
// 20th cuts the execution.
type LoopDetector struct {
	mu    sync.Mutex
	seen  map[string]map[uint64][]time.Time // execution_id -> signature -> timestamps
}

// LoopVerdict is the detector's escalation signal.
type LoopVerdict int

const (
	LoopOK LoopVerdict = iota
	LoopAlert
	LoopCut
)

// NewLoopDetector creates an empty detector.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{seen: make(map[string]map[uint64][]time.Time)}
}

// Observe records one invocation and returns the verdict for it. Alert and
// Cut fire exactly on their thresholds, not repeatedly past them.
func (d *LoopDetector) Observe(executionID, actionType string, params map[string]interface{}, nowTime time.Time) LoopVerdict {
	sig := loopSignature(actionType, params)

	d.mu.Lock()
	defer d.mu.Unlock()

	byExec, ok := d.seen[executionID]
	if !ok {
		byExec = make(map[uint64][]time.Time)
		d.seen[executionID] = byExec
	}

	cutoff := nowTime.Add(-loopWindow)
	times := byExec[sig]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, nowTime)
	byExec[sig] = kept

	switch len(kept) {
	case loopCutCount:
		return LoopCut
	case loopAlertCount:
		return LoopAlert
	default:
		if len(kept) > loopCutCount {
			return LoopCut
		}
		return LoopOK
	}
}

// Forget drops all state for a finished execution.
func (d *LoopDetector) Forget(executionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, executionID)
}

// loopSignature hashes the action together with a stable rendering of the
// params. Key order must not affect the signature.
func loopSignature(actionType string, params map[string]interface{}) uint64 {
	h := fnv.New64a()
	h.Write([]byte(actionType))
	h.Write([]byte{0})

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		raw, err := json.Marshal(params[k])
		if err == nil {
			h.Write(raw)
		}
		h.Write([]byte{0})
	}
	return h.Sum64()
}
