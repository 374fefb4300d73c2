package aurora

import "time"

// Threshold constants. Each pair is (alert level, hard level); the hard
// level triggers the named protective action.
const (
	cpuThrottlePct    = 80.0
	cpuThrottleFor    = 60 * time.Second
	cpuCutPct         = 90.0
	cpuCutFor         = 120 * time.Second
	ramAlertPct       = 85.0
	ramCutPct         = 95.0
	ramTrendPct       = 20.0
	ramTrendWindow    = 180 * time.Second
	diskAlertPct      = 90.0
	diskBlockPct      = 95.0
	durationAlertMult = 3.0
	durationCutMult   = 5.0
	errorsAlertPerMin = 5
	errorsSafePerMin  = 10
	successAlertRatio = 0.80
	successPauseRatio = 0.50
)

// thresholdAction is one evaluator verdict.
type thresholdAction int

const (
	actionNone thresholdAction = iota
	actionAlert
	actionThrottle
	actionCut
	actionBlockWrites
	actionSafeMode
	actionPause
)

type verdict struct {
	action thresholdAction
	reason string
}

// sustainedAbove reports whether every sample in the window exceeds the
// limit and the window is fully covered (oldest sample at least as old as
// the window demands).
func sustainedAbove(samples []Sample, limit float64, window time.Duration, nowTime time.Time) bool {
	if len(samples) == 0 {
		return false
	}
	cutoff := nowTime.Add(-window)
	for _, s := range samples {
		if s.Value <= limit {
			return false
		}
	}
	// The window counts as covered when the oldest retained sample reaches
	// back to the cutoff, with one sampling period of slack.
	return !samples[0].At.After(cutoff.Add(2 * time.Second))
}

// evaluateCPU applies the CPU throttle and cut rules. Each rule looks at
// its own window.
func evaluateCPU(c *Collectors, nowTime time.Time) verdict {
	if sustainedAbove(c.cpuSince(nowTime.Add(-cpuCutFor)), cpuCutPct, cpuCutFor, nowTime) {
		return verdict{actionCut, "cpu above 90% for 120s"}
	}
	if sustainedAbove(c.cpuSince(nowTime.Add(-cpuThrottleFor)), cpuThrottlePct, cpuThrottleFor, nowTime) {
		return verdict{actionThrottle, "cpu above 80% for 60s"}
	}
	return verdict{actionNone, ""}
}

// evaluateRAM applies the level rules plus the leak-signature trend rule.
func evaluateRAM(latest Sample, trendSamples []Sample) verdict {
	if latest.Value > ramCutPct {
		return verdict{actionCut, "ram above 95%"}
	}
	if len(trendSamples) >= 2 {
		delta := trendSamples[len(trendSamples)-1].Value - trendSamples[0].Value
		if delta > ramTrendPct {
			return verdict{actionCut, "ram climbing more than 20% over 180s"}
		}
	}
	if latest.Value > ramAlertPct {
		return verdict{actionAlert, "ram above 85%"}
	}
	return verdict{actionNone, ""}
}

func evaluateDisk(latest Sample) verdict {
	if latest.Value > diskBlockPct {
		return verdict{actionBlockWrites, "disk above 95%"}
	}
	if latest.Value > diskAlertPct {
		return verdict{actionAlert, "disk above 90%"}
	}
	return verdict{actionNone, ""}
}

// evaluateStepDuration compares elapsed time against the step's estimate.
func evaluateStepDuration(elapsed time.Duration, estimatedMS int64) verdict {
	if estimatedMS <= 0 {
		return verdict{actionNone, ""}
	}
	estimate := time.Duration(estimatedMS) * time.Millisecond
	if elapsed > time.Duration(durationCutMult*float64(estimate)) {
		return verdict{actionCut, "step running over 5x its estimate"}
	}
	if elapsed > time.Duration(durationAlertMult*float64(estimate)) {
		return verdict{actionAlert, "step running over 3x its estimate"}
	}
	return verdict{actionNone, ""}
}

// evaluateErrorRate counts errors in the last minute.
func evaluateErrorRate(errors []time.Time, nowTime time.Time) verdict {
	cutoff := nowTime.Add(-time.Minute)
	n := 0
	for _, t := range errors {
		if t.After(cutoff) {
			n++
		}
	}
	if n > errorsSafePerMin {
		return verdict{actionSafeMode, "more than 10 errors per minute"}
	}
	if n > errorsAlertPerMin {
		return verdict{actionAlert, "more than 5 errors per minute"}
	}
	return verdict{actionNone, ""}
}

// evaluateSuccessRatio applies the running success-rate rules. Ratios only
// count once enough attempts exist to be meaningful.
func evaluateSuccessRatio(successes, failures int) verdict {
	total := successes + failures
	if total < 5 {
		return verdict{actionNone, ""}
	}
	ratio := float64(successes) / float64(total)
	if ratio < successPauseRatio {
		return verdict{actionPause, "success rate below 50%"}
	}
	if ratio < successAlertRatio {
		return verdict{actionAlert, "success rate below 80%"}
	}
	return verdict{actionNone, ""}
}
