package aurora

import (
	"github.com/operandhq/operand/core"
)

// Recovery is the tiered directive the executor follows after a CUT. The
// tiers are ordered: stop first, roll back if a checkpoint exists, then
// either wait for a human or fail.
type Recovery struct {
	RollToCheckpoint bool
	RequestResume    bool
	FinalStatus      core.ExecutionStatus
}

// RecoverFromCut decides the recovery for a cut execution. Origins with a
// human on the other end get a resume request; unattended origins fail.
func (m *Monitor) RecoverFromCut(executionID string, origin core.Origin, hasCheckpoint bool) Recovery {
	rec := Recovery{
		RollToCheckpoint: hasCheckpoint,
		RequestResume:    origin.SupportsConfirmation(),
		FinalStatus:      core.ExecutionFailed,
	}
	if rec.RequestResume {
		rec.FinalStatus = core.ExecutionPaused
	}

	m.logger.Warn("Recovery after cut", map[string]interface{}{
		"execution_id":   executionID,
		"origin":         origin,
		"has_checkpoint": hasCheckpoint,
		"resume_offered": rec.RequestResume,
		"final_status":   rec.FinalStatus,
	})
	m.bus.PublishAurora(core.AuroraEvent{
		Type:        core.AuroraHealth,
		ExecutionID: executionID,
		Reason:      "recovery initiated",
		Payload: map[string]interface{}{
			"rolled_to_checkpoint": rec.RollToCheckpoint,
			"resume_requested":     rec.RequestResume,
		},
		Timestamp: now(),
	})
	return rec
}
