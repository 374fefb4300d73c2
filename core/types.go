package core

import (
	"time"
)

// Origin identifies where an intent entered the platform.
type Origin string

const (
	OriginCockpit  Origin = "cockpit"
	OriginTelegram Origin = "telegram"
	OriginAPI      Origin = "api"
	OriginCLI      Origin = "cli"
	OriginInternal Origin = "internal"
)

// SupportsConfirmation reports whether the origin has a human on the other
// end who can answer a confirmation request. Internal executions cannot be
// paused for confirmation; they fail instead.
func (o Origin) SupportsConfirmation() bool {
	switch o {
	case OriginCockpit, OriginTelegram, OriginCLI:
		return true
	default:
		return false
	}
}

// ExecutionMode selects between a rehearsal and a real run.
type ExecutionMode string

const (
	ModeDryRun ExecutionMode = "dry-run"
	ModeReal   ExecutionMode = "real"
)

// RiskLevel classifies a plan or step.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders risk levels so Max can compare them.
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Intent is a raw human-originated request. Immutable once created.
type Intent struct {
	IntentID  string                 `json:"intent_id"`
	Origin    Origin                 `json:"origin"`
	RawInput  string                 `json:"raw_input"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// DeclaredResources lists the external state a step intends to touch.
type DeclaredResources struct {
	Files    []string `json:"files,omitempty"`
	Repos    []string `json:"repos,omitempty"`
	External []string `json:"external,omitempty"`
}

// Empty reports whether the step declared no resources at all.
func (r DeclaredResources) Empty() bool {
	return len(r.Files) == 0 && len(r.Repos) == 0 && len(r.External) == 0
}

// PlanStep is a single dispatchable unit of a plan. ActionType is either a
// registered skill name or a "hub/workflow" target.
type PlanStep struct {
	StepID             string                 `json:"step_id"`
	ActionType         string                 `json:"action_type"`
	Target             string                 `json:"target,omitempty"`
	Params             map[string]interface{} `json:"params,omitempty"`
	Description        string                 `json:"description,omitempty"`
	Idempotent         bool                   `json:"idempotent"`
	Optional           bool                   `json:"optional,omitempty"`
	Parallel           bool                   `json:"parallel,omitempty"`
	Resources          DeclaredResources      `json:"declared_resources"`
	EstimatedDurationMS int64                 `json:"estimated_duration_ms,omitempty"`
	CompensatingAction string                 `json:"compensating_action,omitempty"`
	Risk               RiskLevel              `json:"risk,omitempty"`
}

// PlanLimits bounds a plan's execution.
type PlanLimits struct {
	MaxTimeMS       int64 `json:"max_time_ms"`
	MaxRetries      int   `json:"max_retries"`
	MaxFilesChanged int   `json:"max_files_changed"`
}

// Plan is an ordered, typed program derived from an intent. A plan is
// immutable once authorization begins; it is always handed off by value.
type Plan struct {
	PlanID            string        `json:"plan_id"`
	IntentID          string        `json:"intent_id"`
	Steps             []PlanStep    `json:"steps"`
	RiskLevel         RiskLevel     `json:"risk_level"`
	PermissionsNeeded []string      `json:"permissions_needed,omitempty"`
	Limits            PlanLimits    `json:"limits"`
	Mode              ExecutionMode `json:"mode"`
	CreatedAt         time.Time     `json:"created_at"`
}

// ExecutionStatus tracks an execution's lifecycle. Progression is monotonic
// except for the running<->paused confirmation loop.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionAuthorized ExecutionStatus = "authorized"
	ExecutionRunning    ExecutionStatus = "running"
	ExecutionPaused     ExecutionStatus = "paused"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionBlocked    ExecutionStatus = "blocked"
	ExecutionCancelled  ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionBlocked, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
	StepRetried StepStatus = "retried"
)

// ErrorInfo is the normalized error shape carried on records and API
// responses regardless of where the failure originated.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StepResult records one step's execution.
type StepResult struct {
	StepID       string                 `json:"step_id"`
	Status       StepStatus             `json:"status"`
	Attempts     int                    `json:"attempts"`
	DurationMS   int64                  `json:"duration_ms"`
	Output       map[string]interface{} `json:"output,omitempty"`
	Error        *ErrorInfo             `json:"error,omitempty"`
	AuroraEvents []AuroraEvent          `json:"aurora_events,omitempty"`
}

// Checkpoint is a durable snapshot bound to a post-step point. StateBlob is
// opaque hub/step private state.
type Checkpoint struct {
	CheckpointID string    `json:"checkpoint_id"`
	ExecutionID  string    `json:"execution_id"`
	AfterStepID  string    `json:"after_step_id"`
	StateBlob    []byte    `json:"state_blob,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExecutionRecord is the per-plan record surfaced by the API.
type ExecutionRecord struct {
	ExecutionID string          `json:"execution_id"`
	PlanID      string          `json:"plan_id"`
	Status      ExecutionStatus `json:"status"`
	StepResults []StepResult    `json:"step_results,omitempty"`
	Checkpoints []Checkpoint    `json:"checkpoints,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       *ErrorInfo      `json:"error,omitempty"`
}

// Session groups related executions from one origin.
type Session struct {
	SessionID    string    `json:"session_id"`
	Actor        string    `json:"actor,omitempty"`
	ExecutionIDs []string  `json:"execution_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuroraEventType enumerates the safety supervisor's event union.
type AuroraEventType string

const (
	AuroraHealth AuroraEventType = "HEALTH"
	AuroraAlert  AuroraEventType = "ALERT"
	AuroraLimit  AuroraEventType = "LIMIT"
	AuroraPause  AuroraEventType = "PAUSE"
	AuroraCut    AuroraEventType = "CUT"
	AuroraResume AuroraEventType = "RESUME"
)

// AuroraEvent is a control signal (not an error) emitted by the monitor.
// It must survive a JSON round trip unchanged.
type AuroraEvent struct {
	Type        AuroraEventType        `json:"type"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}
