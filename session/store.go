// Package session persists execution state: an append-only event log per
// execution, checkpoint blobs, completion reports, and the derived record
// views the API serves. The log is the source of truth; records are a
// cached projection kept alongside it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/operandhq/operand/core"
)

const (
	eventsFile    = "events.log"
	recordFile    = "record.json"
	planFile      = "plan.json"
	reportJSON    = "report.json"
	reportMD      = "report.md"
	checkpointDir = "checkpoints"
)

// ListEntry is the lightweight row returned by List.
type ListEntry struct {
	ExecutionID string               `json:"execution_id"`
	Type        string               `json:"type,omitempty"`
	Hub         string               `json:"hub,omitempty"`
	Workflow    string               `json:"workflow,omitempty"`
	Status      core.ExecutionStatus `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Status core.ExecutionStatus
	Limit  int
}

// Store is the session/state store. One writer lock guards the record map
// and the open log files; reads copy out under the same lock.
type Store struct {
	mu      sync.Mutex
	dir     string
	logger  core.Logger
	index   Index
	records map[string]*core.ExecutionRecord
	meta    map[string]RecordMeta
	logs    map[string]*os.File
}

// RecordMeta carries presentation fields that are not part of the record.
type RecordMeta struct {
	Type     string `json:"type,omitempty"`
	Hub      string `json:"hub,omitempty"`
	Workflow string `json:"workflow,omitempty"`
}

// NewStore opens (creating if needed) the store rooted at dir. An optional
// Index maintains the recency listing in an external backend; nil gets an
// in-memory index.
func NewStore(dir string, index Index, logger core.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &core.Error{Op: "session.NewStore", Kind: core.KindInternal, Err: err}
	}
	if index == nil {
		index = NewMemoryIndex()
	}
	return &Store{
		dir:     dir,
		logger:  core.ScopedLogger(logger, "session"),
		index:   index,
		records: make(map[string]*core.ExecutionRecord),
		meta:    make(map[string]RecordMeta),
		logs:    make(map[string]*os.File),
	}, nil
}

// Run consumes bus events into the log until the context ends. Events
// without an execution id are not persisted.
func (s *Store) Run(ctx context.Context, sub *core.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.ExecutionID == "" {
				continue
			}
			if err := s.Append(ev); err != nil {
				s.logger.Error("Failed to append event", map[string]interface{}{
					"execution_id": ev.ExecutionID,
					"type":         ev.Type,
					"error":        err.Error(),
				})
			}
		}
	}
}

// Append writes one event to the execution's log and syncs it. Append is
// the commit boundary: once it returns, the event survives a crash.
func (s *Store) Append(ev core.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return &core.Error{Op: "session.Append", Kind: core.KindInternal, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.logFileLocked(ev.ExecutionID)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return &core.Error{Op: "session.Append", Kind: core.KindInternal, ID: ev.ExecutionID, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &core.Error{Op: "session.Append", Kind: core.KindInternal, ID: ev.ExecutionID, Err: err}
	}
	return nil
}

// Read returns the full ordered event log for an execution.
func (s *Store) Read(executionID string) ([]core.Event, error) {
	path := filepath.Join(s.dir, executionID, eventsFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &core.Error{Op: "session.Read", Kind: core.KindNotFound, ID: executionID, Err: core.ErrExecutionNotFound}
		}
		return nil, &core.Error{Op: "session.Read", Kind: core.KindInternal, ID: executionID, Err: err}
	}
	var events []core.Event
	for _, line := range splitLines(raw) {
		var ev core.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// A torn final line after a crash is expected; stop there.
			break
		}
		events = append(events, ev)
	}
	return events, nil
}

// CreateRecord registers a new execution record and persists it.
func (s *Store) CreateRecord(rec core.ExecutionRecord, meta RecordMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.records[rec.ExecutionID] = &cp
	s.meta[rec.ExecutionID] = meta
	if err := s.persistRecordLocked(rec.ExecutionID); err != nil {
		return err
	}
	s.touchIndex(rec.ExecutionID, rec.StartedAt)
	return nil
}

// NewRecordMeta builds the presentation metadata for a record.
func NewRecordMeta(recordType, hub, workflow string) RecordMeta {
	return RecordMeta{Type: recordType, Hub: hub, Workflow: workflow}
}

// planEnvelope is the persisted shape of an authorized plan. The origin
// rides along so a resume can re-enter execution under the same identity.
type planEnvelope struct {
	Plan   core.Plan   `json:"plan"`
	Origin core.Origin `json:"origin"`
}

// SavePlan persists the authorized plan next to the record so pending and
// paused executions can be resumed, including across a restart.
func (s *Store) SavePlan(executionID string, plan core.Plan, origin core.Origin) error {
	raw, err := json.Marshal(planEnvelope{Plan: plan, Origin: origin})
	if err != nil {
		return &core.Error{Op: "session.SavePlan", Kind: core.KindInternal, ID: executionID, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Join(s.dir, executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &core.Error{Op: "session.SavePlan", Kind: core.KindInternal, ID: executionID, Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, planFile), raw, 0o644); err != nil {
		return &core.Error{Op: "session.SavePlan", Kind: core.KindInternal, ID: executionID, Err: err}
	}
	return nil
}

// PlanFor loads the persisted plan for an execution, if one was saved.
func (s *Store) PlanFor(executionID string) (core.Plan, core.Origin, bool) {
	raw, err := os.ReadFile(filepath.Join(s.dir, executionID, planFile))
	if err != nil {
		return core.Plan{}, "", false
	}
	var env planEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return core.Plan{}, "", false
	}
	return env.Plan, env.Origin, true
}

// Update applies fn to a record under the lock and persists the result.
func (s *Store) Update(executionID string, fn func(*core.ExecutionRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[executionID]
	if !ok {
		return &core.Error{Op: "session.Update", Kind: core.KindNotFound, ID: executionID, Err: core.ErrExecutionNotFound}
	}
	fn(rec)
	return s.persistRecordLocked(executionID)
}

// Get returns a copy of the record.
func (s *Store) Get(executionID string) (core.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[executionID]
	if !ok {
		return core.ExecutionRecord{}, &core.Error{Op: "session.Get", Kind: core.KindNotFound, ID: executionID, Err: core.ErrExecutionNotFound}
	}
	return *rec, nil
}

// Snapshot derives the current state view for an execution: the record
// plus the tail of its event log.
func (s *Store) Snapshot(executionID string) (core.ExecutionRecord, []core.Event, error) {
	rec, err := s.Get(executionID)
	if err != nil {
		return core.ExecutionRecord{}, nil, err
	}
	events, err := s.Read(executionID)
	if err != nil {
		return rec, nil, nil
	}
	return rec, events, nil
}

// List returns records newest first, optionally filtered.
func (s *Store) List(filter ListFilter) []ListEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]ListEntry, 0, len(s.records))
	for id, rec := range s.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		meta := s.meta[id]
		entries = append(entries, ListEntry{
			ExecutionID: id,
			Type:        meta.Type,
			Hub:         meta.Hub,
			Workflow:    meta.Workflow,
			Status:      rec.Status,
			CreatedAt:   rec.StartedAt,
			CompletedAt: rec.CompletedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries
}

// SaveCheckpoint persists the blob and binds the checkpoint to the record.
func (s *Store) SaveCheckpoint(cp core.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[cp.ExecutionID]
	if !ok {
		return &core.Error{Op: "session.SaveCheckpoint", Kind: core.KindNotFound, ID: cp.ExecutionID, Err: core.ErrExecutionNotFound}
	}

	dir := filepath.Join(s.dir, cp.ExecutionID, checkpointDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &core.Error{Op: "session.SaveCheckpoint", Kind: core.KindInternal, Err: err}
	}
	n := len(rec.Checkpoints)
	path := filepath.Join(dir, strconv.Itoa(n)+".bin")
	raw, err := json.Marshal(cp)
	if err != nil {
		return &core.Error{Op: "session.SaveCheckpoint", Kind: core.KindInternal, Err: err}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return &core.Error{Op: "session.SaveCheckpoint", Kind: core.KindInternal, Err: err}
	}
	rec.Checkpoints = append(rec.Checkpoints, cp)
	return s.persistRecordLocked(cp.ExecutionID)
}

// LatestCheckpoint returns the most recent checkpoint, if any.
func (s *Store) LatestCheckpoint(executionID string) (core.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[executionID]
	if !ok || len(rec.Checkpoints) == 0 {
		return core.Checkpoint{}, false
	}
	return rec.Checkpoints[len(rec.Checkpoints)-1], true
}

// WriteReport renders the completion artifacts for a finished execution.
func (s *Store) WriteReport(executionID string) error {
	rec, err := s.Get(executionID)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.dir, executionID)
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &core.Error{Op: "session.WriteReport", Kind: core.KindInternal, Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, reportJSON), raw, 0o644); err != nil {
		return &core.Error{Op: "session.WriteReport", Kind: core.KindInternal, Err: err}
	}
	md := renderMarkdownReport(rec)
	if err := os.WriteFile(filepath.Join(dir, reportMD), []byte(md), 0o644); err != nil {
		return &core.Error{Op: "session.WriteReport", Kind: core.KindInternal, Err: err}
	}
	return nil
}

// Recover scans the run directory for executions that never reached a
// terminal state. Each is marked failed with reason recovered_crash,
// unless its log ends in a CUT and a checkpoint exists, in which case it
// stays paused and eligible for human-driven resume. Returns the ids that
// were touched.
func (s *Store) Recover() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &core.Error{Op: "session.Recover", Kind: core.KindInternal, Err: err}
	}

	var touched []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		rec, meta, err := s.loadRecord(id)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.records[id] = rec
		s.meta[id] = meta
		s.mu.Unlock()

		if rec.Status.Terminal() {
			continue
		}

		events, _ := s.Read(id)
		cutSeen := false
		for _, ev := range events {
			if t, ok := ev.Payload["type"].(string); ok && t == string(core.AuroraCut) {
				cutSeen = true
			}
		}
		resumable := cutSeen && len(rec.Checkpoints) > 0

		err = s.Update(id, func(r *core.ExecutionRecord) {
			if resumable {
				r.Status = core.ExecutionPaused
				return
			}
			r.Status = core.ExecutionFailed
			r.Error = &core.ErrorInfo{Code: "recovered_crash", Message: "process terminated mid-execution"}
			completed := time.Now().UTC()
			r.CompletedAt = &completed
		})
		if err != nil {
			return touched, err
		}
		touched = append(touched, id)
		s.logger.Warn("Recovered unfinished execution", map[string]interface{}{
			"execution_id": id,
			"resumable":    resumable,
		})
	}
	return touched, nil
}

// Close releases every open log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.logs {
		f.Close()
		delete(s.logs, id)
	}
	return nil
}

func (s *Store) logFileLocked(executionID string) (*os.File, error) {
	if f, ok := s.logs[executionID]; ok {
		return f, nil
	}
	dir := filepath.Join(s.dir, executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &core.Error{Op: "session.Append", Kind: core.KindInternal, Err: err}
	}
	f, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &core.Error{Op: "session.Append", Kind: core.KindInternal, Err: err}
	}
	s.logs[executionID] = f
	return f, nil
}

func (s *Store) persistRecordLocked(executionID string) error {
	rec := s.records[executionID]
	dir := filepath.Join(s.dir, executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &core.Error{Op: "session.persist", Kind: core.KindInternal, Err: err}
	}
	envelope := struct {
		Record *core.ExecutionRecord `json:"record"`
		Meta   RecordMeta            `json:"meta"`
	}{rec, s.meta[executionID]}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return &core.Error{Op: "session.persist", Kind: core.KindInternal, Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, recordFile), raw, 0o644); err != nil {
		return &core.Error{Op: "session.persist", Kind: core.KindInternal, Err: err}
	}
	return nil
}

func (s *Store) loadRecord(executionID string) (*core.ExecutionRecord, RecordMeta, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, executionID, recordFile))
	if err != nil {
		return nil, RecordMeta{}, err
	}
	var envelope struct {
		Record *core.ExecutionRecord `json:"record"`
		Meta   RecordMeta            `json:"meta"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, RecordMeta{}, err
	}
	if envelope.Record == nil {
		return nil, RecordMeta{}, fmt.Errorf("empty record for %s", executionID)
	}
	return envelope.Record, envelope.Meta, nil
}

func (s *Store) touchIndex(executionID string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.index.Touch(ctx, executionID, at); err != nil {
		// The index is a convenience view; losing an entry is not fatal.
		s.logger.Warn("Failed to update execution index", map[string]interface{}{
			"execution_id": executionID,
			"error":        err.Error(),
		})
	}
}

func renderMarkdownReport(rec core.ExecutionRecord) string {
	var sb []byte
	sb = append(sb, fmt.Sprintf("# Execution %s\n\n", rec.ExecutionID)...)
	sb = append(sb, fmt.Sprintf("- Plan: %s\n- Status: %s\n- Started: %s\n", rec.PlanID, rec.Status, rec.StartedAt.Format(time.RFC3339))...)
	if rec.CompletedAt != nil {
		sb = append(sb, fmt.Sprintf("- Completed: %s\n", rec.CompletedAt.Format(time.RFC3339))...)
	}
	if rec.Error != nil {
		sb = append(sb, fmt.Sprintf("- Error: `%s` %s\n", rec.Error.Code, rec.Error.Message)...)
	}
	sb = append(sb, "\n## Steps\n\n| Step | Status | Attempts | Duration |\n|---|---|---|---|\n"...)
	for _, sr := range rec.StepResults {
		sb = append(sb, fmt.Sprintf("| %s | %s | %d | %dms |\n", sr.StepID, sr.Status, sr.Attempts, sr.DurationMS)...)
	}
	if len(rec.Checkpoints) > 0 {
		sb = append(sb, fmt.Sprintf("\n%d checkpoint(s) recorded.\n", len(rec.Checkpoints))...)
	}
	return string(sb)
}

func splitLines(raw []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range raw {
		if b == '\n' {
			if i > start {
				lines = append(lines, raw[start:i])
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, raw[start:])
	}
	return lines
}
