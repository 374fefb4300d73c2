package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/operandhq/operand/aurora"
	"github.com/operandhq/operand/core"
	"github.com/operandhq/operand/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	hubCount := 0
	if s.hubs != nil {
		hubCount = len(s.hubs.Hubs())
	}
	s.respond(w, r, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_ms":      time.Since(s.started).Milliseconds(),
		"version":        s.cfg.Version,
		"hubs_available": hubCount,
		"total_skills":   stats.Total,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	running := s.store.List(session.ListFilter{Status: core.ExecutionRunning})
	hubList := []map[string]interface{}{}
	if s.hubs != nil {
		for _, m := range s.hubs.Hubs() {
			hubList = append(hubList, map[string]interface{}{
				"id":        m.ID,
				"name":      m.DisplayName,
				"workflows": len(m.Workflows),
			})
		}
	}
	s.respond(w, r, http.StatusOK, map[string]interface{}{
		"health":            "ok",
		"metrics":           s.monitor.Status(),
		"hubs":              hubList,
		"active_executions": len(running),
		"running":           len(running) > 0,
	})
}

// intentRequest is the POST /intent body.
type intentRequest struct {
	Message string                 `json:"message"`
	Origin  string                 `json:"origin,omitempty"`
	Mode    string                 `json:"mode,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.respondError(w, r, &core.Error{Op: "gateway.handleIntent", Kind: core.KindValidation, Message: "message is required"})
		return
	}

	outcome, err := s.submitIntent(req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	data := map[string]interface{}{
		"execution_id":  outcome.ExecutionID,
		"status":        outcome.Status,
		"plan":          outcome.Plan,
		"authorization": outcome.Authorization,
	}
	if outcome.ConfirmationPrompt != "" {
		data["confirmation_prompt"] = outcome.ConfirmationPrompt
	}
	switch outcome.Authorization.Decision {
	case aurora.DecisionBlocked:
		s.respondFailure(w, r, http.StatusForbidden, data, "BLOCKED", outcome.Authorization.Message)
	case aurora.DecisionRequiresConfirmation:
		s.respond(w, r, http.StatusAccepted, data)
	default:
		s.respond(w, r, http.StatusOK, data)
	}
}

// intentOutcome is what intent submission produces before the HTTP shape
// is decided. The WebSocket intent path reuses it.
type intentOutcome struct {
	ExecutionID        string
	Status             string
	Plan               core.Plan
	Authorization      aurora.AuthorizationResponse
	ConfirmationPrompt string
}

// submitIntent routes, plans, authorizes, and (when allowed) launches the
// execution in the background.
func (s *Server) submitIntent(req intentRequest) (intentOutcome, error) {
	origin := core.Origin(req.Origin)
	if origin == "" {
		origin = core.OriginAPI
	}
	mode := core.ExecutionMode(req.Mode)

	intent := core.Intent{
		IntentID:  uuid.New().String(),
		Origin:    origin,
		RawInput:  req.Message,
		Timestamp: time.Now().UTC(),
		Metadata:  req.Context,
	}
	routed := s.router.Route(req.Message)
	plan, err := s.planner.BuildPlan(intent, routed, mode)
	if err != nil {
		return intentOutcome{}, err
	}

	executionID := uuid.New().String()
	authz := s.monitor.Authorize(aurora.AuthorizationRequest{
		ExecutionID:       executionID,
		Origin:            origin,
		Plan:              plan,
		Resources:         mergedResources(plan),
		RiskLevel:         plan.RiskLevel,
		PermissionsNeeded: plan.PermissionsNeeded,
		Limits:            plan.Limits,
		Mode:              plan.Mode,
		Context:           req.Context,
	})
	if authz.ImposedLimits != nil {
		plan.Limits = *authz.ImposedLimits
	}

	rec := core.ExecutionRecord{
		ExecutionID: executionID,
		PlanID:      plan.PlanID,
		Status:      core.ExecutionPending,
		StartedAt:   time.Now().UTC(),
	}
	meta := recordMetaFor(plan)

	switch authz.Decision {
	case aurora.DecisionBlocked:
		rec.Status = core.ExecutionBlocked
		rec.Error = &core.ErrorInfo{Code: "BLOCKED", Message: authz.Reason}
		if err := s.store.CreateRecord(rec, meta); err != nil {
			return intentOutcome{}, err
		}
		s.bus.Publish(core.Event{
			Topic:       core.TopicExecutions,
			Type:        core.EventBlockedByAurora,
			ExecutionID: executionID,
			Payload:     map[string]interface{}{"reason": authz.Reason, "rules": authz.Rules},
		})
		return intentOutcome{ExecutionID: executionID, Status: "blocked", Plan: plan, Authorization: authz}, nil

	case aurora.DecisionRequiresConfirmation:
		if err := s.store.CreateRecord(rec, meta); err != nil {
			return intentOutcome{}, err
		}
		if err := s.store.SavePlan(executionID, plan, origin); err != nil {
			return intentOutcome{}, err
		}
		return intentOutcome{
			ExecutionID:        executionID,
			Status:             "requires_confirmation",
			Plan:               plan,
			Authorization:      authz,
			ConfirmationPrompt: authz.Message,
		}, nil

	default:
		rec.Status = core.ExecutionAuthorized
		if err := s.store.CreateRecord(rec, meta); err != nil {
			return intentOutcome{}, err
		}
		if err := s.store.SavePlan(executionID, plan, origin); err != nil {
			return intentOutcome{}, err
		}
		go func() {
			if _, err := s.exec.Execute(context.Background(), executionID, plan, origin); err != nil {
				s.logger.Warn("Execution finished with error", map[string]interface{}{
					"execution_id": executionID,
					"error":        err.Error(),
				})
			}
		}()
		return intentOutcome{ExecutionID: executionID, Status: "running", Plan: plan, Authorization: authz}, nil
	}
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := session.ListFilter{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = core.ExecutionStatus(v)
	}
	entries := s.store.List(filter)
	s.respond(w, r, http.StatusOK, map[string]interface{}{
		"executions": entries,
		"total":      len(entries),
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, rec)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.exec.Cancel(id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]interface{}{"execution_id": id, "status": "cancelling"})
}

func (s *Server) handleResumeExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.exec.Resume(id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]interface{}{"execution_id": id, "status": "resuming"})
}

func (s *Server) handleListHubs(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	hubList := []map[string]interface{}{}
	if s.hubs != nil {
		for _, m := range s.hubs.Hubs() {
			workflows := make([]string, 0, len(m.Workflows))
			for _, wf := range m.Workflows {
				workflows = append(workflows, wf.ID)
			}
			hubList = append(hubList, map[string]interface{}{
				"id":          m.ID,
				"name":        m.DisplayName,
				"description": m.Description,
				"status":      "ready",
				"workflows":   workflows,
			})
		}
	}
	s.respond(w, r, http.StatusOK, map[string]interface{}{
		"hubs":         hubList,
		"total_skills": stats.Total,
	})
}

func (s *Server) handleGetHub(w http.ResponseWriter, r *http.Request) {
	if s.hubs == nil {
		s.respondError(w, r, &core.Error{Op: "gateway.handleGetHub", Kind: core.KindNotFound, Err: core.ErrHubNotFound})
		return
	}
	m, err := s.hubs.Hub(r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]interface{}{
		"manifest":  m,
		"workflows": m.Workflows,
		"status":    "ready",
		"config": map[string]interface{}{
			"version":               m.Version,
			"required_capabilities": m.RequiredCapabilities,
		},
	})
}

func (s *Server) handleHubWorkflows(w http.ResponseWriter, r *http.Request) {
	if s.hubs == nil {
		s.respondError(w, r, &core.Error{Op: "gateway.handleHubWorkflows", Kind: core.KindNotFound, Err: core.ErrHubNotFound})
		return
	}
	workflows, err := s.hubs.Workflows(r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]interface{}{"workflows": workflows})
}

// hubExecuteRequest is the POST /hubs/{id}/execute body.
type hubExecuteRequest struct {
	Workflow string                 `json:"workflow"`
	Params   map[string]interface{} `json:"params,omitempty"`
	Mode     string                 `json:"mode,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// handleHubExecute runs a hub workflow synchronously and returns its
// terminal record.
func (s *Server) handleHubExecute(w http.ResponseWriter, r *http.Request) {
	if s.hubs == nil {
		s.respondError(w, r, &core.Error{Op: "gateway.handleHubExecute", Kind: core.KindNotFound, Err: core.ErrHubNotFound})
		return
	}
	hubID := r.PathValue("id")
	var req hubExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Workflow == "" {
		s.respondError(w, r, &core.Error{Op: "gateway.handleHubExecute", Kind: core.KindValidation, Message: "workflow is required"})
		return
	}
	if err := s.hubs.ValidateWorkflowParams(hubID, req.Workflow, req.Params); err != nil {
		s.respondError(w, r, err)
		return
	}

	mode := core.ExecutionMode(req.Mode)
	if mode == "" {
		mode = core.ModeReal
	}
	executionID := uuid.New().String()
	plan := core.Plan{
		PlanID:   uuid.New().String(),
		IntentID: executionID,
		Steps: []core.PlanStep{{
			StepID:      uuid.New().String(),
			ActionType:  hubID + "/" + req.Workflow,
			Target:      hubID,
			Params:      req.Params,
			Description: "hub workflow " + hubID + "/" + req.Workflow,
		}},
		RiskLevel: core.RiskMedium,
		Limits: core.PlanLimits{
			MaxTimeMS:       s.cfg.MaxTimeMS,
			MaxRetries:      s.cfg.MaxRetries,
			MaxFilesChanged: s.cfg.MaxFilesChanged,
		},
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}

	// Hub plans pass the same pre-gate as intent plans.
	authz := s.monitor.Authorize(aurora.AuthorizationRequest{
		ExecutionID: executionID,
		Origin:      core.OriginAPI,
		Plan:        plan,
		Resources:   mergedResources(plan),
		RiskLevel:   plan.RiskLevel,
		Limits:      plan.Limits,
		Mode:        plan.Mode,
		Context:     req.Context,
	})
	if authz.ImposedLimits != nil {
		plan.Limits = *authz.ImposedLimits
	}

	rec := core.ExecutionRecord{
		ExecutionID: executionID,
		PlanID:      plan.PlanID,
		Status:      core.ExecutionAuthorized,
		StartedAt:   time.Now().UTC(),
	}
	meta := session.NewRecordMeta("hub", hubID, req.Workflow)

	switch authz.Decision {
	case aurora.DecisionBlocked:
		rec.Status = core.ExecutionBlocked
		rec.Error = &core.ErrorInfo{Code: "BLOCKED", Message: authz.Reason}
		if err := s.store.CreateRecord(rec, meta); err != nil {
			s.respondError(w, r, err)
			return
		}
		s.bus.Publish(core.Event{
			Topic:       core.TopicExecutions,
			Type:        core.EventBlockedByAurora,
			ExecutionID: executionID,
			Payload:     map[string]interface{}{"reason": authz.Reason, "rules": authz.Rules},
		})
		s.respondFailure(w, r, http.StatusForbidden, map[string]interface{}{
			"execution_id":  executionID,
			"hub":           hubID,
			"workflow":      req.Workflow,
			"status":        rec.Status,
			"authorization": authz,
		}, "BLOCKED", authz.Message)
		return

	case aurora.DecisionRequiresConfirmation:
		rec.Status = core.ExecutionPending
		if err := s.store.CreateRecord(rec, meta); err != nil {
			s.respondError(w, r, err)
			return
		}
		if err := s.store.SavePlan(executionID, plan, core.OriginAPI); err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respond(w, r, http.StatusAccepted, map[string]interface{}{
			"execution_id":        executionID,
			"hub":                 hubID,
			"workflow":            req.Workflow,
			"status":              "requires_confirmation",
			"authorization":       authz,
			"confirmation_prompt": authz.Message,
		})
		return
	}

	if err := s.store.CreateRecord(rec, meta); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.store.SavePlan(executionID, plan, core.OriginAPI); err != nil {
		s.respondError(w, r, err)
		return
	}

	started := time.Now()
	final, err := s.exec.Execute(r.Context(), executionID, plan, core.OriginAPI)
	if err != nil && final.ExecutionID == "" {
		s.respondError(w, r, err)
		return
	}

	succeeded, failed := 0, 0
	var output map[string]interface{}
	for _, sr := range final.StepResults {
		switch sr.Status {
		case core.StepSuccess:
			succeeded++
			output = sr.Output
		case core.StepFailed:
			failed++
		}
	}
	data := map[string]interface{}{
		"execution_id": executionID,
		"hub":          hubID,
		"workflow":     req.Workflow,
		"status":       final.Status,
		"output":       output,
		"step_results": final.StepResults,
		"metrics": map[string]interface{}{
			"duration_ms":     time.Since(started).Milliseconds(),
			"steps_total":     len(final.StepResults),
			"steps_succeeded": succeeded,
			"steps_failed":    failed,
		},
	}
	if final.Status == core.ExecutionCompleted {
		s.respond(w, r, http.StatusOK, data)
		return
	}
	code, message := "PROCESSING_ERROR", "workflow did not complete"
	if final.Error != nil {
		code, message = final.Error.Code, final.Error.Message
	}
	data["error"] = final.Error
	status := http.StatusInternalServerError
	if final.Status == core.ExecutionBlocked {
		status = http.StatusForbidden
	}
	s.respondFailure(w, r, status, data, code, message)
}

// mergedResources flattens every step's declared footprint for the
// authorization request.
func mergedResources(plan core.Plan) core.DeclaredResources {
	var res core.DeclaredResources
	for _, step := range plan.Steps {
		res.Files = append(res.Files, step.Resources.Files...)
		res.Repos = append(res.Repos, step.Resources.Repos...)
		res.External = append(res.External, step.Resources.External...)
	}
	return res
}

// recordMetaFor classifies the record for the listing endpoint.
func recordMetaFor(plan core.Plan) session.RecordMeta {
	if len(plan.Steps) == 1 {
		if idx := strings.Index(plan.Steps[0].ActionType, "/"); idx > 0 {
			action := plan.Steps[0].ActionType
			return session.NewRecordMeta("hub", action[:idx], action[idx+1:])
		}
	}
	return session.NewRecordMeta("intent", "", "")
}
