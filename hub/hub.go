// Package hub is the orchestrator runtime for domain hubs. A hub declares
// workflows as YAML step templates; the runtime validates parameters,
// expands a workflow into a concrete plan fragment, and carries typed
// outputs between fragment steps. The executor runs the fragment under
// the usual gates, so hub work gets the same observability and rollback
// semantics as plain skill calls.
package hub

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/operandhq/operand/core"
)

// Manifest is a hub's published surface.
type Manifest struct {
	ID                   string     `yaml:"id" json:"id"`
	DisplayName          string     `yaml:"display_name" json:"display_name"`
	Description          string     `yaml:"description" json:"description"`
	Version              string     `yaml:"version" json:"version"`
	RequiredCapabilities []string   `yaml:"required_capabilities" json:"required_capabilities"`
	Workflows            []Workflow `yaml:"workflows" json:"workflows"`
}

// Workflow is a declarative step template.
type Workflow struct {
	ID              string                 `yaml:"id" json:"id"`
	Description     string                 `yaml:"description" json:"description"`
	ParameterSchema map[string]interface{} `yaml:"parameter_schema" json:"parameter_schema,omitempty"`
	Steps           []StepTemplate         `yaml:"steps" json:"steps"`
}

// InRef binds one input of a step to a prior step's output.
type InRef struct {
	From string `yaml:"from" json:"from"` // producing step's ref
	Key  string `yaml:"key" json:"key"`   // key in the producer's output
	As   string `yaml:"as" json:"as"`     // parameter name on the consumer
}

// StepTemplate is one declared sub-step. Ref names the step inside the
// workflow for dataflow; Skill is the registered skill it dispatches to.
type StepTemplate struct {
	Ref                 string                 `yaml:"ref" json:"ref"`
	Skill               string                 `yaml:"skill" json:"skill"`
	Persona             string                 `yaml:"persona" json:"persona,omitempty"`
	Params              map[string]interface{} `yaml:"params" json:"params,omitempty"`
	InRefs              []InRef                `yaml:"in_refs" json:"in_refs,omitempty"`
	OutSchema           map[string]interface{} `yaml:"out_schema" json:"out_schema,omitempty"`
	Idempotent          bool                   `yaml:"idempotent" json:"idempotent"`
	Optional            bool                   `yaml:"optional" json:"optional,omitempty"`
	Parallel            bool                   `yaml:"parallel" json:"parallel,omitempty"`
	EstimatedDurationMS int64                  `yaml:"estimated_duration_ms" json:"estimated_duration_ms,omitempty"`
	Files               []string               `yaml:"files" json:"files,omitempty"`
	External            []string               `yaml:"external" json:"external,omitempty"`
}

// compiledWorkflow pairs a workflow with its compiled schemas.
type compiledWorkflow struct {
	wf          Workflow
	paramSchema *jsonschema.Schema
	outSchemas  map[string]*jsonschema.Schema // by step ref
}

type compiledHub struct {
	manifest  Manifest
	workflows map[string]*compiledWorkflow
}

// stepBinding is the dataflow info the runtime keeps per expanded step.
type stepBinding struct {
	hubID  string
	ref    string
	inRefs []InRef
}

// Runtime holds registered hubs and per-execution dataflow state.
type Runtime struct {
	mu       sync.Mutex
	hubs     map[string]*compiledHub
	order    []string
	bindings map[string]stepBinding                       // step id -> binding
	outputs  map[string]map[string]map[string]interface{} // execution -> ref -> output
	owned    map[string][]string                          // execution -> step ids seen
	logger   core.Logger
}

// NewRuntime creates an empty runtime.
func NewRuntime(logger core.Logger) *Runtime {
	return &Runtime{
		hubs:     make(map[string]*compiledHub),
		bindings: make(map[string]stepBinding),
		outputs:  make(map[string]map[string]map[string]interface{}),
		owned:    make(map[string][]string),
		logger:   core.ScopedLogger(logger, "hub"),
	}
}

// RegisterManifest parses and registers one YAML manifest.
func (r *Runtime) RegisterManifest(src []byte) error {
	var m Manifest
	if err := yaml.Unmarshal(src, &m); err != nil {
		return &core.Error{Op: "hub.RegisterManifest", Kind: core.KindValidation, Message: "malformed manifest", Err: err}
	}
	if m.ID == "" || len(m.Workflows) == 0 {
		return &core.Error{Op: "hub.RegisterManifest", Kind: core.KindValidation, Message: "manifest needs an id and at least one workflow"}
	}

	ch := &compiledHub{manifest: m, workflows: make(map[string]*compiledWorkflow, len(m.Workflows))}
	for _, wf := range m.Workflows {
		cw := &compiledWorkflow{wf: wf, outSchemas: make(map[string]*jsonschema.Schema)}
		if wf.ParameterSchema != nil {
			schema, err := compileSchema(m.ID+"/"+wf.ID, wf.ParameterSchema)
			if err != nil {
				return err
			}
			cw.paramSchema = schema
		}
		refs := make(map[string]bool, len(wf.Steps))
		for _, st := range wf.Steps {
			if st.Ref == "" || st.Skill == "" {
				return &core.Error{Op: "hub.RegisterManifest", Kind: core.KindValidation,
					Message: fmt.Sprintf("workflow %s: every step needs ref and skill", wf.ID)}
			}
			if refs[st.Ref] {
				return &core.Error{Op: "hub.RegisterManifest", Kind: core.KindValidation,
					Message: fmt.Sprintf("workflow %s: duplicate step ref %s", wf.ID, st.Ref)}
			}
			refs[st.Ref] = true
			for _, in := range st.InRefs {
				if !refs[in.From] {
					return &core.Error{Op: "hub.RegisterManifest", Kind: core.KindValidation,
						Message: fmt.Sprintf("workflow %s: step %s reads %s before it is produced", wf.ID, st.Ref, in.From)}
				}
			}
			if st.OutSchema != nil {
				schema, err := compileSchema(m.ID+"/"+wf.ID+"/"+st.Ref, st.OutSchema)
				if err != nil {
					return err
				}
				cw.outSchemas[st.Ref] = schema
			}
		}
		ch.workflows[wf.ID] = cw
	}

	r.mu.Lock()
	if _, exists := r.hubs[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.hubs[m.ID] = ch
	r.mu.Unlock()

	r.logger.Info("Registered hub", map[string]interface{}{
		"hub":       m.ID,
		"version":   m.Version,
		"workflows": len(m.Workflows),
	})
	return nil
}

// Hubs lists manifests in registration order.
func (r *Runtime) Hubs() []Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Manifest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.hubs[id].manifest)
	}
	return out
}

// Hub returns one manifest.
func (r *Runtime) Hub(id string) (Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.hubs[id]
	if !ok {
		return Manifest{}, &core.Error{Op: "hub.Hub", Kind: core.KindNotFound, ID: id, Err: core.ErrHubNotFound}
	}
	return ch.manifest, nil
}

// Workflows returns the workflows of one hub.
func (r *Runtime) Workflows(hubID string) ([]Workflow, error) {
	m, err := r.Hub(hubID)
	if err != nil {
		return nil, err
	}
	return m.Workflows, nil
}

// ValidateWorkflowParams checks params against the workflow's declared
// schema without expanding anything. The gateway uses it to reject bad
// requests before a record is created.
func (r *Runtime) ValidateWorkflowParams(hubID, workflowID string, params map[string]interface{}) error {
	r.mu.Lock()
	ch, ok := r.hubs[hubID]
	if !ok {
		r.mu.Unlock()
		return &core.Error{Op: "hub.ValidateWorkflowParams", Kind: core.KindNotFound, ID: hubID, Err: core.ErrHubNotFound}
	}
	cw, ok := ch.workflows[workflowID]
	r.mu.Unlock()
	if !ok {
		return &core.Error{Op: "hub.ValidateWorkflowParams", Kind: core.KindNotFound, ID: hubID + "/" + workflowID, Err: core.ErrWorkflowNotFound}
	}
	if err := core.ValidateParams(cw.paramSchema, params); err != nil {
		return &core.Error{Op: "hub.ValidateWorkflowParams", Kind: core.KindValidation,
			ID: hubID + "/" + workflowID, Message: "workflow parameters rejected", Err: err}
	}
	return nil
}

// Expand validates params against the workflow schema and builds the
// concrete plan fragment. Each expanded step is registered for dataflow
// binding.
func (r *Runtime) Expand(hubID, workflowID string, params map[string]interface{}) ([]core.PlanStep, error) {
	r.mu.Lock()
	ch, ok := r.hubs[hubID]
	if !ok {
		r.mu.Unlock()
		return nil, &core.Error{Op: "hub.Expand", Kind: core.KindNotFound, ID: hubID, Err: core.ErrHubNotFound}
	}
	cw, ok := ch.workflows[workflowID]
	r.mu.Unlock()
	if !ok {
		return nil, &core.Error{Op: "hub.Expand", Kind: core.KindNotFound, ID: hubID + "/" + workflowID, Err: core.ErrWorkflowNotFound}
	}

	if err := core.ValidateParams(cw.paramSchema, params); err != nil {
		return nil, &core.Error{Op: "hub.Expand", Kind: core.KindValidation,
			ID: hubID + "/" + workflowID, Message: "workflow parameters rejected", Err: err}
	}

	steps := make([]core.PlanStep, 0, len(cw.wf.Steps))
	for _, st := range cw.wf.Steps {
		stepID := uuid.New().String()
		stepParams := make(map[string]interface{}, len(st.Params)+len(params)+2)
		for k, v := range st.Params {
			stepParams[k] = v
		}
		// Workflow params flow to every step under a reserved key so
		// templates can reference the user's request.
		stepParams["workflow_params"] = params
		if st.Persona != "" {
			stepParams["persona"] = st.Persona
		}

		steps = append(steps, core.PlanStep{
			StepID:              stepID,
			ActionType:          st.Skill,
			Target:              hubID,
			Params:              stepParams,
			Description:         hubID + "/" + workflowID + ":" + st.Ref,
			Idempotent:          st.Idempotent,
			Optional:            st.Optional,
			Parallel:            st.Parallel,
			EstimatedDurationMS: st.EstimatedDurationMS,
			Resources: core.DeclaredResources{
				Files:    st.Files,
				External: st.External,
			},
		})

		r.mu.Lock()
		r.bindings[stepID] = stepBinding{hubID: hubID, ref: st.Ref, inRefs: st.InRefs}
		r.mu.Unlock()
	}
	return steps, nil
}

// Bind resolves a step's in_refs from the outputs recorded so far for the
// execution. Steps without bindings pass through untouched.
func (r *Runtime) Bind(executionID string, step core.PlanStep) (map[string]interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.bindings[step.StepID]
	if !ok {
		return step.Params, nil
	}
	r.owned[executionID] = append(r.owned[executionID], step.StepID)
	if len(binding.inRefs) == 0 {
		return step.Params, nil
	}

	bound := make(map[string]interface{}, len(step.Params)+len(binding.inRefs))
	for k, v := range step.Params {
		bound[k] = v
	}
	byRef := r.outputs[executionID]
	for _, in := range binding.inRefs {
		output, ok := byRef[in.From]
		if !ok {
			return nil, &core.Error{Op: "hub.Bind", Kind: core.KindInternal, ID: step.StepID,
				Message: fmt.Sprintf("input %s not produced by step %s", in.As, in.From)}
		}
		value, ok := output[in.Key]
		if !ok {
			return nil, &core.Error{Op: "hub.Bind", Kind: core.KindInternal, ID: step.StepID,
				Message: fmt.Sprintf("step %s produced no key %s", in.From, in.Key)}
		}
		bound[in.As] = value
	}
	return bound, nil
}

// RecordOutput stores a step's output under its template ref and checks it
// against the declared out_schema. Schema violations are logged, not
// fatal: downstream binds fail precisely when a promised key is missing.
func (r *Runtime) RecordOutput(executionID, stepID string, output map[string]interface{}) {
	r.mu.Lock()
	binding, ok := r.bindings[stepID]
	if !ok {
		r.mu.Unlock()
		return
	}
	byRef, ok := r.outputs[executionID]
	if !ok {
		byRef = make(map[string]map[string]interface{})
		r.outputs[executionID] = byRef
	}
	byRef[binding.ref] = output
	schema := r.outSchemaLocked(binding.hubID, binding.ref)
	r.mu.Unlock()

	if schema != nil {
		if err := core.ValidateParams(schema, output); err != nil {
			r.logger.Warn("Step output violates its declared schema", map[string]interface{}{
				"execution_id": executionID,
				"step_ref":     binding.ref,
				"error":        err.Error(),
			})
		}
	}
}

// Release drops all dataflow state for a finished execution.
func (r *Runtime) Release(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stepID := range r.owned[executionID] {
		delete(r.bindings, stepID)
	}
	delete(r.owned, executionID)
	delete(r.outputs, executionID)
}

func (r *Runtime) outSchemaLocked(hubID, ref string) *jsonschema.Schema {
	ch, ok := r.hubs[hubID]
	if !ok {
		return nil
	}
	for _, cw := range ch.workflows {
		if s, ok := cw.outSchemas[ref]; ok {
			return s
		}
	}
	return nil
}

// compileSchema converts a YAML-decoded schema document to JSON and
// compiles it.
func compileSchema(name string, doc map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &core.Error{Op: "hub.compileSchema", Kind: core.KindValidation, ID: name, Err: err}
	}
	schema, err := core.CompileParameterSchema(name, raw)
	if err != nil {
		return nil, &core.Error{Op: "hub.compileSchema", Kind: core.KindValidation, ID: name, Err: err}
	}
	return schema, nil
}
