package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SkillCategory groups skills for danger pools, rate limits, and breakers.
type SkillCategory string

const (
	CategoryExec    SkillCategory = "EXEC"
	CategoryAI      SkillCategory = "AI"
	CategoryFile    SkillCategory = "FILE"
	CategoryWeb     SkillCategory = "WEB"
	CategoryBrowser SkillCategory = "BROWSER"
	CategoryComm    SkillCategory = "COMM"
	CategoryUtil    SkillCategory = "UTIL"
	CategoryAutoPC  SkillCategory = "AUTOPC"
)

// Descriptor is a skill's metadata. Two descriptors are equivalent when all
// fields match; registering an equivalent descriptor twice is a no-op.
type Descriptor struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Category        SkillCategory   `json:"category"`
	Dangerous       bool            `json:"dangerous"`
	ParameterSchema json.RawMessage `json:"parameter_schema,omitempty"`
	TimeoutMS       int64           `json:"timeout_ms"`
	Retries         int             `json:"retries"`
}

// Equal compares descriptors field by field, schema bytes included.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.Name == other.Name &&
		d.Description == other.Description &&
		d.Category == other.Category &&
		d.Dangerous == other.Dangerous &&
		d.TimeoutMS == other.TimeoutMS &&
		d.Retries == other.Retries &&
		string(d.ParameterSchema) == string(other.ParameterSchema)
}

// Result is the uniform output of a skill run.
type Result struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Skill is the uniform callable unit. Implementations live outside the
// platform; the platform only sees this contract.
type Skill interface {
	Describe() Descriptor
	Run(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// SkillFunc adapts a function to the Skill interface.
type SkillFunc struct {
	desc Descriptor
	fn   func(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// NewSkill wraps a function as a Skill.
func NewSkill(desc Descriptor, fn func(ctx context.Context, params map[string]interface{}) (*Result, error)) *SkillFunc {
	return &SkillFunc{desc: desc, fn: fn}
}

func (s *SkillFunc) Describe() Descriptor { return s.desc }

func (s *SkillFunc) Run(ctx context.Context, params map[string]interface{}) (*Result, error) {
	return s.fn(ctx, params)
}

// CompileParameterSchema compiles a descriptor's JSON Schema once so every
// dispatch can validate without recompiling. A nil schema compiles to nil.
func CompileParameterSchema(name string, schemaBytes json.RawMessage) (*jsonschema.Schema, error) {
	if len(schemaBytes) == 0 {
		return nil, nil
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema for %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", name, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return schema, nil
}

// ValidateParams checks params against a compiled schema. A nil schema
// accepts anything.
func ValidateParams(schema *jsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	// The validator wants plain decoded JSON; params already are, but a
	// round trip normalizes numeric types coming from Go callers.
	raw, err := json.Marshal(params)
	if err != nil {
		return &Error{Op: "skill.ValidateParams", Kind: KindValidation, Err: err}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &Error{Op: "skill.ValidateParams", Kind: KindValidation, Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &Error{Op: "skill.ValidateParams", Kind: KindValidation, Message: err.Error(), Err: err}
	}
	return nil
}
