package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SafetyProfile controls which skills the registry will serve.
type SafetyProfile string

const (
	ProfileStrict SafetyProfile = "strict"
	ProfileNormal SafetyProfile = "normal"
	ProfileDev    SafetyProfile = "dev"
)

// SkillFilter narrows List results.
type SkillFilter struct {
	Category  SkillCategory
	Dangerous *bool
}

// RegistryStats summarizes the registry for the status endpoint.
type RegistryStats struct {
	Total      int                   `json:"total"`
	Suppressed int                   `json:"suppressed"`
	ByCategory map[SkillCategory]int `json:"by_category"`
}

type registryEntry struct {
	skill      Skill
	desc       Descriptor
	schema     *jsonschema.Schema
	suppressed bool
}

// SkillRegistry maps skill names to capabilities. Registration takes the
// writer lock; lookups read an immutable snapshot so they never contend
// with registration.
type SkillRegistry struct {
	mu       sync.Mutex
	snapshot map[string]*registryEntry // replaced wholesale on write
	profile  SafetyProfile
	logger   Logger
}

// NewSkillRegistry creates a registry enforcing the given safety profile.
func NewSkillRegistry(profile SafetyProfile, logger Logger) *SkillRegistry {
	if profile == "" {
		profile = ProfileNormal
	}
	return &SkillRegistry{
		snapshot: make(map[string]*registryEntry),
		profile:  profile,
		logger:   ScopedLogger(logger, "core/registry"),
	}
}

// Register adds a skill. Registering the exact same descriptor twice is a
// no-op; a conflicting descriptor under the same name fails with Conflict.
// Under the strict profile, dangerous skills are registered but suppressed:
// they show up in stats yet Lookup refuses to serve them.
func (r *SkillRegistry) Register(skill Skill) error {
	desc := skill.Describe()
	if desc.Name == "" {
		return &Error{Op: "registry.Register", Kind: KindValidation, Message: "skill name is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.snapshot[desc.Name]; ok {
		if existing.desc.Equal(desc) {
			return nil
		}
		return &Error{Op: "registry.Register", Kind: KindConflict, ID: desc.Name, Err: ErrDescriptorConflict}
	}

	schema, err := CompileParameterSchema(desc.Name, desc.ParameterSchema)
	if err != nil {
		return &Error{Op: "registry.Register", Kind: KindValidation, ID: desc.Name, Err: err}
	}

	suppressed := desc.Dangerous && r.profile == ProfileStrict

	next := make(map[string]*registryEntry, len(r.snapshot)+1)
	for k, v := range r.snapshot {
		next[k] = v
	}
	next[desc.Name] = &registryEntry{skill: skill, desc: desc, schema: schema, suppressed: suppressed}
	r.snapshot = next

	r.logger.Info("Registered skill", map[string]interface{}{
		"name":       desc.Name,
		"category":   desc.Category,
		"dangerous":  desc.Dangerous,
		"suppressed": suppressed,
		"has_schema": schema != nil,
	})
	return nil
}

// Lookup resolves a skill by name. Unknown and suppressed skills both fail
// with NotFound so callers cannot distinguish a disabled dangerous skill
// from an absent one.
func (r *SkillRegistry) Lookup(name string) (Skill, error) {
	entry, ok := r.current()[name]
	if !ok {
		return nil, &Error{Op: "registry.Lookup", Kind: KindNotFound, ID: name, Err: ErrSkillNotFound}
	}
	if entry.suppressed {
		return nil, &Error{Op: "registry.Lookup", Kind: KindNotFound, ID: name, Err: ErrSkillSuppressed}
	}
	return entry.skill, nil
}

// Describe returns the descriptor for a registered skill, suppressed or not.
func (r *SkillRegistry) Describe(name string) (Descriptor, error) {
	entry, ok := r.current()[name]
	if !ok {
		return Descriptor{}, &Error{Op: "registry.Describe", Kind: KindNotFound, ID: name, Err: ErrSkillNotFound}
	}
	return entry.desc, nil
}

// ValidateParams validates call params against the skill's compiled schema.
func (r *SkillRegistry) ValidateParams(name string, params map[string]interface{}) error {
	entry, ok := r.current()[name]
	if !ok {
		return &Error{Op: "registry.ValidateParams", Kind: KindNotFound, ID: name, Err: ErrSkillNotFound}
	}
	return ValidateParams(entry.schema, params)
}

// List returns descriptors matching the filter, sorted by name. Suppressed
// skills are excluded.
func (r *SkillRegistry) List(filter SkillFilter) []Descriptor {
	snap := r.current()
	out := make([]Descriptor, 0, len(snap))
	for _, entry := range snap {
		if entry.suppressed {
			continue
		}
		if filter.Category != "" && entry.desc.Category != filter.Category {
			continue
		}
		if filter.Dangerous != nil && entry.desc.Dangerous != *filter.Dangerous {
			continue
		}
		out = append(out, entry.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats reports registry totals including suppressed skills.
func (r *SkillRegistry) Stats() RegistryStats {
	snap := r.current()
	stats := RegistryStats{ByCategory: make(map[SkillCategory]int)}
	for _, entry := range snap {
		stats.Total++
		if entry.suppressed {
			stats.Suppressed++
			continue
		}
		stats.ByCategory[entry.desc.Category]++
	}
	return stats
}

// Profile returns the active safety profile.
func (r *SkillRegistry) Profile() SafetyProfile { return r.profile }

func (r *SkillRegistry) current() map[string]*registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// ParseSafetyProfile maps the SAFETY_PROFILE env value, failing on unknowns
// so a typo cannot silently weaken the danger policy.
func ParseSafetyProfile(s string) (SafetyProfile, error) {
	switch SafetyProfile(s) {
	case ProfileStrict, ProfileNormal, ProfileDev:
		return SafetyProfile(s), nil
	case "":
		return ProfileNormal, nil
	default:
		return "", fmt.Errorf("unknown safety profile %q: %w", s, ErrInvalidConfiguration)
	}
}
