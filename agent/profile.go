package agent

import (
	"fmt"
	"sync"
	"time"
)

// Capability is a declared skill tag an agent advertises. The
// coordinator routes requests to agents by matching required
// capabilities against advertised ones.
type Capability string

const (
	CapabilityReasoning     Capability = "reasoning"
	CapabilityToolCalling   Capability = "tool_calling"
	CapabilityMemory        Capability = "memory"
	CapabilityPrivacy       Capability = "privacy"
	CapabilitySearch        Capability = "search"
	CapabilityCodeExecution Capability = "code_execution"
	CapabilityMath          Capability = "math"
	CapabilityWeather       Capability = "weather"
	CapabilityResearch      Capability = "research"
)

// Role identifies an agent's function in the system.
type Role string

const (
	RoleCoordinator     Role = "coordinator"
	RoleReasoner        Role = "reasoner"
	RoleToolExecutor    Role = "tool_executor"
	RoleMemoryManager   Role = "memory_manager"
	RolePrivacyGuardian Role = "privacy_guardian"
	RoleResearcher      Role = "researcher"
	RoleCalculator      Role = "calculator"
	RoleCoder           Role = "coder"
)

// Profile describes one agent to the rest of the system.
type Profile struct {
	ID           string
	Name         string
	Role         Role
	Capabilities []Capability
	Active       bool
	CreatedAt    time.Time
	LastActivity time.Time
}

// Has reports whether the profile advertises c.
func (p Profile) Has(c Capability) bool {
	for _, cap := range p.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// Registry maps agent ids to profiles and supports lookup by role,
// capability and active status. It is owned by the coordinator; other
// agents interact with it only through messages.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Profile
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Profile)}
}

// Register adds a profile. Registering a duplicate id is rejected; the
// existing profile is never silently overwritten.
func (r *Registry) Register(p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[p.ID]; exists {
		return fmt.Errorf("register agent %s: %w", p.ID, ErrDuplicateAgent)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	r.agents[p.ID] = p
	return nil
}

// Unregister removes the profile for id.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[id]; !exists {
		return fmt.Errorf("unregister agent %s: %w", id, ErrAgentNotFound)
	}
	delete(r.agents, id)
	return nil
}

// Get returns the profile for id.
func (r *Registry) Get(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.agents[id]
	return p, ok
}

// Touch updates the last-activity timestamp for id.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.agents[id]; ok {
		p.LastActivity = time.Now()
		r.agents[id] = p
	}
}

// SetActive flips the active flag for id.
func (r *Registry) SetActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.agents[id]; ok {
		p.Active = active
		r.agents[id] = p
	}
}

// ByRole returns all profiles with the given role.
func (r *Registry) ByRole(role Role) []Profile {
	return r.filter(func(p Profile) bool { return p.Role == role })
}

// ByCapability returns all profiles advertising c.
func (r *Registry) ByCapability(c Capability) []Profile {
	return r.filter(func(p Profile) bool { return p.Has(c) })
}

// Active returns all profiles marked active.
func (r *Registry) Active() []Profile {
	return r.filter(func(p Profile) bool { return p.Active })
}

// List returns every registered profile.
func (r *Registry) List() []Profile {
	return r.filter(func(Profile) bool { return true })
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) filter(keep func(Profile) bool) []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.agents))
	for _, p := range r.agents {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
