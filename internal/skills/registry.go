package skills

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/quaestor/internal/interfaces"
)

// Registry maps skill ids to implementations. Portals name their skill in
// configuration; an unknown id is a configuration error at load time, not
// a runtime fallback.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]interfaces.PortalSkill
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		skills: make(map[string]interfaces.PortalSkill),
	}
}

// Register adds a skill under its own id. Duplicate registration is a
// wiring bug, not a runtime condition.
func (r *Registry) Register(skill interfaces.PortalSkill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[skill.ID()]; exists {
		return fmt.Errorf("skill %q already registered", skill.ID())
	}
	r.skills[skill.ID()] = skill
	return nil
}

// Get returns the skill registered under id
func (r *Registry) Get(id string) (interfaces.PortalSkill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skill, ok := r.skills[id]
	if !ok {
		return nil, fmt.Errorf("no skill registered for id %q", id)
	}
	return skill, nil
}

// IDs returns the registered skill ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.skills))
	for id := range r.skills {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ interfaces.SkillRegistry = (*Registry)(nil)
