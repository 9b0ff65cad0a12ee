package fees

import (
	"sort"
	"strings"
	"sync"
)

// ParticipantRegistry is the set of identifiers known to be registered
// network participants. It only decides network-effect discount
// eligibility; production deployments back it with a durable store without
// touching the engine logic.
type ParticipantRegistry interface {
	// Contains reports whether id is a registered participant. Lookups are
	// case-insensitive.
	Contains(id string) bool

	// Add registers id. Entries are never removed automatically.
	Add(id string)

	// All returns the registered identifiers in sorted order.
	All() []string
}

// MemoryRegistry is the process-lifetime, append-only in-memory
// implementation.
type MemoryRegistry struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

func NewMemoryRegistry(seed ...string) *MemoryRegistry {
	r := &MemoryRegistry{members: make(map[string]struct{})}
	for _, id := range seed {
		r.Add(id)
	}
	return r
}

func (r *MemoryRegistry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

func (r *MemoryRegistry) Add(id string) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return
	}
	r.mu.Lock()
	r.members[id] = struct{}{}
	r.mu.Unlock()
}

func (r *MemoryRegistry) All() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}
