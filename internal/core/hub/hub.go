package hub

import (
	"sort"
	"sync"

	"hearthd/internal/registry"

	"github.com/asynkron/protoactor-go/eventstream"
)

// Hub is the shared handle passed to integrations and platform coordinators:
// the entity registry, the entity state store, the event stream and the set
// of loaded (domain, platform) components.
type Hub struct {
	registry *registry.Registry
	states   *StateStore
	events   *eventstream.EventStream

	mu         sync.RWMutex
	components map[string]struct{}
}

func New(reg *registry.Registry) *Hub {
	events := &eventstream.EventStream{}
	return &Hub{
		registry:   reg,
		states:     newStateStore(events),
		events:     events,
		components: make(map[string]struct{}),
	}
}

func (h *Hub) Registry() *registry.Registry     { return h.registry }
func (h *Hub) States() *StateStore              { return h.states }
func (h *Hub) Events() *eventstream.EventStream { return h.events }

// MarkLoaded records that a platform finished setup.
func (h *Hub) MarkLoaded(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[component] = struct{}{}
}

func (h *Hub) IsLoaded(component string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.components[component]
	return ok
}

func (h *Hub) Components() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.components))
	for c := range h.components {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
