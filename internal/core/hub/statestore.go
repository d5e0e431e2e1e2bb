package hub

import (
	"sync"
	"time"

	"hearthd/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
)

// StateStore holds the last published state of every live entity and fans
// updates out on the hub event stream.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]domain.State
	events *eventstream.EventStream
}

func newStateStore(events *eventstream.EventStream) *StateStore {
	return &StateStore{
		states: make(map[string]domain.State),
		events: events,
	}
}

// Set publishes a state for entityID.
func (s *StateStore) Set(entityID string, state domain.State) {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	s.states[entityID] = state
	s.mu.Unlock()
	s.events.Publish(domain.EntityStateEvent{EntityID: entityID, State: state})
}

// Remove drops the published state for entityID, if any.
func (s *StateStore) Remove(entityID string) {
	s.mu.Lock()
	_, ok := s.states[entityID]
	delete(s.states, entityID)
	s.mu.Unlock()
	if ok {
		s.events.Publish(domain.EntityRemovedEvent{EntityID: entityID})
	}
}

func (s *StateStore) Get(entityID string) (domain.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[entityID]
	return st, ok
}

// All returns a copy of the current state map.
func (s *StateStore) All() map[string]domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.State, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}
