package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const registryFileName = "entity_registry.json"

// Entry maps (domain, platform, unique_id) to the assigned entity id.
type Entry struct {
	EntityID string `json:"entity_id"`
	Domain   string `json:"domain"`
	Platform string `json:"platform"`
	UniqueID string `json:"unique_id"`
	Name     string `json:"name,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

type registryFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Registry owns the persistent unique-id to entity-id mapping shared by all
// platforms. Individual calls are atomic; callers hold no lock across calls.
type Registry struct {
	mu         sync.RWMutex
	path       string
	entries    map[string]*Entry
	byEntityID map[string]*Entry
	listeners  map[int]func(Entry)
	nextSub    int
	logger     *zap.Logger
}

// Load opens the registry stored under dataDir, creating an empty one if no
// file exists yet.
func Load(dataDir string, logger *zap.Logger) (*Registry, error) {
	r := NewInMemory(logger)
	r.path = filepath.Join(dataDir, registryFileName)

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", r.path, err)
	}
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", r.path, err)
	}
	for i := range file.Entries {
		e := file.Entries[i]
		r.entries[uniqueKey(e.Domain, e.Platform, e.UniqueID)] = &e
		r.byEntityID[e.EntityID] = &e
	}
	r.logger.Debug("registry loaded", zap.Int("entries", len(file.Entries)))
	return r, nil
}

// NewInMemory creates a registry without a backing file. Used by tests and
// by hubs running with persistence disabled.
func NewInMemory(logger *zap.Logger) *Registry {
	return &Registry{
		entries:    make(map[string]*Entry),
		byEntityID: make(map[string]*Entry),
		listeners:  make(map[int]func(Entry)),
		logger:     logger.Named("registry"),
	}
}

type GetOrCreateOptions struct {
	// SuggestedObjectID seeds entity id generation for new entries.
	SuggestedObjectID string
	Name              string
	DisabledByDefault bool
	// KnownIDs are entity ids the caller already holds live; generation
	// avoids them in addition to registered ids.
	KnownIDs map[string]struct{}
}

// GetOrCreate resolves the registry entry for (domain, platform, uniqueID),
// creating one with a freshly generated entity id if none exists. Repeated
// calls with the same key return the same entry.
func (r *Registry) GetOrCreate(domain, platform, uniqueID string, opts GetOrCreateOptions) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := uniqueKey(domain, platform, uniqueID)
	if e, ok := r.entries[key]; ok {
		return *e
	}

	suggestion := opts.SuggestedObjectID
	if suggestion == "" {
		suggestion = opts.Name
	}
	e := &Entry{
		EntityID: r.generateLocked(domain, suggestion, opts.KnownIDs),
		Domain:   domain,
		Platform: platform,
		UniqueID: uniqueID,
		Name:     opts.Name,
		Disabled: opts.DisabledByDefault,
	}
	r.entries[key] = e
	r.byEntityID[e.EntityID] = e
	r.saveLocked()
	r.logger.Debug("registry entry created",
		zap.String("entity_id", e.EntityID),
		zap.String("platform", platform),
		zap.String("unique_id", uniqueID))
	return *e
}

// GetEntityID returns the entity id registered for (domain, platform,
// uniqueID), if any.
func (r *Registry) GetEntityID(domain, platform, uniqueID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[uniqueKey(domain, platform, uniqueID)]; ok {
		return e.EntityID, true
	}
	return "", false
}

// IsRegistered reports whether entityID is owned by some registry entry.
func (r *Registry) IsRegistered(entityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byEntityID[entityID]
	return ok
}

// GenerateEntityID returns an unused entity id for domain derived from the
// suggested name, avoiding both registered ids and the taken set.
func (r *Registry) GenerateEntityID(domain, suggestedName string, taken map[string]struct{}) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generateLocked(domain, suggestedName, taken)
}

func (r *Registry) generateLocked(domain, suggestedName string, taken map[string]struct{}) string {
	object := Slugify(suggestedName)
	if object == "" {
		object = Slugify("unnamed device")
	}
	id := entityID(domain, object)
	for i := 2; r.idTakenLocked(id, taken); i++ {
		id = entityID(domain, fmt.Sprintf("%s_%d", object, i))
	}
	return id
}

func (r *Registry) idTakenLocked(id string, taken map[string]struct{}) bool {
	if _, ok := r.byEntityID[id]; ok {
		return true
	}
	_, ok := taken[id]
	return ok
}

// SetDisabled flips the disabled flag of an entry and notifies listeners.
func (r *Registry) SetDisabled(entityID string, disabled bool) error {
	r.mu.Lock()
	e, ok := r.byEntityID[entityID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: unknown entity id %s", entityID)
	}
	e.Disabled = disabled
	updated := *e
	listeners := make([]func(Entry), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.saveLocked()
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(updated)
	}
	return nil
}

// Subscribe registers a listener for entry updates. The returned function
// removes it.
func (r *Registry) Subscribe(fn func(Entry)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Entries returns a snapshot of all entries.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

func (r *Registry) saveLocked() {
	if r.path == "" {
		return
	}
	file := registryFile{Version: 1, Entries: make([]Entry, 0, len(r.entries))}
	for _, e := range r.entries {
		file.Entries = append(file.Entries, *e)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		r.logger.Error("registry marshal failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		r.logger.Error("registry save failed", zap.String("path", r.path), zap.Error(err))
	}
}

func uniqueKey(domain, platform, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s", domain, platform, uniqueID)
}
