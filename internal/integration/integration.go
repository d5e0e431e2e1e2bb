// Package integration is the catalog of built-in integrations. Each
// integration registers its platform setup function from an init func, the
// same way database/sql drivers do, and the master actor looks them up by
// the name used in the platforms configuration.
package integration

import (
	"fmt"
	"sort"
	"sync"

	"hearthd/internal/core/platform"
)

var (
	mu      sync.RWMutex
	catalog = make(map[string]platform.SetupFunc)
)

// Register makes a platform setup function available under the given
// integration name. It panics when called twice with the same name.
func Register(name string, setup platform.SetupFunc) {
	mu.Lock()
	defer mu.Unlock()
	if setup == nil {
		panic("integration: Register setup is nil")
	}
	if _, dup := catalog[name]; dup {
		panic(fmt.Sprintf("integration: Register called twice for %s", name))
	}
	catalog[name] = setup
}

func Lookup(name string) (platform.SetupFunc, error) {
	mu.RLock()
	defer mu.RUnlock()
	setup, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("unknown integration %q (available: %v)", name, namesLocked())
	}
	return setup, nil
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
