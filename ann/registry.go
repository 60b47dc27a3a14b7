package ann

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vexdb/vexdb/core"
)

// DefaultBackendName is the always-available fallback backend.
const DefaultBackendName = "brute_force"

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a factory under name. Duplicate registration fails with
// core.ErrAlreadyRegistered.
//
// Backend implementations typically call this from an init() function.
func Register(name string, factory Factory) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		return fmt.Errorf("%w: %q", core.ErrAlreadyRegistered, name)
	}
	registry[name] = factory
	return nil
}

// MustRegister is Register, panicking on error. Meant for init() use.
func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names returns the sorted list of registered backend names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
