package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/atmosphere/internal/logging"
)

// Factory opens a new device.
type Factory func() (Device, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for Default (first that opens wins).
	backendPriority = []string{"wgpu", "software"}
)

// Register registers a device factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens the named backend.
func Open(name string) (Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrBackendNotAvailable, name)
	}
	d, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendNotAvailable, name, err)
	}
	logging.Logger().Info("backend: opened", "name", d.Name())
	return d, nil
}

// Default opens the best available backend: a registered GPU device first,
// then the software device.
func Default() (Device, error) {
	for _, name := range backendPriority {
		if !IsRegistered(name) {
			continue
		}
		d, err := Open(name)
		if err == nil {
			return d, nil
		}
		logging.Logger().Warn("backend: open failed, trying next", "name", name, "err", err)
	}

	for _, name := range Available() {
		if d, err := Open(name); err == nil {
			return d, nil
		}
	}
	return nil, ErrBackendNotAvailable
}
