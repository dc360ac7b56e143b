package backend

import (
	"errors"

	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/pool"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or failed to open.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Device is a compute device that owns image memory and runs kernels.
//
// Devices are registered via Register() and opened via Open() or Default().
type Device interface {
	pool.Allocator
	kernel.Executor

	// Name returns the backend identifier (e.g., "software", "wgpu").
	Name() string

	// Close releases all device resources. Surfaces must be freed first.
	Close()
}
