package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/pool"
)

type stubDevice struct{ name string }

func (d *stubDevice) Allocate(pool.Desc) (pool.Surface, error) { return d, nil }
func (d *stubDevice) Free(pool.Surface)                        {}
func (d *stubDevice) Dispatch(*kernel.Invocation) error        { return nil }
func (d *stubDevice) Clear(*pool.Image, mgl32.Vec4) error      { return nil }
func (d *stubDevice) Copy(_, _ *pool.Image) error              { return nil }
func (d *stubDevice) Name() string                             { return d.name }
func (d *stubDevice) Close()                                   {}

func withRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = make(map[string]Factory)
	registryMu.Unlock()

	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

func TestRegisterAndOpen(t *testing.T) {
	withRegistry(t)

	Register("stub", func() (Device, error) { return &stubDevice{name: "stub"}, nil })
	if !IsRegistered("stub") {
		t.Fatal("stub not registered")
	}
	if got := Available(); !slices.Equal(got, []string{"stub"}) {
		t.Errorf("Available() = %v", got)
	}

	d, err := Open("stub")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.Name() != "stub" {
		t.Errorf("Name() = %q", d.Name())
	}

	Unregister("stub")
	if _, err := Open("stub"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(unregistered) = %v, want ErrBackendNotAvailable", err)
	}
}

func TestDefaultPriority(t *testing.T) {
	withRegistry(t)

	Register("software", func() (Device, error) { return &stubDevice{name: "software"}, nil })
	Register("wgpu", func() (Device, error) { return nil, errors.New("no adapter") })

	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.Name() != "software" {
		t.Errorf("Default() = %q, want fallback to software", d.Name())
	}

	Register("wgpu", func() (Device, error) { return &stubDevice{name: "wgpu"}, nil })
	d, _ = Default()
	if d.Name() != "wgpu" {
		t.Errorf("Default() = %q, want wgpu first", d.Name())
	}
}

func TestDefaultEmpty(t *testing.T) {
	withRegistry(t)
	if _, err := Default(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Default() = %v, want ErrBackendNotAvailable", err)
	}
}
