// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/atmosphere/backend"
	"github.com/gogpu/atmosphere/internal/logging"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/pool"
)

// Name is the registry name of the GPU device.
const Name = "wgpu"

// Common device errors.
var (
	// ErrUnsupportedFormat is returned for image formats the GPU kernels
	// cannot address. Kernels read and write vec4<f32> texels only.
	ErrUnsupportedFormat = errors.New("wgpu: unsupported image format")

	// ErrForeignSurface is returned for images not allocated by a GPU device.
	ErrForeignSurface = errors.New("wgpu: surface is not a GPU buffer")

	// ErrOutOfMemory is returned by Allocate when MaxBytes would be exceeded.
	ErrOutOfMemory = errors.New("wgpu: out of memory")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("wgpu: device closed")
)

// texelSize is the size of one vec4<f32> texel.
const texelSize = 16

// DefaultTimeout bounds every fence wait.
const DefaultTimeout = 5 * time.Second

// Option configures a Device.
type Option func(*options)

type options struct {
	timeout   time.Duration
	maxBytes  uint64
	reference bool
}

// WithTimeout sets the fence wait timeout for submissions.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxBytes limits the buffer memory the device hands out. Zero is
// unlimited.
func WithMaxBytes(n uint64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithoutReferenceKernels skips compiling the built-in WGSL kernels. Kernels
// must then be installed with RegisterKernel or RegisterSPIRV.
func WithoutReferenceKernels() Option {
	return func(o *options) { o.reference = false }
}

// Buffer is the surface of a GPU image: a storage buffer holding
// Width*Height vec4<f32> texels in row-major order.
type Buffer struct {
	buf  hal.Buffer
	desc pool.Desc
	size uint64
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Desc returns the description the buffer was allocated for.
func (b *Buffer) Desc() pool.Desc { return b.desc }

// Device is the GPU implementation of pool.Allocator and kernel.Executor.
//
// All methods are safe for concurrent use; submissions are serialized.
type Device struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue

	// release tears down what Open created. Nil for shared devices.
	release func()

	kernels map[kernel.ID]*computeKernel
	dummy   hal.Buffer
	live    map[*Buffer]struct{}

	timeout  time.Duration
	maxBytes uint64
	used     uint64
	closed   bool
}

// New creates a device on an existing HAL device and queue. The caller keeps
// ownership of both.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: device and queue are required", backend.ErrBackendNotAvailable)
	}
	o := options{timeout: DefaultTimeout, reference: true}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{
		device:   device,
		queue:    queue,
		kernels:  make(map[kernel.ID]*computeKernel),
		live:     make(map[*Buffer]struct{}),
		timeout:  o.timeout,
		maxBytes: o.maxBytes,
	}

	// Bound in place of absent optional inputs.
	dummy, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "atmos_dummy", Size: texelSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create dummy buffer: %w", err)
	}
	d.dummy = dummy

	if o.reference {
		if err := d.registerReferenceKernels(); err != nil {
			d.Close()
			return nil, err
		}
	}
	logging.Logger().Info("wgpu: device created", "kernels", len(d.kernels), "maxBytes", o.maxBytes)
	return d, nil
}

// NewFromProvider creates a device sharing the host's GPU device.
//
// The provider must also expose HAL access: HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", backend.ErrBackendNotAvailable)
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider does not expose HAL access", backend.ErrBackendNotAvailable)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", backend.ErrBackendNotAvailable)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", backend.ErrBackendNotAvailable)
	}
	return New(device, queue, opts...)
}

// Open creates a device on the first hardware adapter of the registered
// Vulkan HAL backend. The host must link a HAL backend, e.g.
//
//	import _ "github.com/gogpu/wgpu/hal/vulkan"
func Open(opts ...Option) (*Device, error) {
	api, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan HAL backend not linked", backend.ErrBackendNotAvailable)
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no GPU adapters found", backend.ErrBackendNotAvailable)
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d, err := New(openDev.Device, openDev.Queue, opts...)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.release = func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	logging.Logger().Info("wgpu: adapter selected", "name", selected.Info.Name)
	return d, nil
}

// Register makes the GPU device available to backend.Open and
// backend.Default. With a nil provider the factory calls Open; otherwise
// every opened device shares the provider's device.
func Register(provider gpucontext.DeviceProvider, opts ...Option) {
	backend.Register(Name, func() (backend.Device, error) {
		if provider == nil {
			return Open(opts...)
		}
		return NewFromProvider(provider, opts...)
	})
}

// Name returns "wgpu".
func (d *Device) Name() string { return Name }

// Allocate implements pool.Allocator.
func (d *Device) Allocate(desc pool.Desc) (pool.Surface, error) {
	if desc.Format != gputypes.TextureFormatRGBA32Float {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, pool.FormatName(desc.Format))
	}
	//nolint:gosec // G115: dimensions validated positive by the pool
	size := uint64(desc.Width) * uint64(desc.Height) * texelSize

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.maxBytes > 0 && d.used+size > d.maxBytes {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			ErrOutOfMemory, desc, size, d.used, d.maxBytes)
	}

	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "atmos_" + desc.Label, Size: size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer for %s: %w", desc, err)
	}
	b := &Buffer{buf: buf, desc: desc, size: size}
	d.live[b] = struct{}{}
	d.used += size
	return b, nil
}

// Free implements pool.Allocator.
func (d *Device) Free(s pool.Surface) {
	b, ok := s.(*Buffer)
	if !ok {
		logging.Logger().Warn("wgpu: free of foreign surface", "type", fmt.Sprintf("%T", s))
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, live := d.live[b]; !live {
		return
	}
	delete(d.live, b)
	d.used -= b.size
	d.device.DestroyBuffer(b.buf)
}

// UsedBytes returns the buffer memory currently allocated.
func (d *Device) UsedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// Live returns the number of allocated buffers.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Close destroys pipelines and any buffers still allocated. A device created
// by Open also destroys its HAL device.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true

	for id, k := range d.kernels {
		k.destroy(d.device)
		delete(d.kernels, id)
	}
	if len(d.live) > 0 {
		logging.Logger().Warn("wgpu: closing with live buffers", "count", len(d.live))
	}
	for b := range d.live {
		d.device.DestroyBuffer(b.buf)
		delete(d.live, b)
	}
	d.used = 0
	if d.dummy != nil {
		d.device.DestroyBuffer(d.dummy)
		d.dummy = nil
	}
	if d.release != nil {
		d.release()
		d.release = nil
	}
}

// buffer asserts the surface of img back to a live GPU buffer.
// Callers hold d.mu.
func (d *Device) buffer(img *pool.Image) (*Buffer, error) {
	if !img.Valid() {
		return nil, fmt.Errorf("%w: image is not valid", kernel.ErrInvalidOutput)
	}
	b, ok := img.Surface().(*Buffer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrForeignSurface, img.Label())
	}
	if _, live := d.live[b]; !live {
		return nil, fmt.Errorf("%w: %s was freed", ErrForeignSurface, img.Label())
	}
	return b, nil
}
