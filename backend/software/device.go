// Package software is the CPU device: it allocates float32 RGBA surfaces and
// runs kernels row-parallel on a worker pool.
//
// Every surface is an *exr.RGBAImage, so tables can be written straight to
// OpenEXR files. Only RGBA32Float images are accepted. Reference kernels for
// every kernel ID are registered by New; RegisterKernel replaces them.
package software

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"
	"github.com/mrjoshuak/go-openexr/exr"

	"github.com/gogpu/atmosphere/backend"
	"github.com/gogpu/atmosphere/internal/logging"
	"github.com/gogpu/atmosphere/internal/parallel"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/pool"
)

// Name is the registry name of the software device.
const Name = "software"

func init() {
	backend.Register(Name, func() (backend.Device, error) {
		return New(), nil
	})
}

// ErrOutOfMemory is returned by Allocate when MaxBytes would be exceeded.
var ErrOutOfMemory = errors.New("software: out of memory")

// ErrUnsupportedFormat is returned for formats other than RGBA32Float.
var ErrUnsupportedFormat = errors.New("software: unsupported image format")

// ErrForeignSurface is returned for images not allocated by a software
// device.
var ErrForeignSurface = errors.New("software: surface is not an RGBA float image")

// KernelFunc computes one output texel. Returning false leaves the texel
// untouched.
type KernelFunc func(c *Context, x, y int) (mgl32.Vec4, bool)

// Option configures a Device.
type Option func(*options)

type options struct {
	workers   int
	maxBytes  uint64
	band      int
	reference bool
}

// WithWorkers sets the number of worker goroutines. Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithMaxBytes limits the memory the device hands out. Zero is unlimited.
func WithMaxBytes(n uint64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithRowBand sets the number of rows per parallel task.
func WithRowBand(rows int) Option {
	return func(o *options) { o.band = rows }
}

// WithoutReferenceKernels starts the device with no kernels registered.
func WithoutReferenceKernels() Option {
	return func(o *options) { o.reference = false }
}

// Device is the CPU implementation of pool.Allocator and kernel.Executor.
type Device struct {
	mu      sync.RWMutex
	kernels map[kernel.ID]KernelFunc

	workers *parallel.Workers
	band    int

	memMu    sync.Mutex
	maxBytes uint64
	used     uint64
}

// New creates a software device.
func New(opts ...Option) *Device {
	o := options{reference: true}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{
		kernels:  make(map[kernel.ID]KernelFunc),
		workers:  parallel.New(o.workers),
		band:     o.band,
		maxBytes: o.maxBytes,
	}
	if o.reference {
		for id, fn := range referenceKernels() {
			d.kernels[id] = fn
		}
	}
	logging.Logger().Info("software: device created", "workers", d.workers.Size(), "maxBytes", o.maxBytes)
	return d
}

// Name returns "software".
func (d *Device) Name() string { return Name }

// RegisterKernel installs fn for id, replacing any earlier implementation.
func (d *Device) RegisterKernel(id kernel.ID, fn KernelFunc) error {
	if _, err := kernel.SignatureOf(id); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("software: nil kernel for %s", id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[id] = fn
	return nil
}

// Allocate implements pool.Allocator.
func (d *Device) Allocate(desc pool.Desc) (pool.Surface, error) {
	if err := checkFormat(desc); err != nil {
		return nil, err
	}
	size := desc.SizeBytes()

	d.memMu.Lock()
	defer d.memMu.Unlock()
	if d.maxBytes > 0 && d.used+size > d.maxBytes {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			ErrOutOfMemory, desc, size, d.used, d.maxBytes)
	}
	d.used += size
	return exr.NewRGBAImage(image.Rect(0, 0, desc.Width, desc.Height)), nil
}

func checkFormat(desc pool.Desc) error {
	if desc.Format != gputypes.TextureFormatRGBA32Float {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, pool.FormatName(desc.Format))
	}
	return nil
}

// Free implements pool.Allocator.
func (d *Device) Free(surface pool.Surface) {
	img, ok := surface.(*exr.RGBAImage)
	if !ok {
		return
	}
	//nolint:gosec // G115: length of an allocated slice
	size := uint64(len(img.Pix)) * 4

	d.memMu.Lock()
	defer d.memMu.Unlock()
	d.used -= min(size, d.used)
}

// UsedBytes returns the memory currently allocated.
func (d *Device) UsedBytes() uint64 {
	d.memMu.Lock()
	defer d.memMu.Unlock()
	return d.used
}

// Dispatch implements kernel.Executor.
func (d *Device) Dispatch(inv *kernel.Invocation) error {
	d.mu.RLock()
	fn, ok := d.kernels[inv.Kernel.ID]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", kernel.ErrNotRegistered, inv.Kernel.ID)
	}

	out, err := Surface(inv.Output)
	if err != nil {
		return err
	}
	ctx, err := newContext(inv)
	if err != nil {
		return err
	}

	w := inv.Output.Width()
	d.workers.Rows(inv.Output.Height(), d.band, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := range w {
				if c, ok := fn(ctx, x, y); ok {
					out.SetRGBA(x, y, c[0], c[1], c[2], c[3])
				}
			}
		}
	})
	return nil
}

// Clear implements kernel.Executor.
func (d *Device) Clear(img *pool.Image, color mgl32.Vec4) error {
	s, err := Surface(img)
	if err != nil {
		return err
	}
	for i := 0; i+3 < len(s.Pix); i += 4 {
		s.Pix[i+0] = color[0]
		s.Pix[i+1] = color[1]
		s.Pix[i+2] = color[2]
		s.Pix[i+3] = color[3]
	}
	return nil
}

// Copy implements kernel.Executor.
func (d *Device) Copy(dst, src *pool.Image) error {
	ds, err := Surface(dst)
	if err != nil {
		return err
	}
	ss, err := Surface(src)
	if err != nil {
		return err
	}
	if len(ds.Pix) != len(ss.Pix) {
		return fmt.Errorf("software: copy size mismatch: %d != %d", len(ds.Pix), len(ss.Pix))
	}
	copy(ds.Pix, ss.Pix)
	return nil
}

// Close stops the worker goroutines.
func (d *Device) Close() {
	d.workers.Close()
}

// NewImage returns an unpooled image with fresh device memory, for host
// owned buffers such as the frame color.
func (d *Device) NewImage(desc pool.Desc) (*pool.Image, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if err := checkFormat(desc); err != nil {
		return nil, err
	}
	return pool.Wrap(desc, exr.NewRGBAImage(image.Rect(0, 0, desc.Width, desc.Height))), nil
}

// Surface returns the float image behind img.
func Surface(img *pool.Image) (*exr.RGBAImage, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrForeignSurface)
	}
	s, ok := img.Surface().(*exr.RGBAImage)
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: %s", ErrForeignSurface, img.Desc())
	}
	return s, nil
}

// Pixel returns the texel at (x, y), or zero outside the image.
func Pixel(img *pool.Image, x, y int) mgl32.Vec4 {
	s, err := Surface(img)
	if err != nil {
		return mgl32.Vec4{}
	}
	r, g, b, a := s.RGBA(x, y)
	return mgl32.Vec4{r, g, b, a}
}

// SetPixel writes the texel at (x, y).
func SetPixel(img *pool.Image, x, y int, c mgl32.Vec4) {
	if s, err := Surface(img); err == nil {
		s.SetRGBA(x, y, c[0], c[1], c[2], c[3])
	}
}

// Fill sets every texel of img to c.
func Fill(img *pool.Image, c mgl32.Vec4) {
	if s, err := Surface(img); err == nil {
		for y := range s.Rect.Dy() {
			for x := range s.Rect.Dx() {
				s.SetRGBA(x, y, c[0], c[1], c[2], c[3])
			}
		}
	}
}
