package software

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/atmosphere/backend"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/params"
	"github.com/gogpu/atmosphere/pool"
)

func rgba(label string, w, h int) pool.Desc {
	return pool.Desc{Label: label, Width: w, Height: h, Format: gputypes.TextureFormatRGBA32Float}
}

func newTestDevice(t *testing.T, opts ...Option) (*Device, *pool.Pool, *kernel.Invoker) {
	t.Helper()
	d := New(append([]Option{WithWorkers(2)}, opts...)...)
	t.Cleanup(d.Close)
	return d, pool.New(d), kernel.NewInvoker(d, nil)
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(Name) {
		t.Fatal("software backend not registered")
	}
	d, err := backend.Open(Name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if d.Name() != Name {
		t.Errorf("Name() = %q", d.Name())
	}
}

func TestAllocateAccounting(t *testing.T) {
	d, p, _ := newTestDevice(t, WithMaxBytes(64*32*16))

	img, err := p.Acquire(rgba("a", 64, 32))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := d.UsedBytes(); got != 64*32*16 {
		t.Errorf("UsedBytes = %d", got)
	}

	_, err = p.Acquire(rgba("b", 8, 8))
	if !errors.Is(err, pool.ErrResourceExhausted) || !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Acquire over device limit = %v, want ErrResourceExhausted wrapping ErrOutOfMemory", err)
	}

	_ = p.Release(img)
	p.Trim()
	if got := d.UsedBytes(); got != 0 {
		t.Errorf("UsedBytes after Trim = %d, want 0", got)
	}
}

func TestAllocateRejectsFormats(t *testing.T) {
	d, p, _ := newTestDevice(t)
	tests := []struct {
		name   string
		format gputypes.TextureFormat
	}{
		{"rgba8", gputypes.TextureFormatRGBA8Unorm},
		{"r32float", gputypes.TextureFormatR32Float},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := pool.Desc{Label: tt.name, Width: 4, Height: 4, Format: tt.format}
			if _, err := d.Allocate(desc); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("Allocate = %v, want ErrUnsupportedFormat", err)
			}
			if _, err := p.Acquire(desc); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("Acquire = %v, want wrapped ErrUnsupportedFormat", err)
			}
			if _, err := d.NewImage(desc); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("NewImage = %v, want ErrUnsupportedFormat", err)
			}
		})
	}
	if got := d.UsedBytes(); got != 0 {
		t.Errorf("UsedBytes = %d after rejected allocations", got)
	}
	if got := p.Stats().UsedBytes; got != 0 {
		t.Errorf("pool UsedBytes = %d after rejected allocations", got)
	}
}

func TestClearAndCopy(t *testing.T) {
	_, p, inv := newTestDevice(t)
	a, _ := p.Acquire(rgba("a", 4, 4))
	b, _ := p.Acquire(rgba("b", 4, 4))

	want := mgl32.Vec4{0.25, 0.5, 0.75, 1}
	if err := inv.Clear(a, want); err != nil {
		t.Fatal(err)
	}
	if err := inv.Copy(b, a); err != nil {
		t.Fatal(err)
	}
	for y := range 4 {
		for x := range 4 {
			if got := Pixel(b, x, y); got != want {
				t.Fatalf("Pixel(%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestDispatchSubregionKernel(t *testing.T) {
	d, p, inv := newTestDevice(t)
	red := mgl32.Vec4{1, 0, 0, 1}
	err := d.RegisterKernel(kernel.Transmittance, func(_ *Context, x, y int) (mgl32.Vec4, bool) {
		return red, x < 2 && y < 2
	})
	if err != nil {
		t.Fatal(err)
	}

	out, _ := p.Acquire(rgba("t", 4, 4))
	Fill(out, mgl32.Vec4{9, 9, 9, 9})
	args := kernel.NewArgs(params.Default(), kernel.DefaultView(4, 4), kernel.DefaultVoxelGrid)
	if err := inv.Run(kernel.Transmittance, args, out, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := Pixel(out, 1, 1); got != red {
		t.Errorf("inside = %v, want %v", got, red)
	}
	if got := Pixel(out, 3, 3); got != (mgl32.Vec4{9, 9, 9, 9}) {
		t.Errorf("outside = %v, want untouched", got)
	}
}

func TestDispatchNotRegistered(t *testing.T) {
	_, p, inv := newTestDevice(t, WithoutReferenceKernels())
	out, _ := p.Acquire(rgba("t", 4, 4))
	args := kernel.NewArgs(nil, kernel.DefaultView(4, 4), kernel.DefaultVoxelGrid)

	if err := inv.Run(kernel.Transmittance, args, out, nil); !errors.Is(err, kernel.ErrNotRegistered) {
		t.Errorf("Run = %v, want ErrNotRegistered", err)
	}
}

func TestRegisterKernelRejects(t *testing.T) {
	d, _, _ := newTestDevice(t)
	if err := d.RegisterKernel("bloom", transmittanceKernel); !errors.Is(err, kernel.ErrUnknownKernel) {
		t.Errorf("RegisterKernel(bloom) = %v, want ErrUnknownKernel", err)
	}
	if err := d.RegisterKernel(kernel.SkyView, nil); err == nil {
		t.Error("RegisterKernel(nil) should fail")
	}
}

func TestForeignSurface(t *testing.T) {
	d, _, _ := newTestDevice(t)
	foreign := pool.Wrap(rgba("x", 2, 2), "not an image")
	if err := d.Clear(foreign, mgl32.Vec4{}); !errors.Is(err, ErrForeignSurface) {
		t.Errorf("Clear(foreign) = %v, want ErrForeignSurface", err)
	}
}

func TestReferenceTransmittance(t *testing.T) {
	_, p, inv := newTestDevice(t)
	out, _ := p.Acquire(rgba(kernel.TransmittanceLUT, 64, 32))
	args := kernel.NewArgs(params.Default(), kernel.DefaultView(8, 8), kernel.DefaultVoxelGrid)
	if err := inv.Run(kernel.Transmittance, args, out, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for y := range 32 {
		for x := range 64 {
			c := Pixel(out, x, y)
			for i := range 3 {
				if c[i] < 0 || c[i] > 1 {
					t.Fatalf("texel (%d,%d) = %v out of [0,1]", x, y, c)
				}
			}
		}
	}

	zenith := Pixel(out, 63, 0)
	horizon := Pixel(out, 32, 0)
	ground := Pixel(out, 0, 0)
	if zenith[2] <= horizon[2] {
		t.Errorf("zenith blue %v should exceed horizon blue %v", zenith[2], horizon[2])
	}
	if ground[0] != 0 {
		t.Errorf("ray into the ground should be fully blocked, got %v", ground)
	}
	if zenith[0] <= zenith[2] {
		t.Errorf("red %v should be transmitted better than blue %v", zenith[0], zenith[2])
	}
}

func TestSample(t *testing.T) {
	d, p, _ := newTestDevice(t)
	src, _ := p.Acquire(rgba("src", 2, 1))
	SetPixel(src, 0, 0, mgl32.Vec4{0, 0, 0, 0})
	SetPixel(src, 1, 0, mgl32.Vec4{1, 1, 1, 1})

	out, _ := d.NewImage(rgba("out", 1, 1))
	ctx, err := newContext(&kernel.Invocation{
		Args:   kernel.NewArgs(nil, kernel.View{}, kernel.VoxelGrid{}),
		Output: out,
		Inputs: map[string]*pool.Image{"src": src},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		u    float32
		want float32
	}{
		{0, 0},
		{0.25, 0},
		{0.5, 0.5},
		{0.75, 1},
		{1, 1},
	}
	for _, tt := range tests {
		if got := ctx.Sample("src", tt.u, 0.5)[0]; mgl32.Abs(got-tt.want) > 1e-6 {
			t.Errorf("Sample(%v) = %v, want %v", tt.u, got, tt.want)
		}
	}
	if got := ctx.Sample("absent", 0.5, 0.5); got != (mgl32.Vec4{}) {
		t.Errorf("Sample(absent) = %v, want zero", got)
	}
}

func TestSampleVolume(t *testing.T) {
	d, p, _ := newTestDevice(t)
	grid := kernel.VoxelGrid{X: 2, Y: 1, Z: 2}
	vol, _ := p.Acquire(rgba("vol", 4, 1))
	// slice 0 is 0, slice 1 is 1
	SetPixel(vol, 2, 0, mgl32.Vec4{1, 1, 1, 1})
	SetPixel(vol, 3, 0, mgl32.Vec4{1, 1, 1, 1})

	out, _ := d.NewImage(rgba("out", 1, 1))
	ctx, _ := newContext(&kernel.Invocation{
		Args:   kernel.NewArgs(nil, kernel.View{}, grid),
		Output: out,
		Inputs: map[string]*pool.Image{"vol": vol},
	})

	if got := ctx.SampleVolume("vol", grid, 0.5, 0.5, 0.25)[0]; got != 0 {
		t.Errorf("slice 0 = %v, want 0", got)
	}
	if got := ctx.SampleVolume("vol", grid, 0.5, 0.5, 0.5)[0]; mgl32.Abs(got-0.5) > 1e-6 {
		t.Errorf("between slices = %v, want 0.5", got)
	}
	if got := ctx.SampleVolume("vol", grid, 0.5, 0.5, 1)[0]; got != 1 {
		t.Errorf("slice 1 = %v, want 1", got)
	}
}
