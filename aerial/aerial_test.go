package aerial_test

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/atmosphere/aerial"
	"github.com/gogpu/atmosphere/backend/software"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/lut"
	"github.com/gogpu/atmosphere/params"
	"github.com/gogpu/atmosphere/pool"
)

const width, height = 16, 8

type rig struct {
	dev   *software.Device
	pool  *pool.Pool
	inv   *kernel.Invoker
	pipe  *lut.Pipeline
	pass  *aerial.Pass
	color *pool.Image
}

func newRig(t *testing.T) *rig {
	t.Helper()
	dev := software.New(software.WithWorkers(2))
	t.Cleanup(dev.Close)
	p := pool.New(dev)
	inv := kernel.NewInvoker(dev, nil)
	color, err := dev.NewImage(pool.Desc{Label: "color", Width: width, Height: height, Format: gputypes.TextureFormatRGBA32Float})
	if err != nil {
		t.Fatal(err)
	}
	software.Fill(color, mgl32.Vec4{0.2, 0.4, 0.6, 1})
	return &rig{
		dev:   dev,
		pool:  p,
		inv:   inv,
		pipe:  lut.New(p, inv, nil),
		pass:  aerial.New(p, inv),
		color: color,
	}
}

func (r *rig) run(t *testing.T, aerialOn bool) *lut.Frame {
	t.Helper()
	s := params.DefaultSettings()
	s.MultiScatter = false
	s.AerialPerspective = aerialOn
	f, err := r.pipe.Run(kernel.DefaultView(width, height), params.New(s))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func snapshot(img *pool.Image) []mgl32.Vec4 {
	out := make([]mgl32.Vec4, 0, width*height)
	for y := range height {
		for x := range width {
			out = append(out, software.Pixel(img, x, y))
		}
	}
	return out
}

func TestApplyDisabledIsNoop(t *testing.T) {
	r := newRig(t)
	f := r.run(t, false)
	before := snapshot(r.color)

	if err := r.pass.Apply(f, r.color); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	after := snapshot(r.color)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("pixel %d changed from %v to %v", i, before[i], after[i])
		}
	}
	if r.pass.Skipped() != 1 || r.pass.Applied() != 0 {
		t.Errorf("skipped=%d applied=%d", r.pass.Skipped(), r.pass.Applied())
	}
	if s := r.pool.Stats(); s.Acquires != 2 {
		t.Errorf("disabled pass acquired scratch: %s", s)
	}
}

func TestApplyReadsVolume(t *testing.T) {
	r := newRig(t)
	f := r.run(t, true)
	before := snapshot(r.color)

	if err := r.pass.Apply(f, r.color); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	changed := false
	for i, c := range snapshot(r.color) {
		if c != before[i] {
			changed = true
		}
		if c[3] != 1 {
			t.Fatalf("alpha of pixel %d = %v, want 1", i, c[3])
		}
	}
	if !changed {
		t.Error("aerial perspective left the frame unchanged")
	}

	s := r.pool.Stats()
	// transmittance, sky-view, volume and the scratch copy.
	if s.Acquires != 4 || s.Leased != 3 {
		t.Errorf("pool = %s, want scratch released", s)
	}
}

func TestApplyTwiceOverApplies(t *testing.T) {
	r := newRig(t)
	f := r.run(t, true)

	if err := r.pass.Apply(f, r.color); err != nil {
		t.Fatal(err)
	}
	once := snapshot(r.color)
	if err := r.pass.Apply(f, r.color); err != nil {
		t.Fatal(err)
	}
	twice := snapshot(r.color)

	// Reference: one application to a fresh color buffer.
	fresh, _ := r.dev.NewImage(r.color.Desc())
	software.Fill(fresh, mgl32.Vec4{0.2, 0.4, 0.6, 1})
	if err := r.pass.Apply(f, fresh); err != nil {
		t.Fatal(err)
	}
	single := snapshot(fresh)

	differs := false
	for i := range once {
		if single[i] != once[i] {
			t.Fatalf("pixel %d: single application not reproducible: %v vs %v", i, single[i], once[i])
		}
		if twice[i] != once[i] {
			differs = true
		}
	}
	if !differs {
		t.Error("second application should change the frame again")
	}
	if r.pass.Applied() != 3 {
		t.Errorf("Applied() = %d, want 3", r.pass.Applied())
	}
}

func TestApplyUsesSceneDepth(t *testing.T) {
	r := newRig(t)
	f := r.run(t, true)

	depth, _ := r.pool.Acquire(pool.Desc{Label: kernel.SceneDepth, Width: width, Height: height, Format: gputypes.TextureFormatRGBA32Float})
	defer r.pool.Release(depth)
	software.Fill(depth, mgl32.Vec4{1, 0, 0, 0}) // one meter away everywhere
	r.inv.Bindings().Publish(kernel.SceneDepth, depth)
	defer r.inv.Bindings().Unbind(kernel.SceneDepth)

	near, _ := r.dev.NewImage(r.color.Desc())
	software.Fill(near, mgl32.Vec4{0.2, 0.4, 0.6, 1})
	if err := r.pass.Apply(f, near); err != nil {
		t.Fatal(err)
	}
	r.inv.Bindings().Unbind(kernel.SceneDepth)
	if err := r.pass.Apply(f, r.color); err != nil {
		t.Fatal(err)
	}

	orig := mgl32.Vec4{0.2, 0.4, 0.6, 1}
	n := software.Pixel(near, width/2, height/2)
	far := software.Pixel(r.color, width/2, height/2)
	if n.Sub(orig).Len() >= far.Sub(orig).Len() {
		t.Errorf("near geometry fogged more than far: near %v far %v", n, far)
	}
}

func TestApplyErrors(t *testing.T) {
	r := newRig(t)

	if err := r.pass.Apply(nil, r.color); !errors.Is(err, aerial.ErrNoFrame) {
		t.Errorf("Apply(nil frame) = %v, want ErrNoFrame", err)
	}

	f := r.run(t, true)
	if err := r.pass.Apply(f, nil); !errors.Is(err, kernel.ErrInvalidOutput) {
		t.Errorf("Apply(nil color) = %v, want ErrInvalidOutput", err)
	}

	// Volume unbound behind the frame's back: caught before the kernel runs.
	vol, _ := f.Lookup(kernel.AerialVolume)
	r.inv.Bindings().Unbind(kernel.AerialVolume)
	err := r.pass.Apply(f, r.color)
	if !errors.Is(err, kernel.ErrMissingDependency) {
		t.Errorf("Apply without volume = %v, want ErrMissingDependency", err)
	}
	if s := r.pool.Stats(); s.Leased != 3 {
		t.Errorf("scratch leaked on error: %s", s)
	}
	r.inv.Bindings().Publish(kernel.AerialVolume, vol)

	_ = f.Close()
	if err := r.pass.Apply(f, r.color); !errors.Is(err, aerial.ErrNoFrame) {
		t.Errorf("Apply(closed frame) = %v, want ErrNoFrame", err)
	}
}
