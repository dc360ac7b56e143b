package atmosphere

import (
	"bytes"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/atmosphere/backend/software"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/params"
	"github.com/gogpu/atmosphere/pool"
)

// queue is a Scheduler that runs passes in point order, then enqueue order.
type queue struct {
	passes [AfterRendering + 1][]Pass
	ran    []string
}

func (q *queue) Enqueue(at InjectionPoint, pass Pass) {
	q.passes[at] = append(q.passes[at], pass)
}

func (q *queue) run(t *testing.T, stop func(at InjectionPoint)) []error {
	t.Helper()
	var errs []error
	for at := range q.passes {
		for _, p := range q.passes[at] {
			q.ran = append(q.ran, InjectionPoint(at).String()+":"+p.Name())
			if err := p.Execute(); err != nil {
				errs = append(errs, err)
			}
		}
		if stop != nil {
			stop(InjectionPoint(at))
		}
	}
	return errs
}

type rig struct {
	dev     *software.Device
	pool    *pool.Pool
	store   *params.Store
	feature *Feature
	color   *pool.Image
}

func newRig(t *testing.T, devOpts []software.Option, opts ...Option) *rig {
	t.Helper()
	dev := software.New(append([]software.Option{software.WithWorkers(2)}, devOpts...)...)
	t.Cleanup(dev.Close)

	p := pool.New(dev)
	store := params.NewStore(params.DefaultSettings())
	color, err := dev.NewImage(pool.Desc{Label: "color", Width: 16, Height: 8, Format: gputypes.TextureFormatRGBA32Float})
	if err != nil {
		t.Fatal(err)
	}
	software.Fill(color, mgl32.Vec4{0.5, 0.5, 0.5, 1})

	return &rig{
		dev:     dev,
		pool:    p,
		store:   store,
		feature: New(p, kernel.NewInvoker(dev, nil), store, opts...),
		color:   color,
	}
}

func TestInjectionPoint(t *testing.T) {
	tests := []struct {
		point InjectionPoint
		next  InjectionPoint
		name  string
	}{
		{AfterRenderingOpaques, BeforeRenderingSkybox, "AfterRenderingOpaques"},
		{BeforeRenderingPostProcessing, AfterRenderingPostProcessing, "BeforeRenderingPostProcessing"},
		{AfterRendering, AfterRendering, "AfterRendering"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.point.Next(); got != tt.next {
				t.Errorf("Next() = %s, want %s", got, tt.next)
			}
			if got := tt.point.String(); got != tt.name {
				t.Errorf("String() = %q", got)
			}
			parsed, err := ParseInjectionPoint(strings.ToLower(tt.name))
			if err != nil || parsed != tt.point {
				t.Errorf("ParseInjectionPoint = %s, %v", parsed, err)
			}
		})
	}
	if _, err := ParseInjectionPoint("whenever"); err == nil {
		t.Error("ParseInjectionPoint(whenever) should fail")
	}
}

func TestAddPassesOrder(t *testing.T) {
	r := newRig(t, nil)
	q := &queue{}
	r.feature.AddPasses(q, kernel.DefaultView(16, 8), r.color)

	// The tables stay available between the composite and the end of frame.
	var openAtSkybox bool
	errs := q.run(t, func(at InjectionPoint) {
		if at == AfterRenderingSkybox {
			openAtSkybox = r.feature.Frame() != nil
		}
	})
	if len(errs) != 0 {
		t.Fatalf("passes failed: %v", errs)
	}

	want := []string{
		"AfterRenderingOpaques:" + LUTPassName,
		"BeforeRenderingSkybox:" + CompositePassName,
		"AfterRendering:" + ReleasePassName,
	}
	if !slices.Equal(q.ran, want) {
		t.Errorf("ran %v, want %v", q.ran, want)
	}
	if !openAtSkybox {
		t.Error("tables should stay published until AfterRendering")
	}
	if s := r.pool.Stats(); s.Leased != 0 {
		t.Errorf("leases left after frame: %v", r.pool.Leased())
	}
	if r.feature.Frame() != nil {
		t.Error("frame still open")
	}
}

func TestWithInjectionPoint(t *testing.T) {
	r := newRig(t, nil, WithInjectionPoint(AfterRendering))
	q := &queue{}
	r.feature.AddPasses(q, kernel.DefaultView(16, 8), r.color)
	if errs := q.run(t, nil); len(errs) != 0 {
		t.Fatal(errs)
	}

	want := []string{
		"AfterRendering:" + LUTPassName,
		"AfterRendering:" + CompositePassName,
		"AfterRendering:" + ReleasePassName,
	}
	if !slices.Equal(q.ran, want) {
		t.Errorf("ran %v, want %v", q.ran, want)
	}
}

func TestRenderFrame(t *testing.T) {
	r := newRig(t, nil)

	if err := r.feature.RenderFrame(kernel.DefaultView(16, 8), r.color); err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if got := software.Pixel(r.color, 8, 4); got == (mgl32.Vec4{0.5, 0.5, 0.5, 1}) {
		t.Error("aerial perspective not applied")
	}
	if s := r.pool.Stats(); s.Leased != 0 {
		t.Errorf("leaked: %v", r.pool.Leased())
	}
	if st := r.feature.Stats(); st.Frames != 1 || st.Dropped != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestDroppedFrameRendersWithoutTables(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	r := newRig(t, []software.Option{software.WithMaxBytes(1024)})
	q := &queue{}
	r.feature.AddPasses(q, kernel.DefaultView(16, 8), r.color)

	errs := q.run(t, nil)
	if len(errs) != 1 || !errors.Is(errs[0], pool.ErrResourceExhausted) {
		t.Fatalf("errors = %v, want one ErrResourceExhausted", errs)
	}
	if got := software.Pixel(r.color, 8, 4); got != (mgl32.Vec4{0.5, 0.5, 0.5, 1}) {
		t.Errorf("color changed on a dropped frame: %v", got)
	}
	if st := r.feature.Stats(); st.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", st.Dropped)
	}
	if !strings.Contains(buf.String(), "frame dropped") {
		t.Errorf("expected a warning, got: %s", buf.String())
	}
}

func TestUnreleasedFrameClosedByNextFrame(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	r := newRig(t, nil)
	view := kernel.DefaultView(16, 8)

	// Frame 1: the host runs the table pass, then drops the rest.
	partial := &queue{}
	r.feature.AddPasses(partial, view, r.color)
	if err := partial.passes[r.feature.InjectionPoint()][0].Execute(); err != nil {
		t.Fatal(err)
	}
	first := r.feature.Frame()
	if first == nil {
		t.Fatal("no frame after the table pass")
	}

	// Frame 2 runs completely and must use its own tables.
	q := &queue{}
	r.feature.AddPasses(q, view, r.color)
	var compositeFrame uint64
	errs := q.run(t, func(at InjectionPoint) {
		if at == r.feature.InjectionPoint() {
			if f := r.feature.Frame(); f != nil {
				compositeFrame = f.ID()
			}
		}
	})
	if len(errs) != 0 {
		t.Fatalf("passes failed: %v", errs)
	}

	if !first.Closed() {
		t.Error("unreleased frame left open")
	}
	if compositeFrame == 0 || compositeFrame == first.ID() {
		t.Errorf("composite used frame %d, first frame was %d", compositeFrame, first.ID())
	}
	if st := r.feature.Stats(); st.Frames != 2 || st.Dropped != 0 {
		t.Errorf("Stats = %+v, want 2 frames and none dropped", st)
	}
	if r.feature.Composite().Applied() != 1 {
		t.Errorf("Applied() = %d, want 1", r.feature.Composite().Applied())
	}
	if s := r.pool.Stats(); s.Leased != 0 {
		t.Errorf("leases left: %v", r.pool.Leased())
	}
	if !strings.Contains(buf.String(), "previous frame not released") {
		t.Errorf("expected a warning, got: %s", buf.String())
	}
}

func TestStoreSwapAppliesNextFrame(t *testing.T) {
	r := newRig(t, nil)

	s := params.DefaultSettings()
	s.AerialPerspective = false
	r.store.Set(s)

	before := software.Pixel(r.color, 8, 4)
	if err := r.feature.RenderFrame(kernel.DefaultView(16, 8), r.color); err != nil {
		t.Fatal(err)
	}
	if got := software.Pixel(r.color, 8, 4); got != before {
		t.Errorf("aerial perspective applied while disabled: %v", got)
	}
	if r.feature.Composite().Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", r.feature.Composite().Skipped())
	}
}
