package lut

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/atmosphere/internal/logging"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/params"
	"github.com/gogpu/atmosphere/pool"
)

// Frame holds the tables published by one Run. All of them are frame
// scoped: Close releases every lease and unbinds every name.
type Frame struct {
	id       uint64
	pipeline *Pipeline
	plan     Plan
	args     kernel.Args

	images map[string]*pool.Image
	order  []string
	closed bool
}

// ID returns the frame number, starting at 1.
func (f *Frame) ID() uint64 { return f.id }

// Plan returns the stages this frame ran.
func (f *Frame) Plan() Plan { return f.plan }

// Args returns the kernel arguments shared by every stage of the frame.
func (f *Frame) Args() kernel.Args { return f.args }

// Block returns the parameter snapshot of the frame.
func (f *Frame) Block() *params.Block { return f.args.Block() }

// Pipeline returns the pipeline that produced the frame.
func (f *Frame) Pipeline() *Pipeline { return f.pipeline }

// Lookup returns the table published under name.
func (f *Frame) Lookup(name string) (*pool.Image, error) {
	img, ok := f.images[name]
	if !ok || !img.Valid() {
		return nil, fmt.Errorf("%w: frame %d has no %q", kernel.ErrMissingDependency, f.id, name)
	}
	return img, nil
}

// Images returns the tables by name.
func (f *Frame) Images() map[string]*pool.Image {
	out := make(map[string]*pool.Image, len(f.images))
	for name, img := range f.images {
		out[name] = img
	}
	return out
}

// Published returns the published names in sorted order.
func (f *Frame) Published() []string {
	names := make([]string, 0, len(f.images))
	for name := range f.images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Closed reports whether Close has been called.
func (f *Frame) Closed() bool { return f.closed }

// Close releases every table of the frame and returns the pipeline to
// StateIdle. Release is unconditional: it does not depend on which stages
// ran. Calling Close again does nothing.
func (f *Frame) Close() error {
	if f.closed {
		return nil
	}

	var errs []error
	n := f.releaseWith(func(err error) { errs = append(errs, err) })
	if n != len(f.order) {
		logging.Logger().Warn("lut: frame release incomplete", "frame", f.id, "released", n, "owned", len(f.order))
	}
	f.pipeline.closeFrame(f, n)
	return errors.Join(errs...)
}

func (f *Frame) own(name string, img *pool.Image) {
	f.images[name] = img
	f.order = append(f.order, name)
}

// release frees every lease, logging release errors. It returns the number
// of successful releases.
func (f *Frame) release() int {
	return f.releaseWith(func(err error) {
		logging.Logger().Warn("lut: release failed", "frame", f.id, "err", err)
	})
}

func (f *Frame) releaseWith(report func(error)) int {
	f.closed = true
	bindings := f.pipeline.invoker.Bindings()
	released := 0
	for i := len(f.order) - 1; i >= 0; i-- {
		name := f.order[i]
		img := f.images[name]
		bindings.UnbindImage(name, img)
		if err := f.pipeline.pool.Release(img); err != nil {
			report(err)
			continue
		}
		released++
	}
	return released
}
