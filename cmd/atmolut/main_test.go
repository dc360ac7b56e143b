package main

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gogpu/atmosphere"
	"github.com/gogpu/atmosphere/backend/software"
	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/params"
)

type recordPass struct {
	name string
	log  *[]string
	err  error
}

func (p recordPass) Name() string { return p.name }

func (p recordPass) Execute() error {
	*p.log = append(*p.log, p.name)
	return p.err
}

func TestFrameQueueOrder(t *testing.T) {
	var got []string
	boom := errors.New("boom")

	q := &frameQueue{}
	q.Enqueue(atmosphere.AfterRendering, recordPass{name: "release", log: &got})
	q.Enqueue(atmosphere.AfterRenderingOpaques, recordPass{name: "lut", log: &got, err: boom})
	q.Enqueue(atmosphere.BeforeRenderingSkybox, recordPass{name: "composite", log: &got})
	q.Enqueue(atmosphere.AfterRendering, recordPass{name: "late", log: &got})

	if err := q.Run(); !errors.Is(err, boom) {
		t.Errorf("Run = %v, want boom", err)
	}
	want := []string{"lut", "composite", "release", "late"}
	if !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestOpenDeviceUnknown(t *testing.T) {
	if _, err := openDevice("metal"); err == nil {
		t.Error("openDevice(metal) succeeded, want error")
	}
}

func TestToggle(t *testing.T) {
	tests := []struct {
		name string
		args []string
		set  bool
		on   bool
	}{
		{"absent", nil, false, false},
		{"bare", []string{"-multi"}, true, true},
		{"explicit false", []string{"-multi=false"}, true, false},
		{"explicit true", []string{"-multi=true"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var multi toggle
			fs := flag.NewFlagSet("atmolut", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			fs.Var(&multi, "multi", "")
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			if multi.set != tt.set || multi.on != tt.on {
				t.Errorf("toggle = %+v, want set=%v on=%v", multi, tt.set, tt.on)
			}
		})
	}

	var bad toggle
	if err := bad.Set("maybe"); err == nil {
		t.Error("Set(maybe) succeeded")
	}
}

func TestLoadSettingsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := params.DefaultSettings()
	s.MultiScatter = true
	s.AerialPerspective = true
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	cfg := config{settings: path}
	cfg.multi = toggle{set: true, on: false}
	got, err := loadSettings(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.MultiScatter {
		t.Error("-multi=false did not override the settings file")
	}
	if !got.AerialPerspective {
		t.Error("unset -aerial changed the settings file value")
	}

	if _, err := loadSettings(config{settings: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Error("loadSettings(missing) succeeded")
	}
}

func TestRunWritesTables(t *testing.T) {
	out := t.TempDir()
	cfg := config{
		frames:       2,
		width:        16,
		height:       8,
		lutWidth:     32,
		lutHeight:    16,
		grid:         4,
		aerial:       toggle{set: true, on: false},
		multi:        toggle{set: true, on: false},
		inject:       atmosphere.DefaultInjectionPoint.String(),
		out:          out,
		exposure:     1,
		scale:        1,
		budget:       64,
		backend:      software.Name,
		sunElevation: 30,
	}
	if err := run(cfg); err != nil {
		t.Fatalf("run = %v", err)
	}

	for _, name := range []string{kernel.TransmittanceLUT, kernel.SkyViewLUT, colorLabel} {
		if _, err := os.Stat(filepath.Join(out, name+".exr")); err != nil {
			t.Errorf("%s.exr: %v", name, err)
		}
	}
	for _, name := range []string{kernel.MultiScatterLUT, kernel.AerialVolume} {
		if _, err := os.Stat(filepath.Join(out, name+".exr")); err == nil {
			t.Errorf("%s.exr written with the stage disabled", name)
		}
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config
	}{
		{"unknown backend", config{backend: "metal", inject: atmosphere.DefaultInjectionPoint.String()}},
		{"bad injection point", config{backend: software.Name, inject: "whenever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(tt.cfg); err == nil {
				t.Error("run succeeded, want error")
			}
		})
	}
}
