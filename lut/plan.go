package lut

import (
	"fmt"
	"strings"

	"github.com/gogpu/atmosphere/kernel"
	"github.com/gogpu/atmosphere/params"
)

// Stage is one kernel step of the pipeline.
type Stage uint8

// Pipeline stages in execution order.
const (
	StageTransmittance Stage = iota
	StageMultiScatter
	StageSkyView
	StageAerialVolume
)

var stageInfo = [...]struct {
	name    string
	kernel  kernel.ID
	output  string
	pending State
}{
	StageTransmittance: {"transmittance", kernel.Transmittance, kernel.TransmittanceLUT, StateTransmittancePending},
	StageMultiScatter:  {"multi-scatter", kernel.MultiScatterTransmittance, kernel.MultiScatterLUT, StateMultiScatterPending},
	StageSkyView:       {"sky-view", kernel.SkyView, kernel.SkyViewLUT, StateSkyViewPending},
	StageAerialVolume:  {"aerial-volume", kernel.AerialPerspectiveVolume, kernel.AerialVolume, StateAerialVolumePending},
}

// String returns the stage name.
func (s Stage) String() string {
	if int(s) < len(stageInfo) {
		return stageInfo[s].name
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// Kernel returns the kernel the stage invokes.
func (s Stage) Kernel() kernel.ID { return stageInfo[s].kernel }

// Output returns the texture name the stage publishes.
func (s Stage) Output() string { return stageInfo[s].output }

// Plan is the stage sequence of one frame, computed once from the feature
// flags before any work is issued.
type Plan struct {
	stages  []Stage
	skipped []Stage
}

// NewPlan derives the plan from the feature flags of block.
func NewPlan(block *params.Block) Plan {
	var p Plan
	add := func(s Stage, enabled bool) {
		if enabled {
			p.stages = append(p.stages, s)
		} else {
			p.skipped = append(p.skipped, s)
		}
	}
	add(StageTransmittance, true)
	add(StageMultiScatter, block.MultiScatter())
	add(StageSkyView, true)
	add(StageAerialVolume, block.AerialPerspective())
	return p
}

// Stages returns the stages that run, in order.
func (p Plan) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Has reports whether stage s runs.
func (p Plan) Has(s Stage) bool {
	for _, st := range p.stages {
		if st == s {
			return true
		}
	}
	return false
}

// Published returns the texture names the plan publishes, in order.
func (p Plan) Published() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Output()
	}
	return names
}

// Unbound returns the texture names of disabled stages. They are unbound
// at frame start so readers see the feature as off rather than a stale
// texture.
func (p Plan) Unbound() []string {
	names := make([]string, len(p.skipped))
	for i, s := range p.skipped {
		names[i] = s.Output()
	}
	return names
}

// String renders the sequence, e.g. "transmittance -> sky-view".
func (p Plan) String() string {
	parts := make([]string, len(p.stages))
	for i, s := range p.stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, " -> ")
}
