package kernel

import (
	"errors"
	"fmt"
)

// ID identifies a kernel. IDs are stable strings.
type ID string

// Kernel IDs.
const (
	Transmittance              ID = "transmittance"
	MultiScatterTransmittance  ID = "multi-scatter-transmittance"
	SkyView                    ID = "sky-view"
	AerialPerspectiveVolume    ID = "aerial-perspective-volume"
	AerialPerspectiveComposite ID = "aerial-perspective-composite"
)

// Texture names.
const (
	// TransmittanceLUT is published by the transmittance kernel.
	TransmittanceLUT = "transmittance"

	// MultiScatterLUT is published by the multi-scatter kernel, only when
	// multiple scattering is enabled.
	MultiScatterLUT = "multi-scatter-transmittance"

	// SkyViewLUT is the sky color as seen from the camera.
	SkyViewLUT = "sky-view"

	// AerialVolume is the packed froxel volume of in-scattering and
	// transmittance, only when aerial perspective is enabled.
	AerialVolume = "aerial-perspective-volume"

	// SceneDepth is published by the host when depth is available.
	SceneDepth = "scene-depth"

	// SourceColor is passed directly to the composite kernel.
	SourceColor = "source-color"
)

// Constant groups a kernel reads from Args.
const (
	ConstLight        = "light"         // color, intensity
	ConstRayMarch     = "ray-march"     // sample count
	ConstPlanet       = "planet"        // center, radius, atmosphere height
	ConstMie          = "mie"           // scale, anisotropy, height
	ConstRayleigh     = "rayleigh"      // scale, height
	ConstOzone        = "ozone"         // absorption scale, height, width
	ConstMultiScatter = "multi-scatter" // enabled, strength
	ConstAerial       = "aerial"        // distance, intensity, attenuation
	ConstView         = "view"          // camera basis, fov, sun direction, frame size
	ConstVoxel        = "voxel"         // logical grid size
)

// Invocation errors.
var (
	// ErrMissingDependency is returned when a kernel input was never
	// published this frame. It indicates a pipeline ordering bug.
	ErrMissingDependency = errors.New("kernel: missing dependency")

	// ErrUnknownKernel is returned for an ID without a signature.
	ErrUnknownKernel = errors.New("kernel: unknown kernel")

	// ErrInvalidOutput is returned when the output image is released,
	// nil, or also bound as an input.
	ErrInvalidOutput = errors.New("kernel: invalid output image")

	// ErrNotRegistered is returned by backends when no implementation
	// exists for a known kernel ID.
	ErrNotRegistered = errors.New("kernel: no implementation registered")
)

// Signature is the contract of one kernel: the textures it reads and the
// constant groups it expects bound. Required inputs must be present;
// optional inputs are bound when available and otherwise left empty.
type Signature struct {
	ID        ID
	Required  []string
	Optional  []string
	Constants []string
}

// Inputs returns required then optional input names, the binding order
// backends use.
func (s Signature) Inputs() []string {
	out := make([]string, 0, len(s.Required)+len(s.Optional))
	out = append(out, s.Required...)
	return append(out, s.Optional...)
}

// String renders the signature.
func (s Signature) String() string {
	return fmt.Sprintf("%s(required=%v optional=%v const=%v)", s.ID, s.Required, s.Optional, s.Constants)
}

var atmosphereConstants = []string{
	ConstLight, ConstRayMarch, ConstPlanet, ConstMie, ConstRayleigh, ConstOzone,
}

var signatures = []Signature{
	{
		ID:        Transmittance,
		Constants: atmosphereConstants,
	},
	{
		ID:        MultiScatterTransmittance,
		Required:  []string{TransmittanceLUT},
		Constants: append(append([]string{}, atmosphereConstants...), ConstMultiScatter),
	},
	{
		ID:        SkyView,
		Required:  []string{TransmittanceLUT},
		Optional:  []string{MultiScatterLUT},
		Constants: append(append([]string{}, atmosphereConstants...), ConstMultiScatter, ConstView),
	},
	{
		ID:        AerialPerspectiveVolume,
		Required:  []string{TransmittanceLUT},
		Optional:  []string{MultiScatterLUT},
		Constants: append(append([]string{}, atmosphereConstants...), ConstMultiScatter, ConstAerial, ConstView, ConstVoxel),
	},
	{
		ID:        AerialPerspectiveComposite,
		Required:  []string{SourceColor, AerialVolume},
		Optional:  []string{SceneDepth},
		Constants: []string{ConstAerial, ConstView, ConstVoxel},
	},
}

// Signatures returns the signatures of all kernels in pipeline order.
func Signatures() []Signature {
	out := make([]Signature, len(signatures))
	copy(out, signatures)
	return out
}

// SignatureOf returns the signature for id.
func SignatureOf(id ID) (Signature, error) {
	for _, s := range signatures {
		if s.ID == id {
			return s, nil
		}
	}
	return Signature{}, fmt.Errorf("%w: %q", ErrUnknownKernel, string(id))
}
