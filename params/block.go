package params

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Block is an immutable snapshot of the scattering parameters.
//
// Every field is validated by New; accessors are pure reads. A Block is
// shared by all kernels of a frame and must never be mutated after
// construction, which is why it has no exported fields.
type Block struct {
	lightColor     mgl32.Vec4
	lightIntensity float32
	rayMarchCount  int

	planetCenter     mgl32.Vec3
	planetRadius     float32
	atmosphereHeight float32

	mieScatteringScale  float32
	mieAnisotropy       float32
	mieScatteringHeight float32

	rayleighScatteringScale  float32
	rayleighScatteringHeight float32

	ozoneAnisotropy float32
	ozoneHeight     float32
	ozoneWidth      float32

	multiScatter         bool
	multiScatterStrength float32

	aerialPerspective         bool
	aerialPerspectiveDistance float32
	aerialIntensity           float32
	aerialDistanceAttenuation float32
}

// New builds a Block from settings. Out-of-range scales are clamped to their
// documented ranges and non-positive distances fall back to defaults; New
// never fails.
func New(s Settings) *Block {
	b := &Block{
		lightIntensity: clamp(s.LightIntensity, 0, math.MaxFloat32),
		rayMarchCount:  s.RayMarchCount,

		planetCenter:     sanitizeVec3(s.PlanetCenter),
		planetRadius:     positive(s.PlanetRadius, DefaultPlanetRadius),
		atmosphereHeight: positive(s.AtmosphereHeight, DefaultAtmosphereHeight),

		mieScatteringScale:  clamp(s.MieScatteringScale, 0, 3),
		mieAnisotropy:       clamp(s.MieAnisotropy, 0, 1),
		mieScatteringHeight: positive(s.MieScatteringHeight, DefaultMieScatteringHeight),

		rayleighScatteringScale:  clamp(s.RayleighScatteringScale, 0, 1),
		rayleighScatteringHeight: positive(s.RayleighScatteringHeight, DefaultRayleighScatteringHeight),

		ozoneAnisotropy: clamp(s.OzoneAnisotropy, 0, 1),
		ozoneHeight:     positive(s.OzoneHeight, DefaultOzoneHeight),
		ozoneWidth:      positive(s.OzoneWidth, DefaultOzoneWidth),

		multiScatter:         s.MultiScatter,
		multiScatterStrength: clamp(s.MultiScatterStrength, 0, 10),

		aerialPerspective:         s.AerialPerspective,
		aerialPerspectiveDistance: positive(s.AerialPerspectiveDistance, DefaultAerialDistance),
		aerialIntensity:           clamp(s.AerialIntensity, 0, 2),
		aerialDistanceAttenuation: clamp(s.AerialDistanceAttenuation, 0, 10),
	}
	for i := range 4 {
		b.lightColor[i] = clamp(s.LightColor[i], 0, math.MaxFloat32)
	}
	switch {
	case b.rayMarchCount < 1:
		b.rayMarchCount = 1
	case b.rayMarchCount > MaxRayMarchCount:
		b.rayMarchCount = MaxRayMarchCount
	}
	return b
}

// Default returns a Block built from DefaultSettings.
func Default() *Block { return New(DefaultSettings()) }

// Settings returns the settings that reproduce this block.
func (b *Block) Settings() Settings {
	return Settings{
		LightColor:                b.lightColor,
		LightIntensity:            b.lightIntensity,
		RayMarchCount:             b.rayMarchCount,
		PlanetCenter:              b.planetCenter,
		PlanetRadius:              b.planetRadius,
		AtmosphereHeight:          b.atmosphereHeight,
		MieScatteringScale:        b.mieScatteringScale,
		MieAnisotropy:             b.mieAnisotropy,
		MieScatteringHeight:       b.mieScatteringHeight,
		RayleighScatteringScale:   b.rayleighScatteringScale,
		RayleighScatteringHeight:  b.rayleighScatteringHeight,
		OzoneAnisotropy:           b.ozoneAnisotropy,
		OzoneHeight:               b.ozoneHeight,
		OzoneWidth:                b.ozoneWidth,
		MultiScatter:              b.multiScatter,
		MultiScatterStrength:      b.multiScatterStrength,
		AerialPerspective:         b.aerialPerspective,
		AerialPerspectiveDistance: b.aerialPerspectiveDistance,
		AerialIntensity:           b.aerialIntensity,
		AerialDistanceAttenuation: b.aerialDistanceAttenuation,
	}
}

// LightColor returns the linear RGBA light color, each channel >= 0.
func (b *Block) LightColor() mgl32.Vec4 { return b.lightColor }

// LightIntensity returns the light intensity multiplier, >= 0.
func (b *Block) LightIntensity() float32 { return b.lightIntensity }

// RayMarchCount returns the samples per ray, in [1, MaxRayMarchCount].
func (b *Block) RayMarchCount() int { return b.rayMarchCount }

// PlanetCenter returns the planet center in world space, in meters.
func (b *Block) PlanetCenter() mgl32.Vec3 { return b.planetCenter }

// PlanetRadius returns the ground radius in meters, > 0.
func (b *Block) PlanetRadius() float32 { return b.planetRadius }

// AtmosphereHeight returns the atmosphere thickness above ground in meters, > 0.
func (b *Block) AtmosphereHeight() float32 { return b.atmosphereHeight }

// MieScatteringScale returns the Mie scattering multiplier, in [0, 3].
func (b *Block) MieScatteringScale() float32 { return b.mieScatteringScale }

// MieAnisotropy returns the Mie phase asymmetry g, in [0, 1].
func (b *Block) MieAnisotropy() float32 { return b.mieAnisotropy }

// MieScatteringHeight returns the Mie density scale height in meters, > 0.
func (b *Block) MieScatteringHeight() float32 { return b.mieScatteringHeight }

// RayleighScatteringScale returns the Rayleigh scattering multiplier, in [0, 1].
func (b *Block) RayleighScatteringScale() float32 { return b.rayleighScatteringScale }

// RayleighScatteringHeight returns the Rayleigh density scale height in meters, > 0.
func (b *Block) RayleighScatteringHeight() float32 { return b.rayleighScatteringHeight }

// OzoneAnisotropy returns the ozone absorption multiplier, in [0, 1].
func (b *Block) OzoneAnisotropy() float32 { return b.ozoneAnisotropy }

// OzoneHeight returns the altitude of peak ozone density in meters, > 0.
func (b *Block) OzoneHeight() float32 { return b.ozoneHeight }

// OzoneWidth returns the width of the ozone layer in meters, > 0.
func (b *Block) OzoneWidth() float32 { return b.ozoneWidth }

// MultiScatter reports whether the multiple scattering table is generated.
func (b *Block) MultiScatter() bool { return b.multiScatter }

// MultiScatterStrength returns the configured strength in [0, 10].
func (b *Block) MultiScatterStrength() float32 { return b.multiScatterStrength }

// KernelMultiScatterStrength returns the strength as kernels consume it.
func (b *Block) KernelMultiScatterStrength() float32 {
	return b.multiScatterStrength * MultiScatterStrengthFactor
}

// AerialPerspective reports whether the aerial perspective volume is
// generated and composited.
func (b *Block) AerialPerspective() bool { return b.aerialPerspective }

// AerialPerspectiveDistance returns the volume depth scale; each slice
// covers this many kilometers. Always > 0.
func (b *Block) AerialPerspectiveDistance() float32 { return b.aerialPerspectiveDistance }

// AerialIntensity returns the composite in-scatter multiplier, in [0, 2].
func (b *Block) AerialIntensity() float32 { return b.aerialIntensity }

// AerialDistanceAttenuation returns the composite extinction multiplier, in [0, 10].
func (b *Block) AerialDistanceAttenuation() float32 { return b.aerialDistanceAttenuation }

// TopRadius returns the radius of the atmosphere's outer shell.
func (b *Block) TopRadius() float32 { return b.planetRadius + b.atmosphereHeight }

// String returns a compact description for logs.
func (b *Block) String() string {
	return fmt.Sprintf("Block[R=%.0f H=%.0f I=%.2f steps=%d ms=%v ap=%v]",
		b.planetRadius, b.atmosphereHeight, b.lightIntensity, b.rayMarchCount,
		b.multiScatter, b.aerialPerspective)
}

func clamp(v, lo, hi float32) float32 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func positive(v, fallback float32) float32 {
	if v != v || v <= 0 || math.IsInf(float64(v), 0) {
		return fallback
	}
	return v
}

func sanitizeVec3(v mgl32.Vec3) mgl32.Vec3 {
	for i := range 3 {
		if v[i] != v[i] || math.IsInf(float64(v[i]), 0) {
			v[i] = 0
		}
	}
	return v
}
