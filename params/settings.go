// Package params holds the physical scattering parameters shared by every
// lookup-table kernel.
//
// Settings is the editable configuration surface. Block is the immutable
// snapshot a frame renders with: New clamps out-of-range values once, at
// configuration time, so kernels never see invalid input. Store swaps whole
// blocks between frames.
package params

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"
)

// Defaults for the physical parameters (Earth-like atmosphere, meters).
const (
	DefaultLightIntensity           = 31.4
	DefaultRayMarchCount            = 32
	DefaultPlanetRadius             = 6360000
	DefaultAtmosphereHeight         = 60000
	DefaultMieScatteringScale       = 0.5
	DefaultMieAnisotropy            = 0.5
	DefaultMieScatteringHeight      = 8000
	DefaultRayleighScatteringScale  = 1.0
	DefaultRayleighScatteringHeight = 15000
	DefaultOzoneAnisotropy          = 0.8
	DefaultOzoneHeight              = 25000
	DefaultOzoneWidth               = 15000
	DefaultAerialDistance           = 1
	DefaultAerialIntensity          = 1
	DefaultAerialAttenuation        = 1

	// MaxRayMarchCount bounds the per-ray sample count.
	MaxRayMarchCount = 256

	// MultiScatterStrengthFactor is applied to the configured strength before
	// it reaches the kernels.
	MultiScatterStrengthFactor = 10
)

// Settings is the user-facing parameter configuration. Zero values of
// distance and height fields fall back to defaults when a Block is built.
type Settings struct {
	LightColor     mgl32.Vec4 `json:"lightColor"`
	LightIntensity float32    `json:"lightIntensity"`
	RayMarchCount  int        `json:"rayMarchCount"`

	PlanetCenter     mgl32.Vec3 `json:"planetCenter"`
	PlanetRadius     float32    `json:"planetRadius"`
	AtmosphereHeight float32    `json:"atmosphereHeight"`

	// Range [0, 3].
	MieScatteringScale float32 `json:"mieScatteringScale"`
	// Range [0, 1].
	MieAnisotropy       float32 `json:"mieAnisotropy"`
	MieScatteringHeight float32 `json:"mieScatteringHeight"`

	// Range [0, 1].
	RayleighScatteringScale  float32 `json:"rayleighScatteringScale"`
	RayleighScatteringHeight float32 `json:"rayleighScatteringHeight"`

	// OzoneAnisotropy scales ozone absorption. Range [0, 1].
	OzoneAnisotropy float32 `json:"ozoneAnisotropy"`
	OzoneHeight     float32 `json:"ozoneHeight"`
	OzoneWidth      float32 `json:"ozoneWidth"`

	MultiScatter bool `json:"multiScatter"`
	// Range [0, 10].
	MultiScatterStrength float32 `json:"multiScatterStrength"`

	AerialPerspective         bool    `json:"aerialPerspective"`
	AerialPerspectiveDistance float32 `json:"aerialPerspectiveDistance"`
	// Range [0, 2].
	AerialIntensity float32 `json:"aerialIntensity"`
	// Range [0, 10].
	AerialDistanceAttenuation float32 `json:"aerialDistanceAttenuation"`
}

// DefaultSettings returns the Earth-like configuration with both optional
// branches enabled.
func DefaultSettings() Settings {
	return Settings{
		LightColor:                mgl32.Vec4{1, 1, 1, 1},
		LightIntensity:            DefaultLightIntensity,
		RayMarchCount:             DefaultRayMarchCount,
		PlanetRadius:              DefaultPlanetRadius,
		AtmosphereHeight:          DefaultAtmosphereHeight,
		MieScatteringScale:        DefaultMieScatteringScale,
		MieAnisotropy:             DefaultMieAnisotropy,
		MieScatteringHeight:       DefaultMieScatteringHeight,
		RayleighScatteringScale:   DefaultRayleighScatteringScale,
		RayleighScatteringHeight:  DefaultRayleighScatteringHeight,
		OzoneAnisotropy:           DefaultOzoneAnisotropy,
		OzoneHeight:               DefaultOzoneHeight,
		OzoneWidth:                DefaultOzoneWidth,
		MultiScatter:              true,
		AerialPerspective:         true,
		AerialPerspectiveDistance: DefaultAerialDistance,
		AerialIntensity:           DefaultAerialIntensity,
		AerialDistanceAttenuation: DefaultAerialAttenuation,
	}
}

// ParseSettings decodes JSON settings on top of DefaultSettings, so keys
// missing from data keep their default values.
func ParseSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("params: decode settings: %w", err)
	}
	return s, nil
}

// LoadSettings reads a JSON settings file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("params: read settings: %w", err)
	}
	return ParseSettings(data)
}

// Save writes the settings as indented JSON.
func (s Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("params: encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("params: write settings: %w", err)
	}
	return nil
}
