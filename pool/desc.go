package pool

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// ColorSpace selects how the channel values of an image are interpreted.
type ColorSpace uint8

const (
	// ColorSpaceLinear stores linear values. Lookup tables always use it.
	ColorSpaceLinear ColorSpace = iota

	// ColorSpaceSRGB stores sRGB-encoded values.
	ColorSpaceSRGB
)

// String returns the color space name.
func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceLinear:
		return "linear"
	case ColorSpaceSRGB:
		return "srgb"
	default:
		return fmt.Sprintf("ColorSpace(%d)", uint8(c))
	}
}

// ErrInvalidDesc is returned when an image request cannot be satisfied by any
// device, e.g. zero size or an unsupported format.
var ErrInvalidDesc = errors.New("pool: invalid image description")

// Desc describes a transient image request.
type Desc struct {
	// Label names the logical slot. Two outstanding leases may not share a
	// non-empty label.
	Label string

	Width  int
	Height int

	Format     gputypes.TextureFormat
	ColorSpace ColorSpace
}

// String returns a short human-readable description.
func (d Desc) String() string {
	return fmt.Sprintf("%s %dx%d %s/%s", d.Label, d.Width, d.Height, FormatName(d.Format), d.ColorSpace)
}

// Validate reports whether the description can be allocated.
func (d Desc) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidDesc, d.Width, d.Height)
	}
	if BytesPerPixel(d.Format) == 0 {
		return fmt.Errorf("%w: unsupported format %s", ErrInvalidDesc, FormatName(d.Format))
	}
	if d.ColorSpace > ColorSpaceSRGB {
		return fmt.Errorf("%w: %s", ErrInvalidDesc, d.ColorSpace)
	}
	return nil
}

// SizeBytes returns the backing memory size of the image.
func (d Desc) SizeBytes() uint64 {
	//nolint:gosec // G115: dimensions validated positive
	return uint64(d.Width) * uint64(d.Height) * uint64(BytesPerPixel(d.Format))
}

// shape is the reuse key: two requests with equal shapes may share a surface.
type shape struct {
	width, height int
	format        gputypes.TextureFormat
	colorSpace    ColorSpace
}

func (d Desc) shape() shape {
	return shape{width: d.Width, height: d.Height, format: d.Format, colorSpace: d.ColorSpace}
}

// BytesPerPixel returns the size of one texel, or 0 for formats the pool
// does not manage.
func BytesPerPixel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatRGBA32Float:
		return 16
	case gputypes.TextureFormatRG32Float:
		return 8
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float:
		return 4
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		return 0
	}
}

// FormatName returns a short name for the formats the pool manages.
func FormatName(f gputypes.TextureFormat) string {
	switch f {
	case gputypes.TextureFormatRGBA32Float:
		return "RGBA32Float"
	case gputypes.TextureFormatRG32Float:
		return "RG32Float"
	case gputypes.TextureFormatRGBA8Unorm:
		return "RGBA8Unorm"
	case gputypes.TextureFormatRGBA8UnormSrgb:
		return "RGBA8UnormSrgb"
	case gputypes.TextureFormatBGRA8Unorm:
		return "BGRA8Unorm"
	case gputypes.TextureFormatBGRA8UnormSrgb:
		return "BGRA8UnormSrgb"
	case gputypes.TextureFormatR32Float:
		return "R32Float"
	case gputypes.TextureFormatR8Unorm:
		return "R8Unorm"
	default:
		return fmt.Sprintf("Format(%d)", f)
	}
}
