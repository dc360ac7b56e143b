// Package lutio exports lookup tables to files: OpenEXR for the raw linear
// values and tone-mapped PNG previews for quick inspection.
package lutio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/gogpu/gputypes"
	"github.com/mrjoshuak/go-openexr/exr"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/atmosphere/internal/logging"
	"github.com/gogpu/atmosphere/lut"
	"github.com/gogpu/atmosphere/pool"
)

// Errors returned by snapshotting.
var (
	// ErrNoReadback is returned for device images when no Downloader is
	// given.
	ErrNoReadback = errors.New("lutio: image is not host readable")

	// ErrShortData is returned when downloaded data does not cover the image.
	ErrShortData = errors.New("lutio: short texel data")
)

// Downloader reads a device image back to host memory as little-endian
// RGBA32Float texels. The GPU device implements it.
type Downloader interface {
	Download(img *pool.Image) ([]byte, error)
}

// Snapshot returns the texels of img. Host images backed by
// *exr.RGBAImage are returned as is and stay owned by the pool; device
// images are downloaded through dl.
func Snapshot(img *pool.Image, dl Downloader) (*exr.RGBAImage, error) {
	if !img.Valid() {
		return nil, fmt.Errorf("lutio: snapshot of an invalid image")
	}
	if host, ok := img.Surface().(*exr.RGBAImage); ok {
		return host, nil
	}
	if dl == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoReadback, img.Label())
	}
	data, err := dl.Download(img)
	if err != nil {
		return nil, fmt.Errorf("lutio: download %s: %w", img.Label(), err)
	}
	return Decode(img.Desc(), data)
}

// Decode converts RGBA32Float texel data in row-major order into an image.
func Decode(desc pool.Desc, data []byte) (*exr.RGBAImage, error) {
	if desc.Format != gputypes.TextureFormatRGBA32Float {
		return nil, fmt.Errorf("lutio: cannot decode %s", pool.FormatName(desc.Format))
	}
	n := desc.Width * desc.Height * 4
	if len(data) < n*4 {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrShortData, len(data), desc)
	}
	img := exr.NewRGBAImage(image.Rect(0, 0, desc.Width, desc.Height))
	for i := range n {
		img.Pix[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return img, nil
}

// WriteEXR writes img as a half-float OpenEXR file.
func WriteEXR(path string, img *exr.RGBAImage) error {
	if err := exr.EncodeFile(path, img); err != nil {
		return fmt.Errorf("lutio: write %s: %w", path, err)
	}
	return nil
}

// PreviewOptions control tone mapping of PNG previews.
type PreviewOptions struct {
	// Exposure multiplies the linear values before tone mapping.
	Exposure float32

	// Scale enlarges the preview by an integer factor with Catmull-Rom
	// filtering. Values below 1 keep the table size.
	Scale int

	// Alpha writes the alpha channel as gray instead of the color channels.
	Alpha bool
}

// DefaultPreviewOptions returns unit exposure at the table's own size.
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{Exposure: 1, Scale: 1}
}

// Preview tone maps img to 8-bit sRGB with the Reinhard operator.
func Preview(img *exr.RGBAImage, opts PreviewOptions) *image.RGBA {
	b := img.Rect
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, a := img.RGBA(b.Min.X+x, b.Min.Y+y)
			if opts.Alpha {
				v := encode(a)
				out.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
				continue
			}
			out.SetRGBA(x, y, color.RGBA{
				R: encode(reinhard(r * opts.Exposure)),
				G: encode(reinhard(g * opts.Exposure)),
				B: encode(reinhard(bl * opts.Exposure)),
				A: 0xff,
			})
		}
	}
	if opts.Scale <= 1 {
		return out
	}
	scaled := image.NewRGBA(image.Rect(0, 0, b.Dx()*opts.Scale, b.Dy()*opts.Scale))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), out, out.Bounds(), xdraw.Src, nil)
	return scaled
}

// WritePNG writes a tone-mapped preview of img.
func WritePNG(path string, img *exr.RGBAImage, opts PreviewOptions) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return fmt.Errorf("lutio: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := png.Encode(f, Preview(img, opts)); err != nil {
		return fmt.Errorf("lutio: write %s: %w", path, err)
	}
	return nil
}

// DumpFrame writes every table published by f into dir as <name>.exr and,
// when preview is non-nil, <name>.png. It returns the written paths.
func DumpFrame(dir string, f *lut.Frame, dl Downloader, preview *PreviewOptions) ([]string, error) {
	if f.Closed() {
		return nil, fmt.Errorf("lutio: frame %d is closed", f.ID())
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("lutio: %w", err)
	}

	var written []string
	for _, name := range f.Published() {
		img, err := f.Lookup(name)
		if err != nil {
			return written, err
		}
		texels, err := Snapshot(img, dl)
		if err != nil {
			return written, err
		}

		path := filepath.Join(dir, name+".exr")
		if err := WriteEXR(path, texels); err != nil {
			return written, err
		}
		written = append(written, path)

		if preview != nil {
			path = filepath.Join(dir, name+".png")
			if err := WritePNG(path, texels, *preview); err != nil {
				return written, err
			}
			written = append(written, path)
		}
		logging.Logger().Debug("lutio: table written", "name", name, "frame", f.ID(), "dir", dir)
	}
	return written, nil
}

func reinhard(v float32) float32 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	return v / (1 + v)
}

// encode applies the sRGB transfer function and quantizes to 8 bits.
func encode(v float32) uint8 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	var s float64
	if v <= 0.0031308 {
		s = 12.92 * float64(v)
	} else {
		s = 1.055*math.Pow(float64(v), 1/2.4) - 0.055
	}
	return uint8(math.Round(s * 255)) //nolint:gosec // G115: s is in [0, 1]
}
