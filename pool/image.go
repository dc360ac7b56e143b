package pool

import "github.com/gogpu/gputypes"

// Handle identifies one lease. Handles increase monotonically and are never
// reused, so a stale handle can always be told apart from a live one.
type Handle uint64

// Surface is the device-specific backing memory of an image. Each backend
// asserts it back to its own concrete type.
type Surface any

// Image is a leased view of pooled backing memory.
//
// An Image is valid between Acquire and Release. After Release the value
// must not be passed to kernels; Valid reports false.
type Image struct {
	desc     Desc
	surface  Surface
	handle   Handle
	pooled   bool
	released bool
}

// Desc returns the description the image was acquired with.
func (img *Image) Desc() Desc { return img.desc }

// Label returns the logical slot name.
func (img *Image) Label() string { return img.desc.Label }

// Width returns the image width in pixels.
func (img *Image) Width() int { return img.desc.Width }

// Height returns the image height in pixels.
func (img *Image) Height() int { return img.desc.Height }

// Format returns the texel format.
func (img *Image) Format() gputypes.TextureFormat { return img.desc.Format }

// Surface returns the backing memory.
func (img *Image) Surface() Surface { return img.surface }

// Handle returns the lease handle. Wrapped images have handle 0.
func (img *Image) Handle() Handle { return img.handle }

// Pooled reports whether the image is owned by a Pool.
func (img *Image) Pooled() bool { return img.pooled }

// Valid reports whether the image may still be read or written.
func (img *Image) Valid() bool { return img != nil && !img.released && img.surface != nil }
