package kernel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/atmosphere/pool"
)

// Bindings is the table of published textures readable by kernels. Each
// name has a single writer; a later Publish under the same name replaces
// the earlier binding. Bindings are frame-scoped: the pipeline unbinds
// everything it published when the frame closes.
type Bindings struct {
	mu     sync.RWMutex
	images map[string]*pool.Image
}

// NewBindings returns an empty table.
func NewBindings() *Bindings {
	return &Bindings{images: make(map[string]*pool.Image)}
}

// Publish binds img under name.
func (b *Bindings) Publish(name string, img *pool.Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.images == nil {
		b.images = make(map[string]*pool.Image)
	}
	b.images[name] = img
}

// Unbind removes name. Unbinding an absent name is a no-op.
func (b *Bindings) Unbind(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.images, name)
}

// UnbindImage removes name only while it is bound to img, leaving a newer
// publication in place. It reports whether the binding was removed.
func (b *Bindings) UnbindImage(name string, img *pool.Image) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.images[name]; ok && cur == img {
		delete(b.images, name)
		return true
	}
	return false
}

// Lookup returns the image bound under name. Absent names and images that
// were released after publication report ErrMissingDependency.
func (b *Bindings) Lookup(name string) (*pool.Image, error) {
	b.mu.RLock()
	img, ok := b.images[name]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q was not published this frame", ErrMissingDependency, name)
	}
	if !img.Valid() {
		return nil, fmt.Errorf("%w: %q was released", ErrMissingDependency, name)
	}
	return img, nil
}

// Has reports whether name is bound to a valid image.
func (b *Bindings) Has(name string) bool {
	_, err := b.Lookup(name)
	return err == nil
}

// Names returns the bound names in sorted order.
func (b *Bindings) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.images))
	for name := range b.images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset removes every binding.
func (b *Bindings) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.images)
}
