// Package pool owns the short-lived images a frame renders into.
//
// A Pool hands out leases on device surfaces and takes them back at the end
// of the frame. Released surfaces stay idle and are reused by later requests
// of the same shape; idle surfaces are evicted least recently used first
// when the memory budget would be exceeded. The pool never clears memory:
// a reused surface keeps whatever the previous lease wrote.
package pool

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/atmosphere/internal/logging"
)

// Pool errors.
var (
	// ErrResourceExhausted is returned when the device cannot allocate a
	// surface or the request does not fit the budget. It is never retried.
	ErrResourceExhausted = errors.New("pool: resource exhausted")

	// ErrDoubleRelease is returned when a handle that is not currently
	// leased is released: already released, never acquired, or wrapped.
	ErrDoubleRelease = errors.New("pool: double release")

	// ErrDoubleAcquire is returned when a labeled slot is acquired while a
	// lease on the same label is still outstanding.
	ErrDoubleAcquire = errors.New("pool: double acquire")

	// ErrPoolClosed is returned when operating on a closed pool.
	ErrPoolClosed = errors.New("pool: closed")
)

// Default budget limits.
const (
	// DefaultBudgetMB is the default memory budget (512 MB).
	DefaultBudgetMB = 512

	// MinBudgetMB is the smallest accepted budget (16 MB).
	MinBudgetMB = 16
)

// Allocator creates and destroys device surfaces. Backends implement it.
type Allocator interface {
	// Allocate creates backing memory for desc. The content is undefined.
	Allocate(desc Desc) (Surface, error)

	// Free destroys a surface previously returned by Allocate.
	Free(surface Surface)
}

// Stats contains pool bookkeeping counters.
type Stats struct {
	Acquires    uint64
	Releases    uint64
	Allocations uint64
	Reuses      uint64
	Evictions   uint64

	// Leased is the number of outstanding leases.
	Leased int

	// Idle is the number of released surfaces kept for reuse.
	Idle int

	UsedBytes   uint64
	BudgetBytes uint64
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Pool[%d leased, %d idle, %d/%d MB, acquire=%d release=%d alloc=%d reuse=%d evict=%d]",
		s.Leased, s.Idle,
		s.UsedBytes/(1024*1024), s.BudgetBytes/(1024*1024),
		s.Acquires, s.Releases, s.Allocations, s.Reuses, s.Evictions)
}

// entry tracks one device surface, leased or idle.
type entry struct {
	surface   Surface
	shape     shape
	sizeBytes uint64
	lastUsed  time.Time
	element   *list.Element // position in the idle LRU list, nil while leased
}

// Pool allocates and recycles transient images.
//
// Pool is safe for concurrent use, although a frame pipeline drives it
// from a single goroutine.
type Pool struct {
	mu sync.Mutex

	alloc Allocator

	budgetBytes uint64
	usedBytes   uint64

	// idle maps a shape to its idle entries, most recently released last.
	idle map[shape][]*entry

	// lru orders all idle entries (front = most recently used).
	lru *list.List

	leased map[Handle]*Image
	owners map[Handle]*entry
	labels map[string]Handle

	nextHandle Handle
	strict     bool
	closed     bool

	stats Stats
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	budgetMB int
	strict   bool
}

// WithBudgetMB sets the memory budget in megabytes. Values below MinBudgetMB
// are raised to MinBudgetMB.
func WithBudgetMB(mb int) Option {
	return func(o *options) { o.budgetMB = mb }
}

// WithStrict makes bookkeeping errors (double release, double acquire) panic
// instead of being reported and ignored. Strict mode defaults to on in
// builds tagged atmosdebug.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// New creates a pool that allocates through alloc.
func New(alloc Allocator, opts ...Option) *Pool {
	o := options{budgetMB: DefaultBudgetMB, strict: debugBuild}
	for _, opt := range opts {
		opt(&o)
	}
	if o.budgetMB < MinBudgetMB {
		o.budgetMB = MinBudgetMB
	}

	//nolint:gosec // G115: budget bounded by MinBudgetMB minimum
	return &Pool{
		alloc:       alloc,
		budgetBytes: uint64(o.budgetMB) * 1024 * 1024,
		idle:        make(map[shape][]*entry),
		lru:         list.New(),
		leased:      make(map[Handle]*Image),
		owners:      make(map[Handle]*entry),
		labels:      make(map[string]Handle),
		strict:      o.strict,
	}
}

// Acquire leases an image sized exactly as desc. An idle surface of the same
// shape is reused when available; otherwise a new one is allocated, evicting
// idle surfaces if the budget requires it.
func (p *Pool) Acquire(desc Desc) (*Image, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if desc.Label != "" {
		if h, ok := p.labels[desc.Label]; ok {
			return nil, p.misuse(fmt.Errorf("%w: slot %q still leased by handle %d", ErrDoubleAcquire, desc.Label, h))
		}
	}

	e, reused := p.takeIdleLocked(desc.shape())
	if !reused {
		var err error
		if e, err = p.allocateLocked(desc); err != nil {
			return nil, err
		}
	}

	p.nextHandle++
	img := &Image{
		desc:    desc,
		surface: e.surface,
		handle:  p.nextHandle,
		pooled:  true,
	}
	p.leased[img.handle] = img
	p.owners[img.handle] = e
	if desc.Label != "" {
		p.labels[desc.Label] = img.handle
	}
	p.stats.Acquires++

	logging.Logger().Debug("pool: acquire",
		"desc", desc.String(), "handle", uint64(img.handle), "reused", reused)
	return img, nil
}

// Release ends the lease on img and keeps its surface for reuse. Releasing
// an image that is not currently leased returns ErrDoubleRelease every time.
func (p *Pool) Release(img *Image) error {
	if img == nil {
		return p.report(fmt.Errorf("%w: nil image", ErrDoubleRelease))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	live, ok := p.leased[img.handle]
	if !ok || live != img {
		switch {
		case !img.pooled:
			return p.misuse(fmt.Errorf("%w: %q was never acquired from the pool", ErrDoubleRelease, img.desc.Label))
		case img.released:
			return p.misuse(fmt.Errorf("%w: %q handle %d already released", ErrDoubleRelease, img.desc.Label, img.handle))
		default:
			return p.misuse(fmt.Errorf("%w: %q handle %d not leased by this pool", ErrDoubleRelease, img.desc.Label, img.handle))
		}
	}

	e := p.owners[img.handle]
	delete(p.leased, img.handle)
	delete(p.owners, img.handle)
	if img.desc.Label != "" {
		delete(p.labels, img.desc.Label)
	}
	img.released = true

	e.lastUsed = time.Now()
	e.element = p.lru.PushFront(e)
	p.idle[e.shape] = append(p.idle[e.shape], e)
	p.stats.Releases++

	logging.Logger().Debug("pool: release", "label", img.desc.Label, "handle", uint64(img.handle))
	return nil
}

// Wrap returns an unpooled image over host-owned memory, such as the frame
// color buffer. Wrapped images can be passed to kernels but never released.
func (p *Pool) Wrap(desc Desc, surface Surface) *Image {
	return Wrap(desc, surface)
}

// Wrap returns an unpooled image over surface. See Pool.Wrap.
func Wrap(desc Desc, surface Surface) *Image {
	return &Image{desc: desc, surface: surface}
}

// Stats returns current bookkeeping counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Leased = len(p.leased)
	s.Idle = p.lru.Len()
	s.UsedBytes = p.usedBytes
	s.BudgetBytes = p.budgetBytes
	return s
}

// Leased returns the labels of all outstanding leases, for leak reports.
func (p *Pool) Leased() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.leased))
	for _, img := range p.leased {
		out = append(out, img.desc.String())
	}
	return out
}

// SetBudget updates the memory budget and evicts idle surfaces if usage now
// exceeds it.
func (p *Pool) SetBudget(megabytes int) error {
	if megabytes < MinBudgetMB {
		megabytes = MinBudgetMB
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	//nolint:gosec // G115: megabytes bounded by MinBudgetMB minimum
	p.budgetBytes = uint64(megabytes) * 1024 * 1024
	return p.evictLocked(0)
}

// Trim frees every idle surface.
func (p *Pool) Trim() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.lru.Len() > 0 {
		p.evictOldestLocked()
	}
}

// Close frees all surfaces, leased or idle. Outstanding images become
// invalid. The pool must not be used after Close.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	for p.lru.Len() > 0 {
		p.evictOldestLocked()
	}
	for h, img := range p.leased {
		logging.Logger().Warn("pool: closing with outstanding lease", "desc", img.desc.String())
		img.released = true
		p.alloc.Free(p.owners[h].surface)
	}

	p.leased = nil
	p.owners = nil
	p.labels = nil
	p.idle = nil
	p.usedBytes = 0
	p.closed = true
}

// takeIdleLocked pops the most recently released idle entry of shape s.
// Caller must hold mu.
func (p *Pool) takeIdleLocked(s shape) (*entry, bool) {
	entries := p.idle[s]
	if len(entries) == 0 {
		return nil, false
	}

	e := entries[len(entries)-1]
	if len(entries) == 1 {
		delete(p.idle, s)
	} else {
		p.idle[s] = entries[:len(entries)-1]
	}
	p.lru.Remove(e.element)
	e.element = nil
	p.stats.Reuses++
	return e, true
}

// allocateLocked creates a new surface, evicting idle ones to fit the
// budget. Caller must hold mu.
func (p *Pool) allocateLocked(desc Desc) (*entry, error) {
	need := desc.SizeBytes()
	if need > p.budgetBytes {
		return nil, fmt.Errorf("%w: %s needs %d MB, budget is %d MB",
			ErrResourceExhausted, desc, need/(1024*1024), p.budgetBytes/(1024*1024))
	}
	if err := p.evictLocked(need); err != nil {
		return nil, err
	}

	surface, err := p.alloc.Allocate(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: allocate %s: %w", ErrResourceExhausted, desc, err)
	}

	p.usedBytes += need
	p.stats.Allocations++
	return &entry{
		surface:   surface,
		shape:     desc.shape(),
		sizeBytes: need,
		lastUsed:  time.Now(),
	}, nil
}

// evictLocked frees idle surfaces, least recently used first, until the
// requested bytes fit. Caller must hold mu.
func (p *Pool) evictLocked(requested uint64) error {
	for p.usedBytes+requested > p.budgetBytes && p.lru.Len() > 0 {
		p.evictOldestLocked()
	}
	if p.usedBytes+requested > p.budgetBytes {
		return fmt.Errorf("%w: need %d bytes, have %d bytes available",
			ErrResourceExhausted, requested, p.budgetBytes-min(p.usedBytes, p.budgetBytes))
	}
	return nil
}

// evictOldestLocked frees the least recently used idle surface.
// Caller must hold mu.
func (p *Pool) evictOldestLocked() {
	elem := p.lru.Back()
	e, ok := elem.Value.(*entry)
	p.lru.Remove(elem)
	if !ok {
		return
	}

	entries := p.idle[e.shape]
	for i, c := range entries {
		if c == e {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(p.idle, e.shape)
	} else {
		p.idle[e.shape] = entries
	}

	e.element = nil
	p.usedBytes -= e.sizeBytes
	p.stats.Evictions++
	p.alloc.Free(e.surface)
}

// misuse reports a bookkeeping error: panic in strict mode, otherwise log
// and return it. Caller must hold mu.
func (p *Pool) misuse(err error) error {
	if p.strict {
		panic(err)
	}
	return p.report(err)
}

func (p *Pool) report(err error) error {
	logging.Logger().Warn("pool: bookkeeping error", "err", err)
	return err
}
