package params

import "sync/atomic"

// Store holds the block that the next frame will snapshot.
//
// Set replaces the block wholesale; a frame that already took its Snapshot
// keeps rendering with the old one, so edits never tear a frame.
// Store is safe for concurrent use.
type Store struct {
	current atomic.Pointer[Block]
}

// NewStore creates a store holding New(s).
func NewStore(s Settings) *Store {
	st := &Store{}
	st.current.Store(New(s))
	return st
}

// Set validates s and publishes it for subsequent snapshots.
func (st *Store) Set(s Settings) *Block {
	b := New(s)
	st.current.Store(b)
	return b
}

// SetBlock publishes an already built block. Nil is ignored.
func (st *Store) SetBlock(b *Block) {
	if b != nil {
		st.current.Store(b)
	}
}

// Snapshot returns the current block. The zero Store yields Default().
func (st *Store) Snapshot() *Block {
	if b := st.current.Load(); b != nil {
		return b
	}
	b := Default()
	if st.current.CompareAndSwap(nil, b) {
		return b
	}
	return st.current.Load()
}
