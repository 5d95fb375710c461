// Package slab provides a fixed-capacity allocator of equally sized blocks.
//
// Blocks are addressed by Ref indices instead of pointers; the backing array is
// allocated once and never grows.
package slab

import (
	"errors"
	"sync"
)

var (
	// ErrExhausted indicates that every block is allocated.
	ErrExhausted = errors.New("slab exhausted")

	// ErrInvalidRef indicates a Ref that is out of range or not allocated.
	ErrInvalidRef = errors.New("invalid slab reference")
)

// Ref identifies an allocated block.
type Ref uint32

// Slab is a fixed pool of blocks. It is safe for concurrent use.
type Slab struct {
	mu        sync.Mutex
	blockSize int
	arena     []byte
	free      []Ref
	allocated []bool
}

// New creates a slab of count blocks of blockSize bytes each.
func New(blockSize int, count int) *Slab {
	if blockSize <= 0 || count <= 0 {
		panic("slab: block size and count must be positive")
	}

	s := &Slab{
		blockSize: blockSize,
		arena:     make([]byte, blockSize*count),
		free:      make([]Ref, count),
		allocated: make([]bool, count),
	}
	// lowest refs are handed out first
	for i := range s.free {
		s.free[i] = Ref(count - 1 - i)
	}

	return s
}

// Alloc reserves a block.
func (s *Slab) Alloc() (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.free)
	if n == 0 {
		return 0, ErrExhausted
	}

	ref := s.free[n-1]
	s.free = s.free[:n-1]
	s.allocated[ref] = true

	return ref, nil
}

// Free returns a block to the slab. Freeing a block twice returns ErrInvalidRef.
func (s *Slab) Free(ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(ref) >= len(s.allocated) || !s.allocated[ref] {
		return ErrInvalidRef
	}

	s.allocated[ref] = false
	clear(s.block(ref))
	s.free = append(s.free, ref)

	return nil
}

// Bytes returns the memory of an allocated block, nil if ref is not allocated.
//
// The returned slice aliases the arena and must not be used after Free.
func (s *Slab) Bytes(ref Ref) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(ref) >= len(s.allocated) || !s.allocated[ref] {
		return nil
	}

	return s.block(ref)
}

// BlockSize returns the size of every block.
func (s *Slab) BlockSize() int { return s.blockSize }

// Available returns the number of free blocks.
func (s *Slab) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.free)
}

func (s *Slab) block(ref Ref) []byte {
	off := int(ref) * s.blockSize
	return s.arena[off : off+s.blockSize : off+s.blockSize]
}
