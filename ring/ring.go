// Package ring implements the bounded block queues that sit between the
// network context and the pipeline context.
//
// Blocks are never copied under the lock. A writer fills a block it owns and
// hands it over with Commit, receiving a free block back; a reader hands in
// its previous block with Pull and receives the oldest committed one. The
// mutex only guards the indices and the slot pointers.
package ring

import (
	"errors"
	"fmt"
	"sync"
)

// Policy selects what Commit does when every slot holds an unread block.
type Policy int

const (
	// DropOldest evicts the oldest unread block. The writer never waits.
	DropOldest Policy = iota
	// RejectNew refuses the commit and leaves the ring untouched.
	RejectNew
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case RejectNew:
		return "reject-new"
	default:
		return "unknown"
	}
}

var (
	ErrFull     = errors.New("ring: full")
	ErrSize     = errors.New("ring: size must be a power of two")
	ErrNilBlock = errors.New("ring: nil block")
)

// Ring is a fixed-capacity circular queue of *T.
type Ring[T any] struct {
	mu      sync.Mutex
	slots   []*T
	mask    uint64
	write   uint64
	read    uint64
	policy  Policy
	dropped uint64
}

// New allocates n slots (n a power of two) using alloc for every block.
func New[T any](n int, policy Policy, alloc func() *T) (*Ring[T], error) {
	if !IsPowerOfTwo(n) {
		return nil, fmt.Errorf("%w: %d", ErrSize, n)
	}
	r := &Ring[T]{
		slots:  make([]*T, n),
		mask:   uint64(n - 1),
		policy: policy,
	}
	for i := range r.slots {
		r.slots[i] = alloc()
	}
	return r, nil
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Commit publishes block as the newest entry and returns the block that the
// writer now owns. Under DropOldest a full ring evicts its oldest unread
// block, which is returned to the writer for reuse, and evicted is true.
// Under RejectNew a full ring returns block itself together with ErrFull.
func (r *Ring[T]) Commit(block *T) (free *T, evicted bool, err error) {
	if block == nil {
		return nil, false, ErrNilBlock
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.write-r.read == uint64(len(r.slots)) {
		if r.policy == RejectNew {
			return block, false, ErrFull
		}
		r.read++
		r.dropped++
		evicted = true
	}
	idx := r.write & r.mask
	free = r.slots[idx]
	r.slots[idx] = block
	r.write++
	return free, evicted, nil
}

// Pull hands spare to the ring and returns the oldest unread block. When the
// ring is empty spare is returned unchanged and ok is false.
func (r *Ring[T]) Pull(spare *T) (block *T, ok bool) {
	if spare == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.write == r.read {
		return spare, false
	}
	idx := r.read & r.mask
	block = r.slots[idx]
	r.slots[idx] = spare
	r.read++
	return block, true
}

// Len returns the number of unread blocks.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.write - r.read)
}

func (r *Ring[T]) Cap() int { return len(r.slots) }

// Full reports whether the next Commit would evict or be rejected.
func (r *Ring[T]) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write-r.read == uint64(len(r.slots))
}

// Dropped returns how many blocks DropOldest has evicted.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Ring[T]) Policy() Policy { return r.policy }

// Reset discards every unread block. Slot storage is kept.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	r.write = 0
	r.read = 0
	r.mu.Unlock()
}
