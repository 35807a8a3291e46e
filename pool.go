package palloc

import (
	"sync"
	"unsafe"
)

// FixedPool manages one page-mapped region sliced into blockCount blocks of
// blockSize bytes each, threaded through an intrusive singly-linked free
// list: the first machine word of every free block stores the address of
// the next free block. This avoids the separate index-array bookkeeping
// the teacher package uses (malloc/pool_flist.go's []uint16 freelist) in
// favor of the layout the original specification calls for.
//
// All operations are serialized by mu; a Slab gives each size class its
// own FixedPool precisely so that contention is per size class, not
// per slab.
type FixedPool struct {
	mu sync.Mutex

	page       *Page
	base       unsafe.Pointer
	blockSize  int
	blockCount int
	head       unsafe.Pointer // nil when empty
	freeSpace  int
}

// NewFixedPool maps one region of blockSize*blockCount bytes and threads a
// free list through every block in ascending address order.
func NewFixedPool(blockSize, blockCount int) (*FixedPool, error) {
	if blockSize < int(unsafe.Sizeof(uintptr(0))) || blockCount <= 0 {
		return nil, ErrInvalidSize
	}
	page, err := MapPages(blockSize * blockCount)
	if err != nil {
		return nil, err
	}
	pool := &FixedPool{
		page:       page,
		base:       page.Base,
		blockSize:  blockSize,
		blockCount: blockCount,
	}
	pool.relinkLocked()
	return pool, nil
}

// relinkLocked rebuilds the free list over the entire backing region in
// ascending address order. Caller holds mu (or owns the pool exclusively,
// as during construction).
func (p *FixedPool) relinkLocked() {
	var head unsafe.Pointer
	for i := p.blockCount - 1; i >= 0; i-- {
		block := p.blockAt(i)
		setNextFree(block, head)
		head = block
	}
	p.head = head
	p.freeSpace = p.blockSize * p.blockCount
}

func (p *FixedPool) blockAt(i int) unsafe.Pointer {
	return unsafe.Add(p.base, i*p.blockSize)
}

// Alloc pops the head of the free list, or returns nil if the pool is
// exhausted.
func (p *FixedPool) Alloc() unsafe.Pointer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head == nil {
		return nil
	}
	block := p.head
	p.head = nextFree(block)
	p.freeSpace -= p.blockSize
	return block
}

// AllocBatch pops up to n blocks off the free list in one locked section,
// returning however many were actually available (possibly zero). This is
// the primitive a Slab's TLC refill draws on, so a miss costs one lock
// acquisition instead of n.
func (p *FixedPool) AllocBatch(n int, out []unsafe.Pointer) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	got := 0
	for got < n && p.head != nil {
		block := p.head
		p.head = nextFree(block)
		out[got] = block
		got++
	}
	p.freeSpace -= got * p.blockSize
	return got
}

// Free pushes ptr back onto the head of the free list. The caller warrants
// that ptr was obtained from this pool and has not been freed since; this
// is not and cannot be checked here (see ERROR HANDLING DESIGN, case 4).
func (p *FixedPool) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeLocked(ptr)
}

func (p *FixedPool) freeLocked(ptr unsafe.Pointer) {
	poisonfill(ptr, p.blockSize)
	setNextFree(ptr, p.head)
	p.head = ptr
	p.freeSpace += p.blockSize
}

// FreeBatch returns n pointers to the pool in one locked section, the
// mirror of AllocBatch, used when a TLC class stack drains back down to
// half capacity.
func (p *FixedPool) FreeBatch(ptrs []unsafe.Pointer) {
	if len(ptrs) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ptr := range ptrs {
		p.freeLocked(ptr)
	}
}

// Reset rebuilds the free list over the entire region, discarding whatever
// was allocated. Outstanding pointers handed out before Reset become
// invalid immediately.
func (p *FixedPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relinkLocked()
}

// Owns reports whether ptr falls within this pool's backing region.
func (p *FixedPool) Owns(ptr unsafe.Pointer) bool {
	start := uintptr(p.base)
	end := start + uintptr(p.blockSize*p.blockCount)
	addr := uintptr(ptr)
	return addr >= start && addr < end
}

// FreeSpace returns the number of free bytes remaining in the pool.
func (p *FixedPool) FreeSpace() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeSpace
}

// Capacity returns the total number of bytes the pool manages.
func (p *FixedPool) Capacity() int {
	return p.blockSize * p.blockCount
}

// Release unmaps the pool's backing page. The FixedPool must not be used
// again afterwards. A second call returns ErrReleased rather than
// silently succeeding.
func (p *FixedPool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.page == nil {
		return ErrReleased
	}
	err := p.page.Unmap()
	p.page, p.base, p.head, p.freeSpace = nil, nil, nil, 0
	return err
}

func nextFree(block unsafe.Pointer) unsafe.Pointer {
	return *(*unsafe.Pointer)(block)
}

func setNextFree(block, next unsafe.Pointer) {
	*(*unsafe.Pointer)(block) = next
}
