package palloc

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"

	s "github.com/bnclabs/gosettings"
)

// slabNode is one link in DynamicSlab's append-only list. next is set once
// at construction and never mutated afterwards, which is what makes a
// lock-free walk safe: a reader following next either sees the final value
// or nil, never a half-written pointer.
type slabNode struct {
	slab *Slab
	next atomic.Pointer[slabNode]
}

// DynamicSlab is an unbounded-growth wrapper around a linked chain of
// Slabs: when every existing node is exhausted for a given size, a new
// node is added at the head rather than returning nil, trading unbounded memory
// growth for a capacity guarantee the fixed-size Slab cannot offer alone.
type DynamicSlab struct {
	head     atomic.Pointer[slabNode]
	growMu   sync.Mutex
	settings s.Settings
	count    atomic.Int64 // advisory node count, relaxed
}

// NewDynamicSlab creates the initial node from settings and stores it at
// the head. settings is retained and reused for every subsequent growth
// node, so every node in the chain shares the same size-class layout.
func NewDynamicSlab(settings s.Settings) (*DynamicSlab, error) {
	settings = settingsOrDefault(settings)
	slab, err := NewSlab(settings)
	if err != nil {
		return nil, fmt.Errorf("dynamicslab: initial node: %w", err)
	}
	ds := &DynamicSlab{settings: settings}
	node := &slabNode{slab: slab}
	ds.head.Store(node)
	ds.count.Store(1)
	return ds, nil
}

// Palloc returns a block able to hold size bytes. If every node's slab is
// exhausted for this size class, a new node is added at the head under the growth
// mutex (double-checked against concurrent growers) and the allocation is
// retried against it. Returns nil only if size is invalid or node creation
// (page mapping) fails.
func (ds *DynamicSlab) Palloc(size int) unsafe.Pointer {
	if size == 0 || size == math.MaxInt {
		return nil
	}

	if ptr := ds.tryAlloc(size); ptr != nil {
		return ptr
	}

	ds.growMu.Lock()
	defer ds.growMu.Unlock()

	// Double-check: another thread may have grown the chain while we
	// waited for the mutex.
	if ptr := ds.tryAlloc(size); ptr != nil {
		return ptr
	}

	node, err := ds.newNode()
	if err != nil {
		errorf("dynamicslab: growth failed: %v", err)
		return nil
	}
	return node.slab.Alloc(size)
}

// tryAlloc walks the chain from head via acquire-loaded next pointers,
// calling Alloc(size) on each node's slab and returning the first success.
func (ds *DynamicSlab) tryAlloc(size int) unsafe.Pointer {
	for node := ds.head.Load(); node != nil; node = node.next.Load() {
		if ptr := node.slab.Alloc(size); ptr != nil {
			return ptr
		}
	}
	return nil
}

// newNode maps a fresh Slab, links it ahead of the current head (relaxed
// load is safe here: the growth mutex already excludes other growers),
// then publishes it with a release store so concurrent lock-free readers
// either see the fully-linked node or the old head, never a partial one.
func (ds *DynamicSlab) newNode() (*slabNode, error) {
	slab, err := NewSlab(ds.settings)
	if err != nil {
		return nil, err
	}
	node := &slabNode{slab: slab}
	node.next.Store(ds.head.Load())
	ds.head.Store(node)
	ds.count.Add(1)
	debugf("dynamicslab: grew to %d nodes", ds.count.Load())
	return node, nil
}

// Calloc is Palloc followed by a zero-fill of the returned size-class
// extent.
func (ds *DynamicSlab) Calloc(size int) unsafe.Pointer {
	ptr := ds.Palloc(size)
	if ptr == nil {
		return nil
	}
	idx := SizeToIndex(size)
	zerofill(ptr, IndexToSizeClass(idx))
	return ptr
}

// Free walks the chain and delegates to the first node whose slab owns
// ptr. A pointer not owned by any node is silently dropped; the contract
// is that callers never pass a foreign pointer.
func (ds *DynamicSlab) Free(ptr unsafe.Pointer, size int) {
	if ptr == nil {
		return
	}
	for node := ds.head.Load(); node != nil; node = node.next.Load() {
		if node.slab.Owns(ptr) {
			node.slab.Free(ptr, size)
			return
		}
	}
}

// TotalCapacity sums the byte capacity of every node's slab.
func (ds *DynamicSlab) TotalCapacity() int {
	total := 0
	for node := ds.head.Load(); node != nil; node = node.next.Load() {
		total += node.slab.TotalCapacity()
	}
	return total
}

// TotalFree sums the free byte space of every node's slab, subject to the
// same TLC-retention caveat as Slab.TotalFree.
func (ds *DynamicSlab) TotalFree() int {
	total := 0
	for node := ds.head.Load(); node != nil; node = node.next.Load() {
		total += node.slab.TotalFree()
	}
	return total
}

// SlabCount returns the number of nodes currently in the chain. Advisory
// only: under concurrent growth it may be stale by the time it returns.
func (ds *DynamicSlab) SlabCount() int64 {
	return ds.count.Load()
}

// Close releases every node's slab and unmaps its pages. The DynamicSlab
// must not be used again afterwards. A second call returns ErrReleased
// rather than silently succeeding.
//
// Hazard: if any OS thread other than the caller still holds TLC entries
// for slabs owned by this DynamicSlab, those entries now reference freed
// memory once Close returns — Close has no way to reach across threads to
// invalidate them. Callers must quiesce other threads (have them call the
// exported FlushThreadCache) before calling Close.
func (ds *DynamicSlab) Close() error {
	if ds.head.Load() == nil {
		return ErrReleased
	}
	FlushThreadCache()
	var firstErr error
	for node := ds.head.Load(); node != nil; node = node.next.Load() {
		if err := node.slab.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ds.head.Store(nil)
	ds.count.Store(0)
	return firstErr
}

// Report formats a human-readable utilization summary across every node in
// the chain.
func (ds *DynamicSlab) Report() string {
	out := fmt.Sprintf("dynamicslab nodes=%d\n", ds.SlabCount())
	for node, i := ds.head.Load(), 0; node != nil; node, i = node.next.Load(), i+1 {
		out += fmt.Sprintf("node %d:\n%s", i, node.slab.Report())
	}
	out += fmt.Sprintf("total: %s / %s\n",
		humanize.Bytes(uint64(ds.TotalCapacity()-ds.TotalFree())),
		humanize.Bytes(uint64(ds.TotalCapacity())))
	return out
}
