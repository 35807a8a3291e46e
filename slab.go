package palloc

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	s "github.com/bnclabs/gosettings"
	"github.com/dustin/go-humanize"
)

// Slab is the concurrent, multi-class small-object allocator. It owns one
// FixedPool per size class and a monotonic epoch counter that lets it
// invalidate every OS thread's cached view of its pools in O(1), without
// reaching across threads, by incrementing the epoch on Reset.
type Slab struct {
	pools [NumSizeClasses]*FixedPool
	epoch atomic.Uint64
}

// NewSlab builds one FixedPool per size class, sized by the "scale"
// setting: larger size classes get proportionally fewer blocks so that
// every pool occupies roughly the same footprint. See DefaultSettings.
func NewSlab(settings s.Settings) (*Slab, error) {
	settings = settingsOrDefault(settings)
	scale := settings.Float64("scale")
	if err := validateScale(scale); err != nil {
		return nil, err
	}

	slab := &Slab{}
	for i, size := range sizeClasses {
		count := blockCountForClass(i, scale)
		pool, err := NewFixedPool(size, count)
		if err != nil {
			slab.release(i)
			return nil, fmt.Errorf("slab: class %d (%d bytes): %w", i, size, err)
		}
		slab.pools[i] = pool
	}
	return slab, nil
}

// blockCountForClass derives a monotonically decreasing block count across
// the ladder: each step up in size class halves the block count, keeping
// every pool's total byte footprint roughly constant. Always at least one
// block for scale > 0, as required by the DATA MODEL contract.
func blockCountForClass(classIdx int, scale float64) int {
	base := int(1024 * scale)
	if base < 1 {
		base = 1
	}
	count := base >> classIdx
	if count < 1 {
		count = 1
	}
	return count
}

func (slab *Slab) release(upTo int) error {
	var firstErr error
	for i := 0; i < upTo; i++ {
		if slab.pools[i] == nil {
			continue
		}
		if err := slab.pools[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// liveEpoch returns the slab's current epoch with acquire ordering, the
// value every TLC hit compares its recorded epoch against.
func (slab *Slab) liveEpoch() uint64 {
	return slab.epoch.Load()
}

// Alloc returns a block able to hold size bytes, or nil if size is
// invalid or every source of blocks for its size class is exhausted.
func (slab *Slab) Alloc(size int) unsafe.Pointer {
	idx := SizeToIndex(size)
	if idx < 0 {
		return nil
	}

	table := currentThreadTable()
	live := slab.liveEpoch()
	if ptr := table.tryPop(slab, idx, live); ptr != nil {
		return ptr
	}

	// Miss: refill from the pool under its own mutex. A batch drawn here
	// costs one lock acquisition regardless of how large the batch is.
	var batch [Batch]unsafe.Pointer
	n := slab.pools[idx].AllocBatch(Batch, batch[:])
	if n == 0 {
		return nil
	}

	table.refill(slab, idx, live, batch[1:n])
	debugf("slab: refilled class %d with %d blocks", idx, n-1)
	return batch[0]
}

// Calloc is Alloc followed by a zero-fill of the entire size-class extent
// backing the returned pointer, not merely the requested size.
func (slab *Slab) Calloc(size int) unsafe.Pointer {
	ptr := slab.Alloc(size)
	if ptr == nil {
		return nil
	}
	idx := SizeToIndex(size)
	zerofill(ptr, IndexToSizeClass(idx))
	return ptr
}

// Free returns ptr, previously obtained from Alloc(size) or Calloc(size)
// on this slab, back to circulation. Invalid sizes and nil pointers are a
// silent no-op.
func (slab *Slab) Free(ptr unsafe.Pointer, size int) {
	if ptr == nil {
		return
	}
	idx := SizeToIndex(size)
	if idx < 0 {
		return
	}

	table := currentThreadTable()
	live := slab.liveEpoch()
	if table.tryPush(slab, idx, live, ptr) {
		return
	}

	// TLC entry missing or stale: return directly to the pool. A new TLC
	// entry is never materialized on free.
	slab.pools[idx].Free(ptr)
}

// drainHalf returns half of entry's cached blocks for size class idx back
// to the pool, making room for at least one more push.
func (slab *Slab) drainHalf(entry *tlcEntry, idx int) {
	stack := &entry.stacks[idx]
	half := Batch / 2
	drain := len(stack.blocks) - half
	if drain <= 0 {
		return
	}
	victims := make([]unsafe.Pointer, drain)
	copy(victims, stack.blocks[:drain])
	slab.pools[idx].FreeBatch(victims)
	stack.blocks = append(stack.blocks[:0], stack.blocks[drain:]...)
}

// flushEntry drains every class stack in entry back to this slab's pools.
// Called by threadTable eviction/flush logic; entry.epoch must already be
// known to match slab's live epoch before calling this.
func (slab *Slab) flushEntry(entry *tlcEntry) {
	for i := range entry.stacks {
		if blocks := entry.stacks[i].blocks; len(blocks) > 0 {
			slab.pools[i].FreeBatch(blocks)
			entry.stacks[i].blocks = nil
		}
	}
}

// Owns reports whether ptr was handed out by one of this slab's pools.
func (slab *Slab) Owns(ptr unsafe.Pointer) bool {
	for _, pool := range slab.pools {
		if pool.Owns(ptr) {
			return true
		}
	}
	return false
}

// Reset invalidates every outstanding block and every OS thread's cached
// view of this slab in one step: the epoch counter is incremented first
// (release ordering), then every pool is rebuilt under its own mutex.
// Callers must not use or free pointers obtained before Reset.
func (slab *Slab) Reset() {
	slab.epoch.Add(1)
	for _, pool := range slab.pools {
		pool.Reset()
	}
	warnf("slab: reset, new epoch %d", slab.liveEpoch())
}

// TotalCapacity sums the byte capacity of every size class's pool.
func (slab *Slab) TotalCapacity() int {
	total := 0
	for _, pool := range slab.pools {
		total += pool.Capacity()
	}
	return total
}

// TotalFree sums the free byte space remaining in every size class's pool.
// Blocks currently sitting in an OS thread's TLC are, by design, not
// counted as free by a pool until that thread's cache drains them back
// (see DESIGN.md); call FlushThreadCache on every thread that has touched
// this slab before relying on TotalFree for exact accounting.
func (slab *Slab) TotalFree() int {
	total := 0
	for _, pool := range slab.pools {
		total += pool.FreeSpace()
	}
	return total
}

// Release unmaps every pool's backing page. The Slab must not be used
// again afterwards. A second call returns the first pool's ErrReleased.
func (slab *Slab) Release() error {
	return slab.release(NumSizeClasses)
}

// Report formats a human-readable utilization summary, one line per size
// class plus a totals line, intended for diagnostic logging rather than
// the stress-test timing output the original spec places out of scope.
func (slab *Slab) Report() string {
	out := fmt.Sprintf("slab epoch=%d\n", slab.liveEpoch())
	for i, pool := range slab.pools {
		used := pool.Capacity() - pool.FreeSpace()
		out += fmt.Sprintf("  class %5s: used %s / %s\n",
			humanize.Bytes(uint64(IndexToSizeClass(i))),
			humanize.Bytes(uint64(used)),
			humanize.Bytes(uint64(pool.Capacity())))
	}
	out += fmt.Sprintf("  total: %s / %s\n",
		humanize.Bytes(uint64(slab.TotalCapacity()-slab.TotalFree())),
		humanize.Bytes(uint64(slab.TotalCapacity())))
	return out
}
