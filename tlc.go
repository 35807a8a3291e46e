package palloc

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// threadID identifies the calling OS thread. Go has no first-class
// thread-local storage, so the TLC keys off the kernel thread id instead of
// goroutine identity — see SPEC_FULL.md section 5 for the consequences of
// a goroutine migrating between OS threads mid-lifetime.
func threadID() int64 {
	return int64(unix.Gettid())
}

// classStack is a bounded LIFO stack of free blocks for one size class,
// capacity Batch. Order is LIFO for hot-cache locality, matching the
// teacher package's intrusive free lists, which are also LIFO.
type classStack struct {
	blocks []unsafe.Pointer
}

func (s *classStack) push(ptr unsafe.Pointer) bool {
	if len(s.blocks) >= Batch {
		return false
	}
	s.blocks = append(s.blocks, ptr)
	return true
}

func (s *classStack) pop() unsafe.Pointer {
	n := len(s.blocks)
	if n == 0 {
		return nil
	}
	ptr := s.blocks[n-1]
	s.blocks = s.blocks[:n-1]
	return ptr
}

// tlcEntry is one thread's cached view of one slab: the epoch it was
// populated at, and one classStack per size class.
type tlcEntry struct {
	slab     *Slab
	epoch    uint64
	stacks   [NumSizeClasses]classStack
	lastUsed uint64 // logical clock for LRU eviction, not wall time
}

// threadTable is the per-OS-thread-id cache: up to MaxCachedSlabs entries,
// one per distinct Slab the thread has touched. It is looked up once from
// the process-wide registry, keyed by unix.Gettid().
//
// A *threadTable found this way is NOT guaranteed to be touched by only one
// goroutine at a time: Go goroutines are not pinned to OS threads (nothing
// here calls runtime.LockOSThread), so a goroutine can be descheduled mid
// Alloc/Free — e.g. while blocked acquiring a FixedPool's mutex in the
// miss/refill path — and resume on a different M, while whatever goroutine
// now actually runs on the original thread independently resolves the same
// tid and reaches for the same table. mu serializes every access to the
// entries array and the classStacks reachable through it, so that race
// cannot corrupt a stack's backing slice. Every TLC access therefore
// takes mu, and a thread-id collision adds contention on it: a performance
// caveat, not a correctness one.
type threadTable struct {
	mu      sync.Mutex
	entries [MaxCachedSlabs]*tlcEntry
	clock   uint64
}

var tlcRegistry sync.Map // int64 (thread id) -> *threadTable

func currentThreadTable() *threadTable {
	tid := threadID()
	if v, ok := tlcRegistry.Load(tid); ok {
		return v.(*threadTable)
	}
	table := &threadTable{}
	actual, _ := tlcRegistry.LoadOrStore(tid, table)
	return actual.(*threadTable)
}

// lookup returns the entry for slab if present, whatever its epoch,
// touching its LRU clock. A present-but-stale entry is returned too, so
// that callers can distinguish "never cached" from "cached but stale"
// without a second table scan. Safe for concurrent use; takes t.mu itself.
func (t *threadTable) lookup(slab *Slab) (entry *tlcEntry, idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupLocked(slab)
}

// lookupLocked is lookup's body, callable only while t.mu is already held.
func (t *threadTable) lookupLocked(slab *Slab) (entry *tlcEntry, idx int) {
	for i, e := range t.entries {
		if e != nil && e.slab == slab {
			t.clock++
			e.lastUsed = t.clock
			return e, i
		}
	}
	return nil, -1
}

// tryPop pops a cached block for slab's size class idx, but only from a
// live (epoch-matching) entry. Returns nil on a cache miss or stale entry,
// in which case the caller must refill from the pool.
func (t *threadTable) tryPop(slab *Slab, idx int, live uint64) unsafe.Pointer {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, _ := t.lookupLocked(slab)
	if entry == nil || entry.epoch != live {
		return nil
	}
	return entry.stacks[idx].pop()
}

// tryPush pushes ptr into this thread's cached stack for slab's size class
// idx, draining half the stack back to the pool first if it is already
// full. Returns false if there is no live cached entry for slab, in which
// case the caller must free ptr directly to the pool instead.
func (t *threadTable) tryPush(slab *Slab, idx int, live uint64, ptr unsafe.Pointer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, _ := t.lookupLocked(slab)
	if entry == nil || entry.epoch != live {
		return false
	}
	if !entry.stacks[idx].push(ptr) {
		slab.drainHalf(entry, idx)
		entry.stacks[idx].push(ptr)
	}
	return true
}

// refill acquires (creating or re-epoching if needed) the entry for slab
// and pushes extra into its class-idx stack. extra holds the blocks left
// over after the caller already consumed one directly from a pool refill.
func (t *threadTable) refill(slab *Slab, idx int, live uint64, extra []unsafe.Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.acquireLocked(slab, live)
	for _, ptr := range extra {
		entry.stacks[idx].push(ptr)
	}
}

// acquireLocked returns the live (epoch-matching) entry for slab, creating
// one (possibly evicting the LRU entry) if none exists or the existing one
// is stale. Callable only while t.mu is already held.
func (t *threadTable) acquireLocked(slab *Slab, liveEpoch uint64) *tlcEntry {
	if e, _ := t.lookupLocked(slab); e != nil {
		if e.epoch == liveEpoch {
			return e
		}
		// stale: discard its contents without freeing (see DESIGN.md
		// open-question resolution) and re-epoch it in place.
		for i := range e.stacks {
			e.stacks[i].blocks = e.stacks[i].blocks[:0]
		}
		e.epoch = liveEpoch
		return e
	}
	return t.insertLocked(slab, liveEpoch)
}

// insertLocked creates a fresh entry for slab, evicting the LRU entry if
// the table is already full. Callable only while t.mu is already held.
func (t *threadTable) insertLocked(slab *Slab, liveEpoch uint64) *tlcEntry {
	slot := -1
	for i, e := range t.entries {
		if e == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		slot = t.lruSlot()
		t.evictLocked(slot)
	}
	t.clock++
	entry := &tlcEntry{slab: slab, epoch: liveEpoch, lastUsed: t.clock}
	t.entries[slot] = entry
	return entry
}

func (t *threadTable) lruSlot() int {
	slot := 0
	oldest := t.entries[0].lastUsed
	for i := 1; i < MaxCachedSlabs; i++ {
		if t.entries[i].lastUsed < oldest {
			oldest, slot = t.entries[i].lastUsed, i
		}
	}
	return slot
}

// evictLocked flushes an entry's remaining class stacks back to their
// pools, but only if the entry's epoch still matches its slab's live epoch
// — otherwise the pointers are stale (they may now belong to
// re-initialized pool storage after a Reset) and must be dropped instead
// of freed. Callable only while t.mu is already held.
func (t *threadTable) evictLocked(slot int) {
	entry := t.entries[slot]
	if entry == nil {
		return
	}
	if entry.epoch == entry.slab.liveEpoch() {
		entry.slab.flushEntry(entry)
	}
	t.entries[slot] = nil
}

// flushAll drains every live entry in the table back to its slab's pools,
// dropping stale entries without freeing. Exported via FlushThreadCache for
// callers that must quiesce a thread's cache before a DynamicSlab.Close.
func (t *threadTable) flushAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		if e.epoch == e.slab.liveEpoch() {
			e.slab.flushEntry(e)
		}
		t.entries[i] = nil
	}
}

// FlushThreadCache drains the calling OS thread's TLC back to the pools it
// was drawn from. Call this on every thread other than the one calling
// DynamicSlab.Close before closing, per the documented hazard in
// SPEC_FULL.md section 4.5 — Close cannot reach across threads itself.
func FlushThreadCache() {
	tid := threadID()
	if v, ok := tlcRegistry.Load(tid); ok {
		v.(*threadTable).flushAll()
	}
}
