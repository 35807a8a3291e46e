// Package palloc supplies custom, page-backed memory management that
// bypasses the Go runtime heap entirely. Types and functions exported by
// this package are not necessarily safe for concurrent use unless their
// documentation says so explicitly.
//
// BumpRegion is a single mapped block of memory used for transient,
// monotonic-offset allocation: cheap to allocate from, and reclaimed in one
// shot by Reset instead of by individual frees.
//
// FixedPool manages a single mapped block sliced into equal-sized chunks,
// threaded through an intrusive free list. It is the unit of capacity that a
// Slab composes ten of, one per size class.
//
// Slab is the concurrent, multi-class small-object allocator: it indexes
// ten FixedPools by size class, caches recently freed blocks in a
// per-OS-thread cache so that the common path takes only that thread
// table's own mutex rather than a pool mutex, and invalidates that cache
// process-wide on Reset via a monotonic epoch counter.
//
// DynamicSlab wraps a Slab in an append-only, lock-free linked list of
// slabs so that callers get unbounded growth without taking the growth
// mutex once a slab with room exists.
package palloc
