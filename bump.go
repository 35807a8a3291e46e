package palloc

import "unsafe"

// BumpRegion is a monotonic-offset linear allocator over one page-mapped
// region. It is a peer API to Slab and DynamicSlab, not composed into
// them: where a Slab hands out and reclaims individually-sized blocks, a
// BumpRegion only ever grows until Reset wipes it back to empty in one
// shot. Not safe for concurrent use.
type BumpRegion struct {
	page     *Page
	capacity int
	used     int
}

// NewBumpRegion maps a region of the given capacity.
func NewBumpRegion(capacity int) (*BumpRegion, error) {
	if capacity <= 0 {
		return nil, ErrInvalidSize
	}
	page, err := MapPages(capacity)
	if err != nil {
		return nil, err
	}
	return &BumpRegion{page: page, capacity: capacity}, nil
}

// Alloc advances the region's offset by length bytes and returns a pointer
// to the start of that span, or nil if length is zero or the region has
// insufficient remaining capacity. No alignment adjustment is performed;
// callers requesting typed storage must size their requests accordingly.
func (b *BumpRegion) Alloc(length int) unsafe.Pointer {
	if length <= 0 || b.used+length > b.capacity {
		return nil
	}
	ptr := unsafe.Add(b.page.Base, b.used)
	b.used += length
	return ptr
}

// Calloc is Alloc followed by an explicit zero-fill of the returned range.
func (b *BumpRegion) Calloc(length int) unsafe.Pointer {
	ptr := b.Alloc(length)
	if ptr == nil {
		return nil
	}
	zerofill(ptr, length)
	return ptr
}

// Reset rewinds the region to empty. Every pointer returned by a prior
// Alloc/Calloc is invalidated; the caller must ensure none are
// dereferenced afterwards.
func (b *BumpRegion) Reset() {
	b.used = 0
}

// Used returns the number of bytes currently allocated from the region.
func (b *BumpRegion) Used() int {
	return b.used
}

// Capacity returns the total size of the region.
func (b *BumpRegion) Capacity() int {
	return b.capacity
}

// Release unmaps the region's backing page. The BumpRegion must not be used
// again afterwards. A second call returns ErrReleased rather than silently
// succeeding.
func (b *BumpRegion) Release() error {
	if b.page == nil {
		return ErrReleased
	}
	err := b.page.Unmap()
	b.page, b.capacity, b.used = nil, 0, 0
	return err
}
