package palloc

import "errors"

// ErrMapFailed is returned when the page mapper could not obtain memory
// from the operating system.
var ErrMapFailed = errors.New("palloc: page mapping failed")

// ErrInvalidSize is returned by constructors when a requested capacity,
// block size or block count is nonsensical (zero or negative, or a block
// size smaller than a pointer), and wrapped when a "scale" setting is <= 0.
var ErrInvalidSize = errors.New("palloc: invalid size")

// ErrReleased is returned by Release/Close methods on a pool, region, slab
// or dynamic slab that has already been released once.
var ErrReleased = errors.New("palloc: allocator released")
