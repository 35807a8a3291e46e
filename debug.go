//go:build debug

package palloc

import "unsafe"

// poisonBytePattern marks a freed block so that a read through a
// use-after-free pointer is visibly wrong instead of silently plausible.
// Only compiled in with -tags debug; see production.go for the default.
const poisonBytePattern = 0xDD

func poisonfill(ptr unsafe.Pointer, n int) {
	dst := unsafe.Slice((*byte)(ptr), n)
	for i := range dst {
		dst[i] = poisonBytePattern
	}
}
