package palloc

import "unsafe"

// zerofill writes n zero bytes starting at ptr. This mirrors the teacher
// package's initblock helper (malloc/production.go), modernized to use
// unsafe.Slice instead of a manually constructed reflect.SliceHeader.
func zerofill(ptr unsafe.Pointer, n int) {
	dst := unsafe.Slice((*byte)(ptr), n)
	for i := range dst {
		dst[i] = 0
	}
}
