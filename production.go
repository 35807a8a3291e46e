//go:build !debug

package palloc

import "unsafe"

// poisonfill is a no-op in production builds. Build with -tags debug to
// enable use-after-free poisoning (see debug.go), mirroring the teacher
// package's debug.go/production.go build-tag split.
func poisonfill(ptr unsafe.Pointer, n int) {}
