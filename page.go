package palloc

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

var osPageSize = os.Getpagesize()

// Page is one anonymous, private, read/write mapping obtained directly from
// the operating system. It is the anchor every other component in this
// package builds on top of: FixedPool, BumpRegion and DynamicSlab's nodes
// all get their backing bytes from a Page rather than from the Go heap.
type Page struct {
	buf  []byte // kept alive so unix.Munmap gets back the exact mmap'd slice
	Base unsafe.Pointer
	Len  int
}

// MapPages rounds n up to the OS page size and asks the kernel for a fresh
// private, anonymous, zero-initialized mapping. No caching or reuse: every
// call reaches the OS, following the original page mapper's contract that
// no other component may depend on the Go runtime's own heap.
func MapPages(n int) (*Page, error) {
	if n <= 0 {
		return nil, ErrInvalidSize
	}
	size := roundUpPage(n)
	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		errorf("palloc: mmap(%d) failed: %v", size, err)
		return nil, ErrMapFailed
	}
	return &Page{buf: buf, Base: unsafe.Pointer(&buf[0]), Len: size}, nil
}

// Unmap releases the page back to the operating system. The Page must not
// be used again afterwards.
func (p *Page) Unmap() error {
	if p.buf == nil {
		return nil
	}
	err := unix.Munmap(p.buf)
	p.buf, p.Base, p.Len = nil, nil, 0
	return err
}

func roundUpPage(n int) int {
	if rem := n % osPageSize; rem != 0 {
		n += osPageSize - rem
	}
	return n
}
