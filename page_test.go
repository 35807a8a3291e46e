package palloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestMapPagesRoundsUp(t *testing.T) {
	page, err := MapPages(1)
	require.NoError(t, err)
	require.Equal(t, osPageSize, page.Len)
	require.NoError(t, page.Unmap())
}

func TestMapPagesExactMultiple(t *testing.T) {
	page, err := MapPages(osPageSize * 3)
	require.NoError(t, err)
	require.Equal(t, osPageSize*3, page.Len)
	require.NoError(t, page.Unmap())
}

func TestMapPagesInvalidSize(t *testing.T) {
	_, err := MapPages(0)
	require.ErrorIs(t, err, ErrInvalidSize)

	_, err = MapPages(-1)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestPageIsWritable(t *testing.T) {
	page, err := MapPages(osPageSize)
	require.NoError(t, err)
	defer page.Unmap()

	dst := unsafe.Slice((*byte)(page.Base), page.Len)
	for i := range dst {
		dst[i] = 0x42
	}
	for i := range dst {
		require.Equal(t, byte(0x42), dst[i])
	}
}

func TestUnmapIsIdempotent(t *testing.T) {
	page, err := MapPages(osPageSize)
	require.NoError(t, err)
	require.NoError(t, page.Unmap())
	require.NoError(t, page.Unmap())
}
