package palloc

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	s "github.com/bnclabs/gosettings"
)

func TestNewSlabDefaultSettings(t *testing.T) {
	slab, err := NewSlab(nil)
	require.NoError(t, err)
	defer slab.Release()

	require.Equal(t, NumSizeClasses, len(slab.pools))
	for i := 1; i < NumSizeClasses; i++ {
		require.LessOrEqual(t, slab.pools[i].blockCount, slab.pools[i-1].blockCount)
	}
}

func TestNewSlabInvalidScale(t *testing.T) {
	_, err := NewSlab(s.Settings{"scale": float64(0)})
	require.ErrorIs(t, err, ErrInvalidSize)

	_, err = NewSlab(s.Settings{"scale": float64(-1)})
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestSlabAllocFreeRoundTrip(t *testing.T) {
	slab, err := NewSlab(nil)
	require.NoError(t, err)
	defer slab.Release()

	before := slab.TotalFree()
	ptr := slab.Alloc(40)
	require.NotNil(t, ptr)
	require.True(t, slab.Owns(ptr))

	slab.Free(ptr, 40)
	FlushThreadCache()
	require.Equal(t, before, slab.TotalFree())
}

func TestSlabAllocRoundsUpToClass(t *testing.T) {
	slab, err := NewSlab(nil)
	require.NoError(t, err)
	defer slab.Release()

	ptr := slab.Alloc(40)
	require.NotNil(t, ptr)
	require.True(t, slab.pools[SizeToIndex(40)].Owns(ptr))
	require.Equal(t, 64, IndexToSizeClass(SizeToIndex(40)))
}

func TestSlabAllocInvalidSize(t *testing.T) {
	slab, err := NewSlab(nil)
	require.NoError(t, err)
	defer slab.Release()

	require.Nil(t, slab.Alloc(0))
	require.Nil(t, slab.Alloc(MaxSizeClass+1))
}

func TestSlabCallocZeroes(t *testing.T) {
	slab, err := NewSlab(nil)
	require.NoError(t, err)
	defer slab.Release()

	ptr := slab.Calloc(32)
	require.NotNil(t, ptr)
	dst := unsafe.Slice((*byte)(ptr), 32)
	for _, v := range dst {
		require.Equal(t, byte(0), v)
	}
}

func TestSlabExhaustionReturnsNil(t *testing.T) {
	slab, err := NewSlab(s.Settings{"scale": float64(0.001)})
	require.NoError(t, err)
	defer slab.Release()

	idx := SizeToIndex(4096)
	cap := slab.pools[idx].blockCount

	var got []unsafe.Pointer
	for i := 0; i < cap; i++ {
		ptr := slab.Alloc(4096)
		require.NotNil(t, ptr)
		got = append(got, ptr)
	}
	require.Nil(t, slab.Alloc(4096))

	for _, ptr := range got {
		slab.Free(ptr, 4096)
	}
}

func TestSlabResetInvalidatesEpoch(t *testing.T) {
	slab, err := NewSlab(nil)
	require.NoError(t, err)
	defer slab.Release()

	epochBefore := slab.liveEpoch()

	// Populate this thread's TLC entry for slab.
	ptr := slab.Alloc(16)
	require.NotNil(t, ptr)
	slab.Free(ptr, 16)

	slab.Reset()
	require.Equal(t, epochBefore+1, slab.liveEpoch())

	// The stale entry must not be flushed as if live: its blocks were
	// already invalidated by Reset's pool rebuild, not freed again.
	table := currentThreadTable()
	entry, _ := table.lookup(slab)
	require.NotNil(t, entry)
	require.NotEqual(t, slab.liveEpoch(), entry.epoch)

	// A fresh alloc after Reset must still succeed against the rebuilt pools.
	ptr2 := slab.Alloc(16)
	require.NotNil(t, ptr2)
}

func TestSlabTLCLRUEviction(t *testing.T) {
	var slabs [MaxCachedSlabs + 1]*Slab
	for i := range slabs {
		slab, err := NewSlab(nil)
		require.NoError(t, err)
		slabs[i] = slab
		defer slab.Release()
	}

	table := currentThreadTable()
	for _, slab := range slabs {
		ptr := slab.Alloc(16)
		require.NotNil(t, ptr)
		slab.Free(ptr, 16)
	}

	// The first slab touched must have been evicted; the rest remain.
	_, idx := table.lookup(slabs[0])
	require.Equal(t, -1, idx)
	for i := 1; i < len(slabs); i++ {
		_, idx := table.lookup(slabs[i])
		require.NotEqual(t, -1, idx)
	}
}

func TestSlabBatchDrainOnFullStack(t *testing.T) {
	slab, err := NewSlab(s.Settings{"scale": float64(4)})
	require.NoError(t, err)
	defer slab.Release()

	var ptrs []unsafe.Pointer
	for i := 0; i < Batch+1; i++ {
		ptr := slab.Alloc(16)
		require.NotNil(t, ptr)
		ptrs = append(ptrs, ptr)
	}
	for _, ptr := range ptrs {
		slab.Free(ptr, 16)
	}
	FlushThreadCache()
}

func TestSlabConcurrentAllocFree(t *testing.T) {
	slab, err := NewSlab(s.Settings{"scale": float64(8)})
	require.NoError(t, err)
	defer slab.Release()

	before := slab.TotalFree()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				ptr := slab.Alloc(64)
				if ptr != nil {
					slab.Free(ptr, 64)
				}
			}
			FlushThreadCache()
		}()
	}
	wg.Wait()

	require.Equal(t, before, slab.TotalFree())
}

func TestSlabDoubleRelease(t *testing.T) {
	slab, err := NewSlab(nil)
	require.NoError(t, err)

	require.NoError(t, slab.Release())
	require.ErrorIs(t, slab.Release(), ErrReleased)
}

func TestSlabOwnsRejectsForeignPointer(t *testing.T) {
	slabA, err := NewSlab(nil)
	require.NoError(t, err)
	defer slabA.Release()
	slabB, err := NewSlab(nil)
	require.NoError(t, err)
	defer slabB.Release()

	ptr := slabA.Alloc(16)
	require.True(t, slabA.Owns(ptr))
	require.False(t, slabB.Owns(ptr))
}
