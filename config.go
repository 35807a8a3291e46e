package palloc

import (
	"fmt"

	s "github.com/bnclabs/gosettings"
)

// MaxCachedSlabs bounds how many distinct slabs a single OS thread's TLC
// table may cache at once. Touching a fifth distinct slab LRU-evicts the
// least-recently-touched entry.
const MaxCachedSlabs = 4

// Batch is the number of blocks a TLC class stack can hold, and the number
// of blocks pulled from a pool on a refill miss.
const Batch = 128

// DefaultSettings returns the base configuration for NewSlab and
// NewDynamicSlab, following the Defaultsettings() convention used
// throughout the teacher package (malloc/config.go, bogn/config.go,
// llrb/config.go).
//
// "scale" (float64, default: 1.0)
//
//	Scales the per-size-class block count: larger classes get
//	proportionally fewer blocks. scale <= 0 is invalid.
//
// MaxCachedSlabs and Batch are not exposed here: the TLC table they bound
// is process-wide (one per OS thread, shared across every Slab that
// thread touches), not a property of any single Slab, so they are plain
// package constants rather than per-instance settings.
func DefaultSettings() s.Settings {
	return s.Settings{
		"scale": float64(1.0),
	}
}

func settingsOrDefault(settings s.Settings) s.Settings {
	if settings == nil {
		return DefaultSettings()
	}
	return DefaultSettings().Mixin(settings)
}

func validateScale(scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("%w: scale must be > 0, got %v", ErrInvalidSize, scale)
	}
	return nil
}
