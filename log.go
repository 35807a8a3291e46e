package palloc

import (
	"sync/atomic"

	// github.com/bnclabs/golog declares itself as `package log`.
	"github.com/bnclabs/golog"
)

var logok int64

// EnableLogging turns on diagnostic logging for the whole package if any
// of the named components is recognized; there is a single package-wide
// switch, so output is not filtered per component. By default logging is
// disabled and every call below is a single atomic load. Recognized
// components: "slab", "dynamicslab", "pool", "all".
// Mirrors llrb.LogComponents from the teacher package.
func EnableLogging(components ...string) {
	for _, comp := range components {
		switch comp {
		case "slab", "dynamicslab", "pool", "all":
			atomic.StoreInt64(&logok, 1)
		}
	}
}

// DisableLogging turns diagnostic logging back off.
func DisableLogging() {
	atomic.StoreInt64(&logok, 0)
}

func debugf(format string, v ...interface{}) {
	if atomic.LoadInt64(&logok) > 0 {
		log.Debugf(format, v...)
	}
}

func warnf(format string, v ...interface{}) {
	if atomic.LoadInt64(&logok) > 0 {
		log.Warnf(format, v...)
	}
}

func errorf(format string, v ...interface{}) {
	if atomic.LoadInt64(&logok) > 0 {
		log.Errorf(format, v...)
	}
}
