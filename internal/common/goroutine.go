package common

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks goroutines spawned via SafeGo, for
// diagnostics.
var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via
// SafeGo or SafeGoWithContext.
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// SafeGo runs fn in a goroutine with panic recovery. A panic is logged
// with its stack trace and does not crash the process — per §7's
// "Background goroutine panic" error kind, the corresponding worker
// slot is not automatically replaced; this only prevents the whole run
// from dying with it.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(buf[:n])).
					Msg("recovered from panic in background goroutine")
			}
		}()

		fn()
	}()
}

// SafeGoWithContext runs fn in a goroutine with panic recovery, but
// skips running fn entirely if ctx is already cancelled by the time the
// goroutine is scheduled.
func SafeGoWithContext(ctx context.Context, logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(buf[:n])).
					Msg("recovered from panic in background goroutine")
			}
		}()

		select {
		case <-ctx.Done():
			logger.Debug().Str("goroutine", name).Msg("goroutine cancelled before start")
			return
		default:
		}

		fn()
	}()
}
