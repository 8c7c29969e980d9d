package utils

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"go.uber.org/zap"
)

// RecoverFn handles a recovered panic value and its stack.
type RecoverFn func(r interface{}, stack []byte)

// SafeGo runs fn in a goroutine and recovers any panic. When onPanic is nil the panic is logged.
func SafeGo(fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if onPanic != nil {
					onPanic(r, stack)
					return
				}
				if logger.Log != nil {
					logger.Log.Error("[panic] Recovered from panic in goroutine",
						zap.Any("panic", r),
						zap.ByteString("stack", stack),
					)
					return
				}
				fmt.Fprintf(os.Stderr, "[PANIC] Recovered from panic in goroutine: %v\n%s\n", r, stack)
			}
		}()
		fn()
	}()
}

// RecoverWithLog must be deferred directly. It logs a recovered panic with the context logger.
func RecoverWithLog(ctx context.Context, operation string) {
	if r := recover(); r != nil {
		stack := debug.Stack()
		if log := logger.FromContext(ctx); log != nil {
			log.Error(fmt.Sprintf("[panic] Recovered from panic during %s", operation),
				zap.Any("panic", r),
				zap.ByteString("stack", stack),
			)
			return
		}
		fmt.Fprintf(os.Stderr, "[PANIC] Recovered from panic during %s: %v\n%s\n", operation, r, stack)
	}
}

// WrapWithRecovery converts a panic inside fn into a returned error.
func WrapWithRecovery(fn func() error) func() (err error) {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				if logger.Log != nil {
					logger.Log.Error("[panic] Recovered from panic",
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
				}
				err = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return fn()
	}
}
