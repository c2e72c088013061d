package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic and logs it with the stack trace at
// Error level. Call it in a defer; the panic is swallowed, not
// re-raised. Background jobs use this so one bad sweep cannot take
// the process down.
func RecoverPanic(logger *Logger, operation string) {
	if r := recover(); r != nil {
		if logger == nil {
			logger = NewNopLogger()
		}
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("operation", operation).
			Error("Recovered from panic")
	}
}

// RecoverPanicWithCallback recovers a panic like RecoverPanic and then
// runs callback. The callback only runs when a panic occurred, after
// it has been logged.
func RecoverPanicWithCallback(logger *Logger, operation string, callback func()) {
	if r := recover(); r != nil {
		if logger == nil {
			logger = NewNopLogger()
		}
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("operation", operation).
			Error("Recovered from panic")
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered panic value to an error:
//
//	defer func() {
//	    err = observability.MustRecover(recover())
//	}()
//
// Returns nil when r is nil. The stack trace is not captured; use
// RecoverPanic when it matters.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
