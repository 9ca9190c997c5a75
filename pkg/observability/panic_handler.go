package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack trace.
// Must be called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "monthly generation job")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverToError converts a recovered panic value into an error, nil if r is nil
//
//	defer func() {
//	    if perr := observability.RecoverToError(recover()); perr != nil {
//	        err = perr
//	    }
//	}()
func RecoverToError(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
