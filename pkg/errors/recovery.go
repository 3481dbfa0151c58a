package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic into a fatal internal error
// carrying the stack trace. A poison delivery payload must surface as an
// error on that one message, not take the consumer loop down.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	// Include stack trace in error details
	stackTrace := string(debug.Stack())
	return ErrInternal.
		WithCause(err).
		WithDetail("panic", true).
		WithDetail("stack_trace", stackTrace).
		AsFatal() // Panics are always fatal
}

// RecoverPanicWithCallback recovers a panic and hands the resulting error
// to the callback. Broker workers use it to log the crash and keep
// consuming.
func RecoverPanicWithCallback(r interface{}, callback func(error)) error {
	err := RecoverPanic(r)
	if err != nil && callback != nil {
		callback(err)
	}
	return err
}
