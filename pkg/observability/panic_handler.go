package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
//
// Call in a defer statement:
//
//	defer observability.RecoverPanic(logger, "webhook pass")
//
// After logging, the panic is NOT re-raised. This keeps one bad
// synchronization pass from taking the process down, at the cost of
// potentially leaving that pass half-done; the queue's completion rule
// still runs via its own defer.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}
