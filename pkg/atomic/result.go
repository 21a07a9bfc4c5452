// Package atomic provides crash-safe filesystem operations built on the
// write-then-rename pattern: file writes, directory copies and renames are
// staged on the side and committed with a single same-volume rename, with
// backup-and-restore rollback when anything fails before the commit.
//
// Concurrent operations on the same target are not serialized; the last
// rename wins, but every individual writer still commits a complete,
// never-torn result.
package atomic

// Result is the outcome of an atomic operation. Public entry points never
// panic across the package boundary; failures land here.
type Result[T any] struct {
	// Success reports whether the operation committed.
	Success bool
	// Value carries the operation's product, when it has one.
	Value T
	// Err is the triggering failure. Set exactly when Success is false.
	Err error
	// RollbackPerformed reports whether a compensating rollback ran and
	// restored the pre-call state. Always false on success.
	RollbackPerformed bool
	// TempPaths lists every temporary, staging and backup path created
	// during the attempt, whether or not it still exists.
	TempPaths []string
}

func succeed[T any](value T, tempPaths []string) *Result[T] {
	return &Result[T]{Success: true, Value: value, TempPaths: tempPaths}
}

func fail[T any](err error, rolledBack bool, tempPaths []string) *Result[T] {
	return &Result[T]{Err: err, RollbackPerformed: rolledBack, TempPaths: tempPaths}
}
