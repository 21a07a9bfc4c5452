package atomic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// OperationFunc is a forward step in a transaction.
type OperationFunc func(ctx context.Context) error

// RollbackFunc undoes a completed forward step. It must tolerate being
// called after its operation only partially succeeded.
type RollbackFunc func(ctx context.Context) error

type txState int

const (
	txCreated txState = iota
	txExecuting
	txCommitted
	txRolledBack
)

// Transaction is an ordered group of operations with paired rollbacks,
// executed sequentially with all-or-nothing semantics. It is single-use:
// Execute consumes it and a finished transaction rejects further work with
// ErrTxDone.
type Transaction struct {
	mu        sync.Mutex
	ops       []OperationFunc
	rollbacks []RollbackFunc // reverse registration order
	tempPaths []string
	state     txState
	rbDone    bool
	rbOK      bool
}

// NewTransaction returns an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{}
}

// Add appends a forward operation. Its rollback, when non-nil, runs before
// the rollbacks of earlier operations.
func (t *Transaction) Add(op OperationFunc, rollback RollbackFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txCreated {
		return ErrTxDone
	}
	t.ops = append(t.ops, op)
	if rollback != nil {
		t.rollbacks = append([]RollbackFunc{rollback}, t.rollbacks...)
	}
	return nil
}

// TrackTempPath registers a path removed unconditionally once the
// transaction finishes, whether it commits or rolls back.
func (t *Transaction) TrackTempPath(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tempPaths = append(t.tempPaths, path)
}

// Execute runs the operations in registration order. The first failure stops
// execution, rolls back every completed step in reverse order and reports
// the triggering error, not any rollback error.
func (t *Transaction) Execute(ctx context.Context) *Result[struct{}] {
	t.mu.Lock()
	if t.state != txCreated {
		t.mu.Unlock()
		return fail[struct{}](ErrTxDone, false, nil)
	}
	t.state = txExecuting
	ops := t.ops
	t.mu.Unlock()

	for i, op := range ops {
		if err := op(ctx); err != nil {
			rolled := t.Rollback(ctx)
			return fail[struct{}](fmt.Errorf("atomic: transaction step %d: %w", i+1, err), rolled, t.snapshotTempPaths())
		}
	}

	t.mu.Lock()
	t.state = txCommitted
	paths := append([]string(nil), t.tempPaths...)
	t.mu.Unlock()

	removeAll(paths)
	return succeed(struct{}{}, paths)
}

// Rollback undoes completed operations in reverse registration order,
// then removes tracked temp paths. Individual rollback failures are logged
// and do not stop later rollbacks. Idempotent: a second call re-runs nothing
// and returns the first outcome. Reports whether every rollback step
// succeeded.
func (t *Transaction) Rollback(ctx context.Context) bool {
	t.mu.Lock()
	if t.rbDone || t.state == txCommitted {
		ok := t.rbOK || t.state == txCommitted
		t.mu.Unlock()
		return ok
	}
	t.rbDone = true
	t.state = txRolledBack
	rollbacks := t.rollbacks
	paths := append([]string(nil), t.tempPaths...)
	t.mu.Unlock()

	ok := true
	for _, rb := range rollbacks {
		if err := rb(ctx); err != nil {
			slog.Error("atomic: rollback step failed", "error", fmt.Errorf("%w: %v", ErrRollback, err))
			ok = false
		}
	}
	removeAll(paths)

	t.mu.Lock()
	t.rbOK = ok
	t.mu.Unlock()
	return ok
}

func (t *Transaction) snapshotTempPaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tempPaths...)
}

func removeAll(paths []string) {
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			slog.Debug("atomic: temp cleanup failed", "path", p, "error", err)
		}
	}
}

// WithRollback runs op and, when it fails, runs rollback before reporting
// the failure. The operation's value is returned on success.
func WithRollback[T any](ctx context.Context, op func(ctx context.Context) (T, error), rollback RollbackFunc) *Result[T] {
	value, err := op(ctx)
	if err == nil {
		return succeed(value, nil)
	}
	rolled := false
	if rollback != nil {
		if rbErr := rollback(ctx); rbErr != nil {
			slog.Error("atomic: rollback failed", "error", fmt.Errorf("%w: %v", ErrRollback, rbErr))
		} else {
			rolled = true
		}
	}
	return fail[T](err, rolled, nil)
}
