// Package lock provides the per-user exclusivity gate that serializes timer
// start/stop operations.
//
// A transaction-scoped gate is acquired inside the Entry Store transaction; any
// other gate is acquired before the transaction begins, so a waiter does not
// hold a pooled connection. Either way the gate is released after the
// transaction ends, whether it commits or rolls back. The gate is an ordering
// mechanism; the partial unique index on time_entries remains the correctness
// backstop.
package lock

import (
	"context"

	"github.com/google/uuid"
)

// Locker is implemented by store transactions that can take a lock scoped to
// their own lifetime.
type Locker interface {
	LockUser(ctx context.Context, userID uuid.UUID) error
}

// Release gives the lock back. It must be called once the enclosing
// transaction has ended and is safe to call more than once.
type Release func()

// Gate blocks until the caller holds the exclusive timer lock for userID.
// Acquisition honours ctx: a cancelled or expired context aborts the wait.
//
// TxScoped reports whether Acquire needs the open transaction. When it is
// false, Acquire is called with a nil Locker before the transaction begins.
type Gate interface {
	Acquire(ctx context.Context, tx Locker, userID uuid.UUID) (Release, error)
	TxScoped() bool
}

func noopRelease() {}

// TxGate delegates to the transaction itself (a Postgres advisory
// transaction lock). Release is a no-op: the database drops the lock at
// commit, rollback or disconnect.
type TxGate struct{}

func NewTxGate() *TxGate {
	return &TxGate{}
}

func (g *TxGate) TxScoped() bool { return true }

func (g *TxGate) Acquire(ctx context.Context, tx Locker, userID uuid.UUID) (Release, error) {
	if err := tx.LockUser(ctx, userID); err != nil {
		return nil, err
	}
	return noopRelease, nil
}
