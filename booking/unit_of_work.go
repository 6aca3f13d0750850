package booking

import (
	"context"
	"errors"
	"fmt"
)

// UnitOfWork groups store calls that must succeed or fail together.
//
// On a TxStore the calls run inside one native transaction and rollback is
// the database's job. On a plain Store each side effect registers a
// compensating action; if the work fails they run in reverse order.
type UnitOfWork struct {
	Store Store

	native        bool
	compensations []compensation
}

type compensation struct {
	name string
	undo func(context.Context) error
}

// OnRollback registers undo to run if the unit of work fails.
// It is a no-op inside a native transaction.
func (u *UnitOfWork) OnRollback(name string, undo func(context.Context) error) {
	if u.native {
		return
	}
	u.compensations = append(u.compensations, compensation{name: name, undo: undo})
}

// Native reports whether the unit of work runs in a database transaction.
func (u *UnitOfWork) Native() bool { return u.native }

func (u *UnitOfWork) rollback(ctx context.Context) error {
	// Compensations must run even if the request was cancelled.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(u.compensations) - 1; i >= 0; i-- {
		c := u.compensations[i]
		if err := c.undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", c.name, err))
		}
	}
	u.compensations = nil
	return errors.Join(errs...)
}

// atomically runs fn as one unit of work against store.
// If fn fails, every effect it produced is undone before the error returns.
func atomically(ctx context.Context, store Store, fn func(*UnitOfWork) error) error {
	if txs, ok := store.(TxStore); ok {
		return txs.WithTx(ctx, func(s Store) error {
			return fn(&UnitOfWork{Store: s, native: true})
		})
	}

	u := &UnitOfWork{Store: store}
	if err := fn(u); err != nil {
		if rbErr := u.rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return nil
}
