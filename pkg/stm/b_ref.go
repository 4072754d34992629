package stm

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
)

// Ref is a handle to a versioned value in an STM's store. Writes are only
// legal inside a transaction; see Atomically.
type Ref[A any] struct {
	id  uint64
	stm *STM
}

// NewRef registers value in s. validator may be nil. An invalid initial value
// fails with ErrValidation and nothing is inserted.
func NewRef[A any](s *STM, value A, validator func(A) bool) (*Ref[A], error) {
	if validator != nil && !validator(value) {
		return nil, errors.Wrap(ErrValidation, "initial ref value")
	}

	var validate func(any) bool
	if validator != nil {
		validate = func(v any) bool { return validator(cast[A](v)) }
	}

	ref := &Ref[A]{id: nextRefID.Add(1), stm: s}
	err := s.store.Put(&RefState{
		id:        ref.id,
		version:   1,
		value:     value,
		validator: validate,
	})
	if err != nil {
		return nil, err
	}

	// the entry goes away once nobody can reach the handle; ids are never reused
	runtime.SetFinalizer(ref, func(r *Ref[A]) {
		r.stm.release(r.id)
	})
	return ref, nil
}

// MakeRef is NewRef on the Default STM.
func MakeRef[A any](value A, validator func(A) bool) (*Ref[A], error) {
	return NewRef(Default(), value, validator)
}

func (r *Ref[A]) ID() uint64 {
	return r.id
}

func (r *Ref[A]) STM() *STM {
	return r.stm
}

func (r *Ref[A]) txn(ctx context.Context) (*Tx, error) {
	tx, ok := TxFrom(ctx)
	if !ok {
		return nil, nil
	}
	if tx.stm != r.stm {
		return nil, errors.Wrapf(ErrForeignRef, "ref %d", r.id)
	}
	tx.pin(r.id, r)
	return tx, nil
}

// Deref returns the latest committed value without a transaction.
func (r *Ref[A]) Deref() A {
	state, ok := r.stm.store.Get(r.id)
	// the finalizer must not drop the entry while it is being read
	runtime.KeepAlive(r)
	if !ok {
		var zero A
		return zero
	}
	return cast[A](state.value)
}

// Get reads through the transaction in ctx, or the latest committed value
// when there is none.
func (r *Ref[A]) Get(ctx context.Context) (A, error) {
	tx, err := r.txn(ctx)
	if err != nil {
		var zero A
		return zero, err
	}
	if tx == nil {
		return r.Deref(), nil
	}

	value, err := tx.get(r.id)
	if err != nil {
		var zero A
		return zero, err
	}
	return cast[A](value), nil
}

// Set buffers value in the transaction in ctx. It fails with
// ErrNoTransaction when there is none.
func (r *Ref[A]) Set(ctx context.Context, value A) error {
	tx, err := r.txn(ctx)
	if err != nil {
		return err
	}
	if tx == nil {
		return errors.Wrapf(ErrNoTransaction, "ref %d", r.id)
	}
	return tx.set(r.id, value)
}

// Swap reads the ref, applies fn and writes the result back. Outside a
// transaction it runs in one of its own.
func (r *Ref[A]) Swap(ctx context.Context, fn func(A) A) (A, error) {
	return Compute(ctx, r.stm, func(ctx context.Context) (A, error) {
		current, err := r.Get(ctx)
		if err != nil {
			return current, err
		}
		next := fn(current)
		return next, r.Set(ctx, next)
	})
}

// Commute applies fn now and again at commit against the latest committed
// value, so concurrent commutes of the same ref do not conflict. fn must be
// safe to reorder. Inside a transaction the returned value may differ from
// the one finally committed; outside one the committed value is returned.
func (r *Ref[A]) Commute(ctx context.Context, fn func(A) A) (A, error) {
	apply := func(v any) any { return fn(cast[A](v)) }

	if _, ok := TxFrom(ctx); !ok {
		return Compute(ctx, r.stm, func(ctx context.Context) (A, error) {
			return r.Commute(ctx, fn)
		}, returning(r.id))
	}

	tx, err := r.txn(ctx)
	if err != nil {
		var zero A
		return zero, err
	}
	value, err := tx.commute(r.id, apply)
	if err != nil {
		var zero A
		return zero, err
	}
	return cast[A](value), nil
}
