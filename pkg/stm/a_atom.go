package stm

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// DefaultMaxRetries bounds every swap and transaction retry loop.
const DefaultMaxRetries = 500

type box[A any] struct {
	value A
}

type atomConfig[A any] struct {
	validator  func(A) bool
	onChange   func(A)
	maxRetries int
}

type AtomOption[A any] func(*atomConfig[A])

// Validate rejects any value for which fn returns false.
func Validate[A any](fn func(A) bool) AtomOption[A] {
	return func(cfg *atomConfig[A]) { cfg.validator = fn }
}

// OnChange registers a callback fired after every successful swap.
func OnChange[A any](fn func(A)) AtomOption[A] {
	return func(cfg *atomConfig[A]) { cfg.onChange = fn }
}

func MaxSwapRetries[A any](n int) AtomOption[A] {
	return func(cfg *atomConfig[A]) {
		if n > 0 {
			cfg.maxRetries = n
		}
	}
}

// cell is the CAS-updated slot shared by Atom, MetaAtom and the global store.
type cell[A any] struct {
	state      atomic.Pointer[box[A]]
	validator  func(A) bool
	onChange   func(A)
	maxRetries int
}

func (c *cell[A]) init(value A, opts []AtomOption[A]) error {
	cfg := atomConfig[A]{maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.validator != nil && !cfg.validator(value) {
		return errors.Wrap(ErrValidation, "initial atom value")
	}

	c.validator = cfg.validator
	c.onChange = cfg.onChange
	c.maxRetries = cfg.maxRetries
	c.state.Store(&box[A]{value: value})
	return nil
}

func (c *cell[A]) valid(value A) bool {
	return c.validator == nil || c.validator(value)
}

// Value returns the current value.
func (c *cell[A]) Value() A {
	return c.state.Load().value
}

// Reset unconditionally replaces the value, subject to the validator.
func (c *cell[A]) Reset(value A) (bool, error) {
	return c.swap(context.Background(), func(context.Context, A) (A, error) {
		return value, nil
	})
}

// swap re-reads the box and re-invokes fn after every lost CAS, so fn must
// be free of side effects. A false result with a nil error means the
// validator rejected the new value.
func (c *cell[A]) swap(ctx context.Context, fn func(context.Context, A) (A, error)) (bool, error) {
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		current := c.state.Load()
		next, err := fn(ctx, current.value)
		if err != nil {
			return false, err
		}
		if !c.valid(next) {
			return false, nil
		}

		if c.state.CompareAndSwap(current, &box[A]{value: next}) {
			if c.onChange != nil {
				c.onChange(next)
			}
			return true, nil
		}
	}
	return false, &RetriesExhaustedError{Attempts: c.maxRetries}
}

// SwapResult is delivered by the SwapAsync variants.
type SwapResult struct {
	Swapped bool
	Err     error
}

func swapAsync(ctx context.Context, run func(context.Context) (bool, error)) <-chan SwapResult {
	resultCh := make(chan SwapResult, 1)
	go func() {
		defer close(resultCh)
		swapped, err := run(ctx)
		resultCh <- SwapResult{Swapped: swapped, Err: err}
	}()
	return resultCh
}

// Atom is a single lock-free cell holding one immutable value.
type Atom[A any] struct {
	cell[A]
}

func NewAtom[A any](value A, opts ...AtomOption[A]) (*Atom[A], error) {
	atom := &Atom[A]{}
	if err := atom.init(value, opts); err != nil {
		return nil, err
	}
	return atom, nil
}

func (a *Atom[A]) Swap(fn func(A) A) (bool, error) {
	return a.swap(context.Background(), func(_ context.Context, current A) (A, error) {
		return fn(current), nil
	})
}

// SwapContext awaits fn before every CAS attempt. Errors from fn abort the
// swap and are returned unchanged.
func (a *Atom[A]) SwapContext(ctx context.Context, fn func(context.Context, A) (A, error)) (bool, error) {
	return a.swap(ctx, fn)
}

func (a *Atom[A]) SwapAsync(ctx context.Context, fn func(context.Context, A) (A, error)) <-chan SwapResult {
	return swapAsync(ctx, func(ctx context.Context) (bool, error) {
		return a.SwapContext(ctx, fn)
	})
}

// MetaAtom is an Atom that hands fixed metadata to every update function.
type MetaAtom[M, A any] struct {
	cell[A]
	meta M
}

func NewMetaAtom[M, A any](meta M, value A, opts ...AtomOption[A]) (*MetaAtom[M, A], error) {
	atom := &MetaAtom[M, A]{meta: meta}
	if err := atom.init(value, opts); err != nil {
		return nil, err
	}
	return atom, nil
}

func (a *MetaAtom[M, A]) Meta() M {
	return a.meta
}

func (a *MetaAtom[M, A]) Swap(fn func(M, A) A) (bool, error) {
	return a.swap(context.Background(), func(_ context.Context, current A) (A, error) {
		return fn(a.meta, current), nil
	})
}

func (a *MetaAtom[M, A]) SwapContext(ctx context.Context, fn func(context.Context, M, A) (A, error)) (bool, error) {
	return a.swap(ctx, func(ctx context.Context, current A) (A, error) {
		return fn(ctx, a.meta, current)
	})
}

func (a *MetaAtom[M, A]) SwapAsync(ctx context.Context, fn func(context.Context, M, A) (A, error)) <-chan SwapResult {
	return swapAsync(ctx, func(ctx context.Context) (bool, error) {
		return a.SwapContext(ctx, fn)
	})
}
