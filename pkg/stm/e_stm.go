package stm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

var (
	nextRefID atomic.Uint64
	nextTxnID atomic.Uint64

	defaultOnce sync.Once
	defaultSTM  *STM
)

// STM owns one global store and runs transactions against it.
type STM struct {
	store      *MvStore
	maxRetries int
	isolation  Isolation
	backoff    func() retry.Backoff
	logger     *slog.Logger
	observer   Observer
}

func New(opts ...Option) *STM {
	s := &STM{
		maxRetries: DefaultMaxRetries,
		isolation:  Snapshot,
		backoff:    spin,
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.store = NewMVStore(s.maxRetries)
	return s
}

// Default returns the process-wide STM, creating it on first use.
func Default() *STM {
	defaultOnce.Do(func() {
		defaultSTM = New()
	})
	return defaultSTM
}

// Len reports how many refs are live in the store.
func (s *STM) Len() int {
	return s.store.Len()
}

func (s *STM) release(id uint64) {
	if err := s.store.Remove(id); err != nil {
		s.logger.Warn("stm: failed to release ref", slog.Uint64("ref", id), slog.Any("error", err))
	}
}

// Atomically runs body in a transaction. If ctx already carries a transaction
// of s, body joins it instead of starting a new one.
func (s *STM) Atomically(ctx context.Context, body func(ctx context.Context) error, opts ...TxOption) error {
	_, err := Compute(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	}, opts...)
	return err
}

// Serializable runs body with its read-set validated at commit. Nested in a
// snapshot transaction it upgrades that transaction for the rest of the attempt.
func (s *STM) Serializable(ctx context.Context, body func(ctx context.Context) error) error {
	return s.Atomically(ctx, body, Isolated(Serializable))
}

// View runs a read-only transaction. Nested in a writable transaction, writes
// made by body fail with ErrReadOnlyTransaction while the outer body keeps
// its own writes.
func (s *STM) View(ctx context.Context, body func(ctx context.Context) error) error {
	return s.Atomically(ctx, body, ReadOnly())
}

// Compute is Atomically for bodies that produce a value.
func Compute[R any](ctx context.Context, s *STM, body func(ctx context.Context) (R, error), opts ...TxOption) (R, error) {
	if tx, ok := TxFrom(ctx); ok {
		if tx.stm != s {
			var zero R
			return zero, ErrForeignRef
		}
		return join(ctx, tx, body, opts)
	}

	cfg := txConfig{isolation: s.isolation}
	for _, opt := range opts {
		opt(&cfg)
	}

	var out R
	returned, hasReturned, err := s.run(ctx, cfg, func(ctx context.Context) error {
		value, err := body(ctx)
		out = value
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	if hasReturned {
		if value, ok := returned.(R); ok {
			out = value
		}
	}
	return out, nil
}

// join runs body inside the running tx. Options may only tighten it: the
// isolation is raised, never lowered, and a read-only body cannot write even
// when tx can.
func join[R any](ctx context.Context, tx *Tx, body func(ctx context.Context) (R, error), opts []TxOption) (R, error) {
	cfg := txConfig{isolation: tx.isolation, readOnly: tx.readOnly}
	for _, opt := range opts {
		opt(&cfg)
	}

	// levels are ordered by strength
	if cfg.isolation > tx.isolation {
		tx.isolation = cfg.isolation
	}
	if cfg.readOnly && !tx.readOnly {
		tx.readOnly = true
		defer func() { tx.readOnly = false }()
	}
	return body(ctx)
}

// run retries body from a fresh snapshot until its commit goes through.
// Errors returned by body are never retried.
func (s *STM) run(ctx context.Context, cfg txConfig, body func(context.Context) error) (any, bool, error) {
	var returned any
	var hasReturned bool
	attempts := 0

	backoff := retry.WithMaxRetries(uint64(s.maxRetries-1), s.backoff())
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		tx := newTxn(s, cfg)
		if err := body(withTxn(ctx, tx)); err != nil {
			return err
		}

		// pure reads never conflict
		if tx.pure() {
			return nil
		}

		res := s.commit(tx)
		switch res.outcome {
		case committed:
			returned, hasReturned = res.returned, res.hasReturned
			s.observer.Committed(tx.isolation)
			return nil
		case conflicted:
			s.observer.Conflicted(tx.isolation)
			s.logger.Debug("stm: txn conflict, retrying",
				slog.Uint64("txn", tx.id),
				slog.Int("attempt", attempts),
				slog.String("isolation", tx.isolation.String()))
			return retry.RetryableError(res.err)
		default:
			switch {
			case errors.Is(res.err, ErrValidation):
				s.observer.Rejected(tx.isolation)
			case errors.Is(res.err, ErrDeadlock):
				s.observer.Exhausted(tx.isolation)
			}
			return res.err
		}
	})

	if errors.Is(err, errConflict) {
		s.observer.Exhausted(cfg.isolation)
		s.logger.Warn("stm: txn retries exhausted", slog.Int("attempts", attempts))
		return nil, false, &RetriesExhaustedError{Attempts: attempts}
	}
	return returned, hasReturned, err
}
