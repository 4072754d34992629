package stm

import (
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Observer is notified about every transaction that reaches the commit path.
type Observer interface {
	Committed(iso Isolation)
	Conflicted(iso Isolation)
	Rejected(iso Isolation)
	Exhausted(iso Isolation)
}

type nopObserver struct{}

func (nopObserver) Committed(Isolation)  {}
func (nopObserver) Conflicted(Isolation) {}
func (nopObserver) Rejected(Isolation)   {}
func (nopObserver) Exhausted(Isolation)  {}

type Option func(*STM)

// WithMaxRetries bounds both the transaction retry loop and the store CAS loop.
func WithMaxRetries(n int) Option {
	return func(s *STM) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithIsolation sets the isolation used when a transaction does not ask for one.
func WithIsolation(iso Isolation) Option {
	return func(s *STM) { s.isolation = iso }
}

// WithBackoff sets the delay between transaction attempts. fn is called once
// per transaction since backoffs carry state.
func WithBackoff(fn func() retry.Backoff) Option {
	return func(s *STM) {
		if fn != nil {
			s.backoff = fn
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *STM) { s.logger = logger }
}

func WithObserver(observer Observer) Option {
	return func(s *STM) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// spin retries immediately; the retry bound comes from WithMaxRetries.
func spin() retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	})
}

type txConfig struct {
	isolation Isolation
	readOnly  bool
	returnRef uint64
}

type TxOption func(*txConfig)

// Isolated overrides the STM's default isolation for one transaction.
func Isolated(iso Isolation) TxOption {
	return func(cfg *txConfig) { cfg.isolation = iso }
}

// ReadOnly makes every write inside the transaction fail with ErrReadOnlyTransaction.
func ReadOnly() TxOption {
	return func(cfg *txConfig) { cfg.readOnly = true }
}

// returning marks the ref whose commit-time commute value replaces the result.
func returning(id uint64) TxOption {
	return func(cfg *txConfig) { cfg.returnRef = id }
}
