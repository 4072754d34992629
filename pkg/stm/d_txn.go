package stm

import (
	"context"

	"github.com/pkg/errors"
)

// Tx is one attempt of a transaction. It belongs to the goroutine running the
// body and is thrown away when the attempt ends.
type Tx struct {
	id        uint64
	stm       *STM
	isolation Isolation
	readOnly  bool
	returnRef uint64
	snapshot  *storeView

	readSet  map[uint64]uint64   // ref id -> version read
	writeSet map[uint64]*pending // ref id -> buffered write
	commuted map[uint64]any      // ref id -> in-txn value after commutes
	commutes []commute
	late     map[uint64]*RefState // refs created after the snapshot was taken
	pins     map[uint64]any       // touched ref handles, kept reachable until commit
}

func newTxn(s *STM, cfg txConfig) *Tx {
	return &Tx{
		id:        nextTxnID.Add(1),
		stm:       s,
		isolation: cfg.isolation,
		readOnly:  cfg.readOnly,
		returnRef: cfg.returnRef,
		snapshot:  s.store.Snapshot(),
		readSet:   make(map[uint64]uint64),
		writeSet:  make(map[uint64]*pending),
		commuted:  make(map[uint64]any),
		pins:      make(map[uint64]any),
	}
}

func (tx *Tx) ID() uint64 {
	return tx.id
}

func (tx *Tx) Isolation() Isolation {
	return tx.isolation
}

func (tx *Tx) ReadOnly() bool {
	return tx.readOnly
}

type txnKey struct{}

// TxFrom returns the transaction carried by ctx, if any.
func TxFrom(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txnKey{}).(*Tx)
	return tx, ok
}

func withTxn(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txnKey{}, tx)
}

func (tx *Tx) pin(id uint64, ref any) {
	tx.pins[id] = ref
}

func (tx *Tx) pure() bool {
	return len(tx.writeSet) == 0 && len(tx.commutes) == 0
}

// state resolves id against the snapshot, falling back to the live store for
// refs created after the transaction began.
func (tx *Tx) state(id uint64) (*RefState, error) {
	if state, ok := tx.snapshot.Get(id); ok {
		return state, nil
	}
	if state, ok := tx.late[id]; ok {
		return state, nil
	}

	state, ok := tx.stm.store.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrForeignRef, "ref %d is not in this store", id)
	}
	if tx.late == nil {
		tx.late = make(map[uint64]*RefState)
	}
	tx.late[id] = state
	return state, nil
}

func (tx *Tx) get(id uint64) (any, error) {
	// check and read from write cache
	if write, ok := tx.writeSet[id]; ok {
		return write.value, nil
	}
	if value, ok := tx.commuted[id]; ok {
		return value, nil
	}

	state, err := tx.state(id)
	if err != nil {
		return nil, err
	}
	if _, seen := tx.readSet[id]; !seen {
		tx.readSet[id] = state.version
	}
	return state.value, nil
}

func (tx *Tx) set(id uint64, value any) error {
	switch {
	case tx.readOnly:
		return ErrReadOnlyTransaction
	case tx.hasCommuted(id):
		return ErrSetAfterCommute
	}

	if write, ok := tx.writeSet[id]; ok {
		write.value = value
		return nil
	}
	state, err := tx.state(id)
	if err != nil {
		return err
	}
	tx.writeSet[id] = &pending{value: value, version: state.version}
	return nil
}

// commute applies fn right away for later reads in this transaction and
// queues it for a re-run against the latest committed value. A ref that is
// already written is simply updated in place.
func (tx *Tx) commute(id uint64, fn func(any) any) (any, error) {
	if tx.readOnly {
		return nil, ErrReadOnlyTransaction
	}
	if write, ok := tx.writeSet[id]; ok {
		write.value = fn(write.value)
		return write.value, nil
	}

	current, ok := tx.commuted[id]
	if !ok {
		state, err := tx.state(id)
		if err != nil {
			return nil, err
		}
		current = state.value
	}

	value := fn(current)
	tx.commuted[id] = value
	tx.commutes = append(tx.commutes, commute{id: id, fn: fn})
	return value, nil
}

func (tx *Tx) hasCommuted(id uint64) bool {
	_, ok := tx.commuted[id]
	return ok
}
