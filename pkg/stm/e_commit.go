package stm

import (
	"github.com/pkg/errors"
)

// commit publishes every write and commute of tx in one store CAS, or nothing.
func (s *STM) commit(tx *Tx) result {
	var returned any
	var hasReturned bool

	err := s.store.Update(func(current *storeView, next *tree) error {
		returned, hasReturned = nil, false

		if err := tx.checkConflicts(current); err != nil {
			return err
		}

		for id, write := range tx.writeSet {
			state, _ := current.Get(id)
			if !state.accepts(write.value) {
				return &ValidationError{RefID: id}
			}
			next.Set(state.next(write.value))
		}

		// commutes see this commit's own writes and earlier commutes
		for _, c := range tx.commutes {
			state, ok := next.Get(probe(c.id))
			if !ok {
				return errConflict
			}
			value := c.fn(state.value)
			if !state.accepts(value) {
				return &ValidationError{RefID: c.id}
			}
			next.Set(state.next(value))
			if c.id == tx.returnRef {
				returned, hasReturned = value, true
			}
		}
		return nil
	})

	var validationErr *ValidationError
	switch {
	case err == nil:
		return result{outcome: committed, returned: returned, hasReturned: hasReturned}
	case errors.Is(err, errConflict):
		return result{outcome: conflicted, err: err}
	case errors.As(err, &validationErr):
		return result{outcome: failed, err: err}
	default:
		return result{outcome: failed, err: errors.Wrapf(err, "commit of txn %d", tx.id)}
	}
}

// checkConflicts compares the versions tx based its work on with the ones in
// current. Under Serializable the read-set is checked too.
func (tx *Tx) checkConflicts(current *storeView) error {
	if tx.isolation == Serializable {
		for id, version := range tx.readSet {
			if state, ok := current.Get(id); !ok || state.version != version {
				return errConflict
			}
		}
	}

	for id, write := range tx.writeSet {
		if state, ok := current.Get(id); !ok || state.version != write.version {
			return errConflict
		}
	}
	return nil
}
