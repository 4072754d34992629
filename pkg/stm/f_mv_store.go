package stm

import (
	"context"

	"github.com/tidwall/btree"
)

type tree = btree.BTreeG[*RefState]

// MvStore is the global versioned store: an immutable btree of RefStates
// published through an Atom. Writers copy the tree (copy-on-write, O(1)) and
// CAS the new root in; a published tree is never modified again.
type MvStore struct {
	root Atom[*tree]
}

func NewMVStore(maxRetries int) *MvStore {
	mvStore := &MvStore{}
	// the root has no validator, so init cannot fail
	if err := mvStore.root.init(btree.NewBTreeG(byID), []AtomOption[*tree]{MaxSwapRetries[*tree](maxRetries)}); err != nil {
		panic(err)
	}
	return mvStore
}

func (mvStore *MvStore) Get(id uint64) (*RefState, bool) {
	return mvStore.root.Value().Get(probe(id))
}

func (mvStore *MvStore) Len() int {
	return mvStore.root.Value().Len()
}

func (mvStore *MvStore) Put(state *RefState) error {
	_, err := mvStore.root.swap(context.Background(), func(_ context.Context, current *tree) (*tree, error) {
		next := current.Copy()
		next.Set(state)
		return next, nil
	})
	return err
}

func (mvStore *MvStore) Remove(id uint64) error {
	_, err := mvStore.root.swap(context.Background(), func(_ context.Context, current *tree) (*tree, error) {
		if _, ok := current.Get(probe(id)); !ok {
			return current, nil
		}
		next := current.Copy()
		next.Delete(probe(id))
		return next, nil
	})
	return err
}

// Update installs the tree built by fn from the current one. fn may run
// several times and must only touch the tree it is given.
func (mvStore *MvStore) Update(fn func(current *storeView, next *tree) error) error {
	_, err := mvStore.root.swap(context.Background(), func(_ context.Context, current *tree) (*tree, error) {
		next := current.Copy()
		if err := fn(&storeView{tree: current}, next); err != nil {
			return nil, err
		}
		return next, nil
	})
	return err
}
