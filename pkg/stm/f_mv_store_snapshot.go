package stm

// storeView is a consistent view of the store. Taking one costs a pointer load.
type storeView struct {
	tree *tree
}

func (view *storeView) Get(id uint64) (*RefState, bool) {
	return view.tree.Get(probe(id))
}

func (view *storeView) Len() int {
	return view.tree.Len()
}

func (mvStore *MvStore) Snapshot() *storeView {
	return &storeView{tree: mvStore.root.Value()}
}
