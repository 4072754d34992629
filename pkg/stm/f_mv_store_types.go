package stm

// RefState is one committed version of a ref. It is replaced wholesale on
// every write and never mutated once published.
type RefState struct {
	id        uint64
	version   uint64
	value     any
	validator func(any) bool
}

func (state *RefState) Version() uint64 {
	return state.version
}

func (state *RefState) accepts(value any) bool {
	return state.validator == nil || state.validator(value)
}

// next returns the successor version carrying value.
func (state *RefState) next(value any) *RefState {
	return &RefState{
		id:        state.id,
		version:   state.version + 1,
		value:     value,
		validator: state.validator,
	}
}

func byID(a, b *RefState) bool {
	return a.id < b.id
}

func probe(id uint64) *RefState {
	return &RefState{id: id}
}

// cast tolerates a nil interface so zero values of interface types survive
// the round trip through the store.
func cast[A any](value any) A {
	typed, _ := value.(A)
	return typed
}
