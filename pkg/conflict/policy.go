// Package conflict holds merge policies for values updated through Ref.Commute.
package conflict

import "cmp"

// Policy decides the value that wins when a proposed update meets the
// current committed value.
type Policy[A any] interface {
	Resolve(current, proposed A) A
}

type ResolveFunc[A any] func(current, proposed A) A

func (f ResolveFunc[A]) Resolve(current, proposed A) A {
	return f(current, proposed)
}

// LastWriterWins always keeps the proposed value.
type LastWriterWins[A any] struct{}

func (LastWriterWins[A]) Resolve(_, proposed A) A { return proposed }

// FirstWriterWins keeps whatever is already committed.
type FirstWriterWins[A any] struct{}

func (FirstWriterWins[A]) Resolve(current, _ A) A { return current }

// Max keeps the larger of the two values.
type Max[A cmp.Ordered] struct{}

func (Max[A]) Resolve(current, proposed A) A { return max(current, proposed) }

type Min[A cmp.Ordered] struct{}

func (Min[A]) Resolve(current, proposed A) A { return min(current, proposed) }

// Commutator turns a policy and a proposed value into a function suitable
// for Ref.Commute. The policy sees the latest committed value at commit time.
func Commutator[A any](p Policy[A], proposed A) func(A) A {
	return func(current A) A {
		return p.Resolve(current, proposed)
	}
}
