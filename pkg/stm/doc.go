// Package stm is a software transactional memory built on optimistic
// concurrency control.
//
// Refs live in one multi-version store per STM. A transaction reads a
// snapshot of that store, buffers its writes and publishes all of them with a
// single compare-and-swap, or none of them. A transaction that loses to a
// concurrent commit re-runs its body from a fresh snapshot, so bodies must be
// free of side effects:
//
//	s := stm.New()
//	from, _ := stm.NewRef(s, 100, nil)
//	to, _ := stm.NewRef(s, 0, nil)
//
//	err := s.Atomically(ctx, func(ctx context.Context) error {
//		if _, err := from.Swap(ctx, func(n int) int { return n - 10 }); err != nil {
//			return err
//		}
//		_, err := to.Swap(ctx, func(n int) int { return n + 10 })
//		return err
//	})
//
// The current transaction travels on the context. Atom is the single-cell
// counterpart without transactions.
package stm
