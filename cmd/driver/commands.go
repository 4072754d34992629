package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tiny_stm/pkg/conflict"
	"tiny_stm/pkg/stm"
)

// newDemoCmd replays the read/write and conflict scenarios on two refs.
func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Normal read and write, then a write conflict that forces a retry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOf(cmd)
			out := cmd.OutOrStdout()

			// Test 1: normal read and write
			hdd, err := stm.NewRef(a.stm, "Hard disk", nil)
			if err != nil {
				return err
			}
			ssd, err := stm.NewRef(a.stm, "", nil)
			if err != nil {
				return err
			}
			if err := a.stm.Atomically(ctx, func(ctx context.Context) error {
				return hdd.Set(ctx, "Hard disk drive")
			}); err != nil {
				return err
			}
			if err := a.stm.View(ctx, func(ctx context.Context) error {
				value, err := hdd.Get(ctx)
				fmt.Fprintln(out, value)
				return err
			}); err != nil {
				return err
			}

			// Test 2: conflict
			attempts, err := conflictingWrites(ctx, a.stm, hdd, ssd)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s (%d attempts)\n", ssd.Deref(), attempts)
			return nil
		},
	}
}

// conflictingWrites commits a write to hdd while a serializable transaction
// that read it is still running, and reports how many attempts that
// transaction needed.
func conflictingWrites(ctx context.Context, s *stm.STM, hdd, ssd *stm.Ref[string]) (int32, error) {
	read := make(chan struct{})
	written := make(chan struct{})
	var attempts atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serializable(gctx, func(ctx context.Context) error {
			value, err := hdd.Get(ctx)
			if err != nil {
				return err
			}
			if attempts.Add(1) == 1 {
				close(read)
				<-written
			}
			return ssd.Set(ctx, "Solid state drive next to "+value)
		})
	})
	g.Go(func() error {
		select {
		case <-read:
		case <-gctx.Done():
			return gctx.Err()
		}
		defer close(written)
		return s.Atomically(gctx, func(ctx context.Context) error {
			return hdd.Set(ctx, "Hard disk")
		})
	})
	err := g.Wait()
	return attempts.Load(), err
}

func newBankCmd(a *app) *cobra.Command {
	var accounts, transfers, workers, balance int
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Concurrent transfers between accounts that must never go negative",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOf(cmd)
			if accounts < 2 {
				return errors.Errorf("need at least 2 accounts, got %d", accounts)
			}

			nonNegative := func(n int) bool { return n >= 0 }
			refs := make([]*stm.Ref[int], accounts)
			for i := range refs {
				ref, err := stm.NewRef(a.stm, balance, nonNegative)
				if err != nil {
					return err
				}
				refs[i] = ref
			}
			total := func(ctx context.Context) (int, error) {
				return stm.Compute(ctx, a.stm, func(ctx context.Context) (int, error) {
					sum := 0
					for _, ref := range refs {
						n, err := ref.Get(ctx)
						if err != nil {
							return 0, err
						}
						sum += n
					}
					return sum, nil
				}, stm.ReadOnly())
			}

			var rejected atomic.Int64
			g, gctx := errgroup.WithContext(ctx)
			for w := 0; w < workers; w++ {
				g.Go(func() error {
					for i := 0; i < transfers; i++ {
						from, to := rand.IntN(accounts), rand.IntN(accounts)
						amount := rand.IntN(balance + 1)
						err := a.stm.Atomically(gctx, func(ctx context.Context) error {
							if _, err := refs[from].Swap(ctx, func(n int) int { return n - amount }); err != nil {
								return err
							}
							_, err := refs[to].Swap(ctx, func(n int) int { return n + amount })
							return err
						})
						switch {
						case errors.Is(err, stm.ErrValidation):
							rejected.Add(1)
						case err != nil:
							return err
						}
					}
					return nil
				})
			}
			g.Go(func() error {
				want := accounts * balance
				for i := 0; i < transfers; i++ {
					sum, err := total(gctx)
					if err != nil {
						return err
					}
					if sum != want {
						return errors.Errorf("audit saw total %d, want %d", sum, want)
					}
				}
				return nil
			})
			if err := g.Wait(); err != nil {
				return err
			}

			sum, err := total(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total=%d rejected=%d\n", sum, rejected.Load())
			return nil
		},
	}
	cmd.Flags().IntVar(&accounts, "accounts", 10, "number of accounts")
	cmd.Flags().IntVar(&transfers, "transfers", 1000, "transfers per worker")
	cmd.Flags().IntVar(&workers, "workers", 8, "concurrent workers")
	cmd.Flags().IntVar(&balance, "balance", 100, "opening balance per account")
	return cmd
}

func newCounterCmd(a *app) *cobra.Command {
	var workers, increments int
	var highWater bool
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Increment a shared counter with commute",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOf(cmd)
			counter, err := stm.NewRef(a.stm, 0, nil)
			if err != nil {
				return err
			}
			peak, err := stm.NewRef(a.stm, 0, nil)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			for w := 0; w < workers; w++ {
				g.Go(func() error {
					for i := 0; i < increments; i++ {
						err := a.stm.Atomically(gctx, func(ctx context.Context) error {
							n, err := counter.Commute(ctx, func(n int) int { return n + 1 })
							if err != nil || !highWater {
								return err
							}
							_, err = peak.Commute(ctx, conflict.Commutator[int](conflict.Max[int]{}, n))
							return err
						})
						if err != nil {
							return err
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "counter=%d", counter.Deref())
			if highWater {
				fmt.Fprintf(cmd.OutOrStdout(), " peak=%d", peak.Deref())
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 8, "concurrent workers")
	cmd.Flags().IntVar(&increments, "increments", 1000, "increments per worker")
	cmd.Flags().BoolVar(&highWater, "peak", false, "also track the highest in-transaction value seen")
	return cmd
}

type limits struct {
	ceiling int
}

func newAtomCmd(a *app) *cobra.Command {
	var workers, swaps, ceiling int
	cmd := &cobra.Command{
		Use:   "atom",
		Short: "Swap a bounded counter held in a meta atom",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOf(cmd)
			var changes atomic.Int64
			atom, err := stm.NewMetaAtom(limits{ceiling: ceiling}, 0,
				stm.Validate(func(n int) bool { return n <= ceiling }),
				stm.OnChange(func(int) { changes.Add(1) }),
			)
			if err != nil {
				return err
			}

			var refused atomic.Int64
			g, _ := errgroup.WithContext(ctx)
			for w := 0; w < workers; w++ {
				g.Go(func() error {
					for i := 0; i < swaps; i++ {
						swapped, err := atom.Swap(func(l limits, n int) int { return n + 1 })
						if err != nil {
							return err
						}
						if !swapped {
							refused.Add(1)
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "value=%d ceiling=%d changes=%d refused=%d\n",
				atom.Value(), atom.Meta().ceiling, changes.Load(), refused.Load())
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 8, "concurrent workers")
	cmd.Flags().IntVar(&swaps, "swaps", 1000, "swaps per worker")
	cmd.Flags().IntVar(&ceiling, "ceiling", 5000, "largest value the atom accepts")
	return cmd
}
