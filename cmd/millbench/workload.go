package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/tahsin716/taskmill"
	"github.com/tahsin716/taskmill/group"
	"golang.org/x/time/rate"
)

// ============================================================================
// fib: nested fork-join through futures
// ============================================================================

func newFibCmd(a *app) *cobra.Command {
	var n, cutoff int
	cmd := &cobra.Command{
		Use:   "fib",
		Short: "Recursive Fibonacci with one forked job per call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, "fib", spawnRoot(func(w *taskmill.Worker) (int, error) {
				return fib(w, n, cutoff)
			}))
		},
	}
	cmd.Flags().IntVar(&n, "n", 30, "Fibonacci index")
	cmd.Flags().IntVar(&cutoff, "cutoff", 16, "Below this index compute serially")
	return cmd
}

func fib(w *taskmill.Worker, n, cutoff int) (int, error) {
	if n <= cutoff || n < 2 {
		return serialFib(n), nil
	}
	f := taskmill.SubmitToWorker(w, func(w *taskmill.Worker) (int, error) {
		return fib(w, n-1, cutoff)
	})
	b, err := fib(w, n-2, cutoff)
	if err != nil {
		return 0, err
	}
	a, err := taskmill.Await(w, f)
	return a + b, err
}

func serialFib(n int) int {
	if n < 2 {
		return n
	}
	return serialFib(n-1) + serialFib(n-2)
}

// ============================================================================
// sum: data-parallel loop
// ============================================================================

func newSumCmd(a *app) *cobra.Command {
	var items, work int
	cmd := &cobra.Command{
		Use:   "sum",
		Short: "Sum a CPU-bound function over a range with ParallelFor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, "sum", spawnRoot(func(w *taskmill.Worker) (int64, error) {
				return parallelSum(w, items, work)
			}))
		},
	}
	cmd.Flags().IntVar(&items, "items", 1_000_000, "Number of items")
	cmd.Flags().IntVar(&work, "work", 100, "Inner iterations per item")
	return cmd
}

func parallelSum(w *taskmill.Worker, items, work int) (int64, error) {
	var total atomic.Int64
	err := taskmill.ParallelFor(w, items, func(_ *taskmill.Worker, lo, hi int) {
		var partial int64
		for i := lo; i < hi; i++ {
			partial += spin(i, work)
		}
		total.Add(partial)
	})
	return total.Load(), err
}

// spin is a deterministic CPU-bound function of i.
func spin(i, work int) int64 {
	x := uint64(i) + 1
	for j := 0; j < work; j++ {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
	}
	return int64(x & 0xff)
}

// ============================================================================
// tree: structured fork-join with task groups
// ============================================================================

func newTreeCmd(a *app) *cobra.Command {
	var depth, fanout int
	var errMode string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Visit a complete tree, forking one group per inner node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if depth < 0 || fanout < 1 {
				return errors.New("depth must be >= 0 and fanout >= 1")
			}
			mode, err := group.ParseErrorMode(errMode)
			if err != nil {
				return err
			}
			return a.run(cmd, "tree", spawnRoot(func(w *taskmill.Worker) (int64, error) {
				var nodes atomic.Int64
				err := visit(context.Background(), w, mode, depth, fanout, &nodes)
				return nodes.Load(), err
			}))
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 10, "Tree depth")
	cmd.Flags().IntVar(&fanout, "fanout", 3, "Children per inner node")
	cmd.Flags().StringVar(&errMode, "errors", group.FailFast.String(), "Group error mode: fail-fast, collect-all or ignore")
	return cmd
}

func visit(ctx context.Context, w *taskmill.Worker, mode group.ErrorMode, depth, fanout int, nodes *atomic.Int64) error {
	nodes.Add(1)
	if depth == 0 {
		return ctx.Err()
	}
	g := group.NewWithContext(ctx, w, group.WithErrorMode(mode))
	for i := 0; i < fanout; i++ {
		g.Go(func(ctx context.Context, w *taskmill.Worker) error {
			return visit(ctx, w, mode, depth-1, fanout, nodes)
		})
	}
	return g.Wait()
}

// ============================================================================
// spawn: external submission from many goroutines
// ============================================================================

func newSpawnCmd(a *app) *cobra.Command {
	var jobs, producers int
	var perSec float64
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Submit trivial jobs from external goroutines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if producers < 1 {
				return errors.New("producers must be >= 1")
			}
			return a.run(cmd, "spawn", func(ctx context.Context, s *taskmill.Scheduler) (any, error) {
				var lim *rate.Limiter
				if perSec > 0 {
					lim = rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec/100)))
				}
				return produce(ctx, s, lim, jobs, producers)
			})
		},
	}
	cmd.Flags().IntVar(&jobs, "jobs", 100_000, "Total number of jobs")
	cmd.Flags().IntVar(&producers, "producers", 4, "Submitting goroutines")
	cmd.Flags().Float64Var(&perSec, "rate", 0, "Submissions per second over all producers (0 = unlimited)")
	return cmd
}

// produce submits jobs split over producers, paced by lim when non-nil, and
// returns the number accepted. Execution may still be in flight when it
// returns.
func produce(ctx context.Context, s *taskmill.Scheduler, lim *rate.Limiter, jobs, producers int) (int64, error) {
	var accepted, ran atomic.Int64
	errs := make([]error, producers)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		n := jobs / producers
		if p < jobs%producers {
			n++
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				if lim != nil {
					if err := lim.Wait(ctx); err != nil {
						errs[p] = err
						return
					}
				}
				if err := s.SubmitWait(ctx, func(*taskmill.Worker) { ran.Add(1) }); err != nil {
					errs[p] = err
					return
				}
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	return accepted.Load(), errors.Join(errs...)
}

// ============================================================================
// strand: ordered serial execution
// ============================================================================

type strandResult struct {
	Tasks      int64 `yaml:"tasks"`
	Violations int64 `yaml:"violations"`
}

func newStrandCmd(a *app) *cobra.Command {
	var tasks, strands int
	cmd := &cobra.Command{
		Use:   "strand",
		Short: "Post ordered tasks to several strands and verify FIFO execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strands < 1 {
				return errors.New("strands must be >= 1")
			}
			return a.run(cmd, "strand", func(ctx context.Context, s *taskmill.Scheduler) (any, error) {
				return runStrands(ctx, s, tasks, strands)
			})
		},
	}
	cmd.Flags().IntVar(&tasks, "tasks", 10_000, "Tasks per strand")
	cmd.Flags().IntVar(&strands, "strands", 4, "Number of strands")
	return cmd
}

func runStrands(ctx context.Context, s *taskmill.Scheduler, tasks, strands int) (*strandResult, error) {
	var ran, violations atomic.Int64
	var wg sync.WaitGroup
	errs := make([]error, strands)

	for k := 0; k < strands; k++ {
		st := taskmill.NewStrand(s)
		next := 0 // touched only by this strand's tasks
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < tasks; i++ {
				task := func(*taskmill.Worker) {
					if i != next {
						violations.Add(1)
					}
					next = i + 1
					ran.Add(1)
				}
				err := st.Post(task)
				for errors.Is(err, taskmill.ErrBusy) && ctx.Err() == nil {
					runtime.Gosched()
					err = st.Post(task)
				}
				if err != nil {
					errs[k] = fmt.Errorf("strand %d: %w", k, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return &strandResult{Tasks: ran.Load(), Violations: violations.Load()}, nil
}

// ============================================================================
// render: render-affinity round trips
// ============================================================================

func newRenderCmd(a *app) *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Round-trip jobs through the render agent from a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, "render", spawnRoot(func(w *taskmill.Worker) (int, error) {
				return renderRoundTrips(w, jobs)
			}))
		},
	}
	cmd.Flags().IntVar(&jobs, "jobs", 10_000, "Render-affinity jobs")
	return cmd
}

func renderRoundTrips(w *taskmill.Worker, jobs int) (int, error) {
	// render jobs mutate this without locking: they all run on one goroutine
	frames := 0
	futures := make([]*taskmill.Future[int], 0, jobs)
	for i := 0; i < jobs; i++ {
		futures = append(futures, taskmill.SubmitRenderAffinity(w, func(*taskmill.RenderAgent) (int, error) {
			frames++
			return frames, nil
		}))
	}
	last := 0
	for _, f := range futures {
		v, err := taskmill.Await(w, f)
		if err != nil {
			return 0, err
		}
		last = max(last, v)
	}
	return last, nil
}
