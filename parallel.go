package taskmill

// Split divides items into chunks for n parallel tasks. Fewer items than
// workers yields a single task holding all of them; otherwise each task gets
// items/workers items and a final short task takes the remainder.
func Split(items, workers int) (tasks, perTask int) {
	if items <= 0 {
		return 0, 0
	}
	if workers < 1 || items < workers {
		return 1, items
	}
	perTask = items / workers
	tasks = (items + perTask - 1) / perTask
	return tasks, perTask
}

// ParallelFor runs body over [0, n) in chunks sized by Split for the
// scheduler's worker count. The first chunk runs on w directly, the rest are
// pushed to w's deque for w and idle peers to take. It returns once every
// chunk has finished, with the errors of chunks that panicked. Owner only.
func ParallelFor(w *Worker, n int, body func(w *Worker, lo, hi int)) error {
	tasks, per := Split(n, len(w.sched.workers))
	if tasks == 0 {
		return nil
	}

	futures := make([]*Future[struct{}], 0, tasks-1)
	for t := 1; t < tasks; t++ {
		lo := t * per
		hi := min(lo+per, n)
		futures = append(futures, SubmitToWorker(w, func(w *Worker) (struct{}, error) {
			body(w, lo, hi)
			return struct{}{}, nil
		}))
	}

	body(w, 0, min(per, n))

	var errs []error
	for _, f := range futures {
		if _, err := Await(w, f); err != nil {
			errs = append(errs, err)
		}
	}
	return aggregate(errs)
}
