// Package taskmill provides a work-stealing job scheduler built on
// lock-free Chase-Lev deques.
//
// A Scheduler runs a fixed set of worker loops plus one render agent loop,
// each on its own goroutine (locked to an OS thread by default). Loops busy
// poll: a worker pops its own deque, otherwise steals the oldest job from a
// random peer, otherwise backs off through a pluggable Backoff policy and
// tries again. There is no parking and no wake-up signal.
//
// # Quick Start
//
//	sched, err := taskmill.New(taskmill.WithWorkers(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sched.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer sched.Stop()
//
//	f := taskmill.Spawn(sched, func(w *taskmill.Worker) (int, error) {
//	    return 42, nil
//	})
//	v, err := f.Wait(ctx)
//
// # Owner-Only Submission
//
// Every general job receives the *Worker running it. That worker is the
// owner token for its deques: from inside a job, w.Submit, SubmitToWorker
// and SubmitRenderAffinity push straight onto w's deque without any
// synchronisation beyond the deque's own atomics. Calling them from any other
// goroutine is a contract violation; WithOwnerChecks(true) turns it into a
// panic with ErrNotOwner.
//
// Goroutines outside the scheduler use Scheduler.Submit, Spawn and
// SpawnRender, which hand jobs to a worker through a bounded lock-free inbox.
//
// # Jobs and Slots
//
// Jobs live in fixed per-worker slot pools. A slot is free once its job has
// been taken off a deque to run. When every slot is pending, blocking submissions run other jobs
// until one frees up, and TrySubmit returns ErrBusy. SubmitInline stores a
// static function and a 64-byte Args payload without allocating.
//
// # Render Affinity
//
// Jobs submitted with SubmitRender or SubmitRenderAffinity go to a worker's
// render-affinity deque, which only the render agent steals from. All of them
// therefore run on the one render goroutine.
//
// # Fork-Join
//
// Await waits on a future from inside a job while running other jobs, so
// nested fork-join never blocks a worker. ParallelFor splits a range into
// chunks with Split and joins them; package group adds errgroup-style task
// groups with fail-fast cancellation.
//
// # Errors
//
// An error or panic from a job with a future is delivered through that
// future. A panic from a plain job is recovered, logged, and returned by Stop.
// Contract violations (invoking an empty job, owner-check failures) stop the
// whole scheduler.
//
// # Shutdown
//
// Stop clears the alive flag and joins every loop; executing jobs finish,
// queued jobs are dropped and their futures fail with ErrSchedulerStopped.
// Shutdown first waits for outstanding work to drain.
//
// # Ordering
//
// There is no global order. A worker pops its own jobs newest first; thieves
// take oldest first. For strictly ordered work use a Strand.
package taskmill
