package taskmill

// RenderAgent is the single loop that executes render-affinity jobs. It owns
// no deque: it only steals, and only from workers' render-affinity deques, so
// every render-affinity job runs on this one goroutine (and, with
// LockOSThread, on one OS thread).
type RenderAgent struct {
	loop
}

func newRenderAgent(s *Scheduler) *RenderAgent {
	r := &RenderAgent{}
	r.loop.init(-1, "render", s)
	r.loop.render = r
	return r
}

// Scheduler returns the scheduler the agent belongs to.
func (r *RenderAgent) Scheduler() *Scheduler { return r.sched }

func (r *RenderAgent) run() error {
	return r.serve(r.step, nil)
}

// step tries one steal from a uniformly random worker's render deque.
func (r *RenderAgent) step() (bool, error) {
	ws := r.sched.workers
	v := ws[int(r.nextRand()%uint32(len(ws)))]
	if j := v.renderQ.Steal(); j != nil {
		return true, r.execute(j, true)
	}
	return false, nil
}
