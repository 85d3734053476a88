// Package schedule sequences delayed work. Virtual runs tasks only when its
// clock is advanced, which lets tests step through reply delays and reconnect
// backoff without sleeping. Realtime runs the same tasks on the wall clock.
// Both run at most one task at a time.
package schedule

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler runs functions after a delay.
type Scheduler interface {
	After(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Timer is a handle to a scheduled task.
type Timer interface {
	// Stop cancels the task. It reports whether the task was still pending.
	Stop() bool
}

// --- virtual time ---

type task struct {
	due     time.Time
	seq     uint64
	fn      func()
	index   int
	stopped bool
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Virtual is a task queue over virtual time.
type Virtual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks taskHeap
}

// NewVirtual returns a Virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the current virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// After queues fn to run once the clock has advanced by d.
func (v *Virtual) After(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	t := &task{due: v.now.Add(d), seq: v.seq, fn: fn}
	heap.Push(&v.tasks, t)
	return &virtualTimer{v: v, t: t}
}

// Advance moves the clock forward by d, running every task that falls due,
// including tasks queued by tasks that run during the advance.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		if len(v.tasks) == 0 || v.tasks[0].due.After(target) {
			v.now = target
			v.mu.Unlock()
			return
		}
		t := heap.Pop(&v.tasks).(*task)
		v.now = t.due
		v.mu.Unlock()

		t.fn()
	}
}

// RunAll drains the queue, advancing the clock to each task in turn.
func (v *Virtual) RunAll() {
	for {
		v.mu.Lock()
		if len(v.tasks) == 0 {
			v.mu.Unlock()
			return
		}
		next := v.tasks[0].due.Sub(v.now)
		v.mu.Unlock()
		v.Advance(next)
	}
}

// Pending returns the number of queued tasks.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.tasks)
}

type virtualTimer struct {
	v *Virtual
	t *task
}

func (vt *virtualTimer) Stop() bool {
	vt.v.mu.Lock()
	defer vt.v.mu.Unlock()
	if vt.t.stopped || vt.t.index < 0 {
		return false
	}
	heap.Remove(&vt.v.tasks, vt.t.index)
	vt.t.stopped = true
	return true
}

// --- wall clock ---

// Realtime runs tasks on the wall clock. Task bodies are serialized.
type Realtime struct {
	run sync.Mutex

	mu     sync.Mutex
	timers map[*realtimeTimer]struct{}
	closed bool
}

// NewRealtime returns a wall-clock scheduler.
func NewRealtime() *Realtime {
	return &Realtime{timers: make(map[*realtimeTimer]struct{})}
}

// Now returns the wall-clock time.
func (r *Realtime) Now() time.Time { return time.Now() }

// After runs fn after d unless the timer is stopped or the scheduler closed.
func (r *Realtime) After(d time.Duration, fn func()) Timer {
	rt := &realtimeTimer{r: r}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return rt
	}
	r.timers[rt] = struct{}{}
	rt.t = time.AfterFunc(d, func() {
		r.mu.Lock()
		_, live := r.timers[rt]
		delete(r.timers, rt)
		r.mu.Unlock()
		if !live {
			return
		}
		r.run.Lock()
		defer r.run.Unlock()
		fn()
	})
	return rt
}

// Close stops every pending timer. Later calls to After are no-ops.
func (r *Realtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for rt := range r.timers {
		rt.t.Stop()
		delete(r.timers, rt)
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (r *Realtime) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

type realtimeTimer struct {
	r *Realtime
	t *time.Timer
}

func (rt *realtimeTimer) Stop() bool {
	if rt.t == nil {
		return false
	}
	rt.r.mu.Lock()
	_, live := rt.r.timers[rt]
	delete(rt.r.timers, rt)
	rt.r.mu.Unlock()
	rt.t.Stop()
	return live
}

// Group tracks timers created through it so they can be cancelled together.
type Group struct {
	s Scheduler

	mu     sync.Mutex
	timers map[*groupTimer]struct{}
}

// NewGroup wraps s.
func NewGroup(s Scheduler) *Group {
	return &Group{s: s, timers: make(map[*groupTimer]struct{})}
}

// Now returns the underlying scheduler's time.
func (g *Group) Now() time.Time { return g.s.Now() }

// After schedules fn on the underlying scheduler and tracks the timer. A
// timer cancelled by StopAll before the underlying timer exists is stopped
// as soon as it is created.
func (g *Group) After(d time.Duration, fn func()) Timer {
	gt := &groupTimer{g: g}
	g.mu.Lock()
	g.timers[gt] = struct{}{}
	g.mu.Unlock()
	inner := g.s.After(d, func() {
		g.mu.Lock()
		_, live := g.timers[gt]
		delete(g.timers, gt)
		g.mu.Unlock()
		if live {
			fn()
		}
	})

	g.mu.Lock()
	gt.inner = inner
	_, live := g.timers[gt]
	g.mu.Unlock()
	if !live {
		inner.Stop()
	}
	return gt
}

// StopAll cancels every pending timer in the group and returns how many
// were cancelled.
func (g *Group) StopAll() int {
	g.mu.Lock()
	var inner []Timer
	for gt := range g.timers {
		if gt.inner != nil {
			inner = append(inner, gt.inner)
		}
	}
	n := len(g.timers)
	g.timers = make(map[*groupTimer]struct{})
	g.mu.Unlock()
	for _, t := range inner {
		t.Stop()
	}
	return n
}

// Len returns the number of pending timers in the group.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

type groupTimer struct {
	g     *Group
	inner Timer
}

func (gt *groupTimer) Stop() bool {
	gt.g.mu.Lock()
	_, live := gt.g.timers[gt]
	delete(gt.g.timers, gt)
	inner := gt.inner
	gt.g.mu.Unlock()
	if inner != nil {
		inner.Stop()
	}
	return live
}
