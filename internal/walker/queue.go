package walker

import "sync"

// Status is a snapshot of the queue's state machine. While Done is false the
// queue is Running with Pending directories and Idle sleeping workers; once
// Done is true every worker has gone idle (or the queue was closed).
type Status struct {
	Pending int
	Idle    int
	Workers int
	Done    bool
	Pops    int
	Pushes  int
}

// Queue is the shared pending-directory list. Termination is detected when
// all workers are idle at once with nothing pending, so no sentinel items are
// ever enqueued.
type Queue struct {
	pending []string
	idle    int
	workers int
	done    bool
	pops    int
	pushes  int

	mu   sync.Mutex
	cond *sync.Cond
}

func NewQueue(workers int, roots ...string) *Queue {
	if workers < 1 {
		workers = 1
	}
	q := &Queue{
		pending: append([]string(nil), roots...),
		workers: workers,
		pushes:  len(roots),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Push(dirs ...string) {
	if len(dirs) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.done {
		return
	}
	q.pending = append(q.pending, dirs...)
	q.pushes += len(dirs)

	for range dirs {
		q.cond.Signal()
	}
}

// Pop blocks until a directory is available or the queue is done. The second
// return value is false once every worker is idle with an empty queue.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.done {
			return "", false
		}
		if dir, ok := q.take(); ok {
			return dir, true
		}

		q.idle++
		if q.idle == q.workers {
			q.done = true
			q.cond.Broadcast()
			return "", false
		}
		q.cond.Wait()
		if q.done {
			return "", false
		}
		q.idle--
	}
}

// TryPop never blocks and never counts the caller as idle.
func (q *Queue) TryPop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.done {
		return "", false
	}
	return q.take()
}

func (q *Queue) take() (string, bool) {
	n := len(q.pending)
	if n == 0 {
		return "", false
	}
	dir := q.pending[n-1]
	q.pending[n-1] = ""
	q.pending = q.pending[:n-1]
	q.pops++
	return dir, true
}

// Close marks the queue done and wakes every sleeping worker.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.done = true
	q.cond.Broadcast()
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Status{
		Pending: len(q.pending),
		Idle:    q.idle,
		Workers: q.workers,
		Done:    q.done,
		Pops:    q.pops,
		Pushes:  q.pushes,
	}
}
