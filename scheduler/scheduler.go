// Package scheduler runs tasks on a fixed set of lanes. Each lane is served by
// one goroutine reading an unbounded FIFO queue, so tasks submitted to the same
// lane run one at a time, in submission order.
package scheduler

import (
	"errors"
	"sync"
)

var ErrSchedulerClosed = errors.New("scheduler is closed")

type Task func()

type lane struct {
	mtx     sync.Mutex
	cond    *sync.Cond
	pending []Task
	closed  bool
	done    chan struct{}
}

func newLane() *lane {
	l := &lane{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mtx)
	go l.run()
	return l
}

func (l *lane) push(task Task) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.closed {
		return ErrSchedulerClosed
	}
	l.pending = append(l.pending, task)
	l.cond.Signal()
	return nil
}

func (l *lane) run() {
	defer close(l.done)
	for {
		l.mtx.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.pending) == 0 {
			l.mtx.Unlock()
			return
		}
		task := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		l.mtx.Unlock()
		task()
	}
}

func (l *lane) close() {
	l.mtx.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mtx.Unlock()
	<-l.done
}

// Ordered is a set of lanes selected by key.
type Ordered struct {
	name  string
	lanes []*lane
}

// New starts a scheduler with the given number of lanes. A count lower than
// one starts a single lane.
func New(name string, count int) *Ordered {
	if count < 1 {
		count = 1
	}
	s := &Ordered{name: name, lanes: make([]*lane, count)}
	for idx := range s.lanes {
		s.lanes[idx] = newLane()
	}
	return s
}

func (s *Ordered) Name() string { return s.name }
func (s *Ordered) Lanes() int   { return len(s.lanes) }

// ChooseLane returns the lane index serving key. The same key always maps to
// the same lane.
func (s *Ordered) ChooseLane(key int64) int {
	idx := key % int64(len(s.lanes))
	if idx < 0 {
		idx = -idx
	}
	return int(idx)
}

// Execute queues task on the lane serving key.
func (s *Ordered) Execute(key int64, task Task) error {
	return s.lanes[s.ChooseLane(key)].push(task)
}

// Close refuses new tasks, runs the already queued ones and stops every lane.
func (s *Ordered) Close() error {
	for _, l := range s.lanes {
		l.close()
	}
	return nil
}
