// Package writeserializer implements component C of spec.md §4: a
// single-consumer actor that funnels every mutating StateRepository call
// through one goroutine, grounded in the teacher's internal/fs mutation
// queue (internal/fs/mutation_queue.go), which exists for the same
// reason — avoid lock contention from many concurrent FUSE callback
// goroutines hitting the durable store at once.
package writeserializer

import (
	"sync"
	"sync/atomic"

	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
)

// Op is a unit of work the serializer will run on its single consumer
// goroutine. Callers close over whatever repository call they need.
type Op func() error

type job struct {
	op   Op
	done chan error
}

// Handle is the completion handle send() returns; callers that care about
// the result call Wait, others may discard it and let the op run
// fire-and-forget.
type Handle struct {
	done chan error
}

// Wait blocks until the op completes and returns its error.
func (h *Handle) Wait() error { return <-h.done }

// Serializer is the single-writer actor. Send funnels onto an unbounded
// in-memory buffer relayed to the single consumer goroutine, per
// spec.md §4.C: "queue is unbounded but audited for drift via a debug
// counter" — a caller blocked on Send would stall a FUSE callback
// goroutine against backpressure the spec explicitly rules out, so
// depth has no ceiling; a drift counter tracks cumulative throughput
// for diagnostics instead.
type Serializer struct {
	in      chan job
	out     chan job
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	depth int64 // current buffered+in-flight depth, for diagnostics
	drift int64 // cumulative ops processed, for diagnostics
}

// New starts the buffering and consumer goroutines immediately.
func New() *Serializer {
	s := &Serializer{
		in:      make(chan job),
		out:     make(chan job),
		stopped: make(chan struct{}),
	}
	s.wg.Add(2)
	go s.buffer()
	go s.run()
	return s
}

// buffer relays jobs from in to out through a growable slice so Send
// never blocks on a full channel; it only blocks waiting for either a
// new job or the consumer to be ready for the oldest pending one.
func (s *Serializer) buffer() {
	defer s.wg.Done()
	defer close(s.out)

	var pending []job
	for {
		if len(pending) == 0 {
			j, ok := <-s.in
			if !ok {
				return
			}
			pending = append(pending, j)
			continue
		}

		select {
		case j, ok := <-s.in:
			if !ok {
				for _, p := range pending {
					s.out <- p
				}
				return
			}
			pending = append(pending, j)
		case s.out <- pending[0]:
			pending = pending[1:]
		}
	}
}

func (s *Serializer) run() {
	defer s.wg.Done()
	for j := range s.out {
		atomic.AddInt64(&s.depth, -1)
		err := j.op()
		atomic.AddInt64(&s.drift, 1)
		j.done <- err
		close(j.done)
	}
}

// Send enqueues op and returns a Handle. If the serializer has already
// been stopped, it returns a Handle whose Wait immediately yields a
// channel-closed error, per spec.md §4.C.
func (s *Serializer) Send(op Op) *Handle {
	done := make(chan error, 1)
	select {
	case <-s.stopped:
		done <- lnxerrors.NewOperationError("write serializer stopped", nil)
		close(done)
		return &Handle{done: done}
	default:
	}

	j := job{op: op, done: done}
	defer func() {
		// A Stop racing this Send can close s.in between the select
		// above and this send; recover turns that panic into the same
		// channel-closed error callers already expect from Wait.
		if r := recover(); r != nil {
			done <- lnxerrors.NewOperationError("write serializer stopped", nil)
			close(done)
		}
	}()
	atomic.AddInt64(&s.depth, 1)
	s.in <- j
	return &Handle{done: done}
}

// Depth returns the current queue depth, for /healthz-style diagnostics.
func (s *Serializer) Depth() int64 { return atomic.LoadInt64(&s.depth) }

// Processed returns the cumulative number of ops the consumer has run.
func (s *Serializer) Processed() int64 { return atomic.LoadInt64(&s.drift) }

// Stop closes the input side and waits for the buffer and consumer to
// drain. Safe to call more than once.
func (s *Serializer) Stop() {
	s.once.Do(func() {
		close(s.stopped)
		close(s.in)
	})
	s.wg.Wait()
}
