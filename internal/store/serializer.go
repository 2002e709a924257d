package store

import (
	"fmt"
	"sync"
)

// serializer executes queued operations strictly in FIFO submission order,
// one at a time. A failing or panicking operation reports only to its own
// caller and never blocks later operations. Once enqueued, an operation
// runs to completion; abandoning callers do not dequeue it.
type serializer struct {
	ops chan func()

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newSerializer(depth int) *serializer {
	if depth <= 0 {
		depth = 64
	}
	s := &serializer{
		ops:  make(chan func(), depth),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *serializer) run() {
	defer close(s.done)
	for op := range s.ops {
		op()
	}
}

// submit enqueues op and returns a channel carrying its result. The
// operation runs even if the caller abandons the channel.
func (s *serializer) submit(op func() error) <-chan error {
	reply := make(chan error, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		reply <- fmt.Errorf("serializer closed")
		return reply
	}
	s.ops <- func() {
		defer func() {
			if r := recover(); r != nil {
				reply <- fmt.Errorf("queued operation panic: %v", r)
			}
		}()
		reply <- op()
	}
	s.mu.Unlock()
	return reply
}

// do submits op and waits for its result.
func (s *serializer) do(op func() error) error {
	return <-s.submit(op)
}

// close stops accepting work and drains everything already queued.
func (s *serializer) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()
	<-s.done
}
