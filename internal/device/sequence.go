package device

import "sync"

// sequence runs posted functions one at a time, in order, on its own
// goroutine. Posting never blocks.
type sequence struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newSequence() *sequence {
	s := &sequence{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

// post queues f and reports whether it was accepted.
func (s *sequence) post(f func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, f)
	s.mu.Unlock()
	s.signal()
	return true
}

// invoke runs f on the sequence and waits for it. It must not be called
// from the sequence.
func (s *sequence) invoke(f func()) bool {
	done := make(chan struct{})
	if !s.post(func() {
		defer close(done)
		f()
	}) {
		return false
	}
	<-done
	return true
}

// close rejects new posts. Functions already queued still run.
func (s *sequence) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *sequence) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *sequence) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		f := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		f()
	}
}
