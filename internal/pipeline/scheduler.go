package pipeline

import (
	"context"
	"sync"
	"time"
)

// Scheduler coalesces message bursts: each Schedule call resets the
// conversation's debounce timer, so the responder runs once per burst,
// after the sender goes quiet for the full window.
type Scheduler struct {
	window time.Duration
	run    func(tenantID, conversationID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler creates a debounce scheduler firing run after window of
// silence per conversation.
func NewScheduler(window time.Duration, run func(tenantID, conversationID string)) *Scheduler {
	return &Scheduler{
		window: window,
		run:    run,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms (or re-arms) the conversation's timer.
func (s *Scheduler) Schedule(tenantID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[conversationID]; ok {
		t.Reset(s.window)
		return
	}
	s.wg.Add(1)
	s.timers[conversationID] = time.AfterFunc(s.window, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, conversationID)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		s.run(tenantID, conversationID)
	})
}

// Close stops accepting schedules, cancels pending timers, and waits for
// in-flight runs. Safe to call once during shutdown.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
