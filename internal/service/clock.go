package service

import (
	"sync"
	"time"
)

// stamper hands out strictly increasing timestamps per conversation. Stamps
// are truncated to milliseconds so every store backend keeps their order.
type stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[string]time.Time
}

func newStamper(now func() time.Time) *stamper {
	if now == nil {
		now = time.Now
	}
	return &stamper{now: now, last: make(map[string]time.Time)}
}

// observe records a persisted timestamp so later stamps sort after it.
func (s *stamper) observe(conversationID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.After(s.last[conversationID]) {
		s.last[conversationID] = t
	}
}

// next returns a timestamp later than every stamp issued or observed for
// the conversation.
func (s *stamper) next(conversationID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now().UTC().Truncate(time.Millisecond)
	if last := s.last[conversationID]; !t.After(last) {
		t = last.Truncate(time.Millisecond).Add(time.Millisecond)
	}
	s.last[conversationID] = t
	return t
}

// forget drops the conversation's high-water mark.
func (s *stamper) forget(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.last, conversationID)
}
