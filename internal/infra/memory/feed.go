package memory

import (
	"context"

	"quibly/internal/domain"
)

// Publish fans a change event out to every subscriber of its session.
// Delivery is non-blocking: a slow subscriber loses its oldest buffered
// event rather than stalling the broadcast; polling fills the gap. The
// exclusive lock keeps the drain-then-send pair atomic across
// concurrent publishers, so the retried send cannot block.
func (s *Store) Publish(_ context.Context, event domain.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

// Subscribe registers a push channel for one session. The cancel func is
// idempotent; tearing down and resubscribing never leaves a duplicate
// registration.
func (s *Store) Subscribe(_ context.Context, sessionID string) (<-chan domain.ChangeEvent, func(), error) {
	ch := make(chan domain.ChangeEvent, 16)

	s.mu.Lock()
	if s.subscribers[sessionID] == nil {
		s.subscribers[sessionID] = make(map[chan domain.ChangeEvent]struct{})
	}
	s.subscribers[sessionID][ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.subscribers[sessionID]; ok {
			if _, registered := set[ch]; registered {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(s.subscribers, sessionID)
			}
		}
	}
	return ch, cancel, nil
}
