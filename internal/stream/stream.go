// Package stream fans certificate issuance notices out to live subscribers
// (the SSE dashboard feed).
package stream

import (
	"context"
	"sync"
	"time"
)

// Notice describes one issued certificate. It carries provenance metadata
// only; artifact bytes never travel through the stream.
type Notice struct {
	EventName   string    `json:"event_name"`
	Holder      string    `json:"holder"`
	Fingerprint string    `json:"fingerprint"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Stream fan-outs notices to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Notice
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Notice)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// notices. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Notice {
	ch := make(chan Notice, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the notice to all subscribers.
func (s *Stream) Publish(n Notice) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
			// Drop when subscriber is slow to avoid blocking generation.
		}
	}
}
