package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	want := Notice{EventName: "Robo Sumo", Holder: "1AB21CS001", Fingerprint: "abc", IssuedAt: time.Now().UTC()}
	s.Publish(want)

	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("unexpected notice: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("notice never arrived")
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return // closed as expected
			}
		case <-deadline:
			t.Fatal("channel was not closed after context cancellation")
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Subscribe(ctx) // never drained
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(Notice{Fingerprint: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
