package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docflow/internal/document"
	"docflow/internal/logging"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(ctx context.Context, evt Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestHubPublishAssignsSequenceAndBuffers(t *testing.T) {
	hub := NewHub(2, 4, logging.NewNop())
	defer hub.Close()

	for i := 0; i < 3; i++ {
		hub.Publish(Event{DocumentID: "doc", Version: int64(i)})
	}
	events, next, err := hub.Fetch(context.Background(), 0, 10, false)
	if err != nil || next != 3 {
		t.Fatalf("expected last sequence 3, got %d (%v)", next, err)
	}
	if len(events) != 2 || events[0].Sequence != 2 || events[1].Sequence != 3 {
		t.Fatalf("unexpected ring contents %+v", events)
	}
	fetched, _, err := hub.Fetch(context.Background(), 2, 10, false)
	if err != nil || len(fetched) != 1 || fetched[0].Sequence != 3 {
		t.Fatalf("unexpected fetch %+v %v", fetched, err)
	}
	if none, _, _ := hub.Fetch(context.Background(), 3, 10, false); len(none) != 0 {
		t.Fatalf("expected nothing after latest sequence, got %+v", none)
	}
}

func TestHubFetchWaitsForEvent(t *testing.T) {
	hub := NewHub(8, 4, logging.NewNop())
	defer hub.Close()

	done := make(chan []Event, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), 0, 10, true)
		done <- events
	}()
	time.Sleep(20 * time.Millisecond)
	hub.Publish(Event{DocumentID: "doc"})

	select {
	case events := <-done:
		if len(events) != 1 {
			t.Fatalf("expected one event, got %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not wake up")
	}
}

func TestHubFetchHonoursContext(t *testing.T) {
	hub := NewHub(8, 4, logging.NewNop())
	defer hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := hub.Fetch(ctx, 0, 10, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestHubFetchWakesOnCancelWithoutEvents(t *testing.T) {
	hub := NewHub(8, 4, logging.NewNop())
	defer hub.Close()

	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, _, err := hub.Fetch(ctx, 0, 10, true)
			done <- err
		}()
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("iteration %d: expected canceled, got %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: fetch missed the cancel wakeup", i)
		}
	}
}

func TestHubSubscribersAndSlowSinkNeverBlockPublish(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	hub := NewHub(16, 1, logging.NewNop())
	hub.AddSink(sink)

	sub, cancel := hub.Subscribe(1)
	defer cancel()

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Publish(Event{DocumentID: "doc", Version: int64(i)})
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow sink or full subscriber")
	}

	first := <-sub
	if first.Version != 0 {
		t.Fatalf("expected first event on subscriber, got %+v", first)
	}
	if hub.Dropped() == 0 {
		t.Fatal("expected drops with full buffers")
	}

	close(sink.block)
	hub.Close()
	if got := sink.snapshot(); len(got) == 0 || len(got) > 2 {
		t.Fatalf("expected the sink to receive the queued events only, got %d", len(got))
	}
}

func TestHubSinkErrorsAreSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("down")}
	hub := NewHub(4, 4, logging.NewNop())
	hub.AddSink(sink)
	hub.Publish(Event{DocumentID: "doc"})
	hub.Close()
	if len(sink.snapshot()) != 1 {
		t.Fatal("expected the failing sink to still be called")
	}
	hub.Publish(Event{DocumentID: "after-close"})
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	hub := NewHub(4, 4, logging.NewNop())
	defer hub.Close()
	sub, cancel := hub.Subscribe(1)
	cancel()
	cancel()
	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
}

func TestFromRecordUsesExplicitProgress(t *testing.T) {
	rec := &document.Record{ID: "doc", Stage: document.StageExtracting, CoarseStatus: document.StageExtracting.CoarseStatus(), Version: 3}
	evt := FromRecord(rec)
	if evt.Progress != document.StageExtracting.Progress() || evt.Kind != KindTransition {
		t.Fatalf("unexpected derived progress %+v", evt)
	}
	rec.SetProgress(42)
	rec.LastError = &document.StageError{Kind: "upstream", Message: "boom", Recoverable: true}
	evt = FromRecord(rec)
	if evt.Progress != 42 || evt.LastError == nil || !evt.LastError.Recoverable {
		t.Fatalf("unexpected event %+v", evt)
	}
	if Progress(rec, 55).Kind != KindProgress {
		t.Fatal("expected progress kind")
	}
}
