package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/logging"
)

const (
	defaultCapacity  = 512
	defaultQueueSize = 256
	defaultSubBuffer = 64
	deliverTimeout   = 10 * time.Second
)

// Publisher accepts events from stage executors. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Sink receives every published event from the hub's dispatcher goroutine.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

// Hub stores recent events, fans them out to subscriber channels, and hands
// them to sinks through a bounded queue so a slow sink never stalls a
// publisher.
type Hub struct {
	mu          sync.Mutex
	cond        *sync.Cond
	capacity    int
	buffer      []Event
	nextSeq     uint64
	subscribers map[int]chan Event
	nextSub     int
	sinks       []Sink
	dropped     uint64
	closed      bool

	queue  chan Event
	done   chan struct{}
	logger *slog.Logger
}

// NewHub constructs a hub and starts its sink dispatcher. Close stops it.
func NewHub(capacity, queueSize int, logger *slog.Logger) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	h := &Hub{
		capacity:    capacity,
		subscribers: make(map[int]chan Event),
		queue:       make(chan Event, queueSize),
		done:        make(chan struct{}),
		logger:      logging.NewComponentLogger(logger, "events"),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.dispatch()
	return h
}

// AddSink wires an additional sink that receives every published event.
func (h *Hub) AddSink(sink Sink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Publish records evt and notifies subscribers and sinks. It never blocks:
// full subscriber buffers and a full sink queue drop the event for that
// consumer only.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	for _, ch := range h.subscribers {
		select {
		case ch <- evt:
		default:
			h.dropped++
		}
	}
	queued := true
	if len(h.sinks) > 0 {
		select {
		case h.queue <- evt:
		default:
			queued = false
			h.dropped++
		}
	}
	h.cond.Broadcast()
	h.mu.Unlock()

	if !queued {
		logging.WarnWithContext(h.logger, "event sink queue full; event dropped", "event_dropped",
			logging.String(logging.FieldDocumentID, evt.DocumentID),
			logging.String(logging.FieldStage, evt.Stage),
			logging.String(logging.FieldErrorHint, "increase events.sink_queue_size or check sink health"),
		)
	}
}

// Subscribe returns a channel receiving every event published after the
// call, and a cancel function that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubBuffer
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextSub
	h.nextSub++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
}

// Dropped reports how many subscriber or sink deliveries were skipped.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close stops the dispatcher after draining queued events and closes all
// subscriber channels.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.queue)
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
	h.cond.Broadcast()
	h.mu.Unlock()
	<-h.done
}

func (h *Hub) dispatch() {
	defer close(h.done)
	for evt := range h.queue {
		h.mu.Lock()
		sinks := append([]Sink(nil), h.sinks...)
		h.mu.Unlock()
		for _, sink := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
			err := sink.Deliver(ctx, evt)
			cancel()
			if err != nil {
				logging.WarnWithContext(h.logger, "event sink delivery failed", "event_sink_failed",
					logging.String("sink", sink.Name()),
					logging.String(logging.FieldDocumentID, evt.DocumentID),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "events still reach local subscribers"),
				)
			}
		}
	}
}

// Fetch returns buffered events with sequence greater than since. When wait
// is true, Fetch blocks until at least one event is available or the
// context ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				// Holding mu orders the wakeup after the waiter's
				// context check, so it cannot be lost.
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		events, next := h.snapshotLocked(since, limit)
		if len(events) > 0 || !wait || h.closed {
			return events, next, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
	}
}

func (h *Hub) snapshotLocked(since uint64, limit int) ([]Event, uint64) {
	startIdx := -1
	for i, evt := range h.buffer {
		if evt.Sequence > since {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil, h.nextSeq
	}
	end := startIdx + limit
	if end > len(h.buffer) {
		end = len(h.buffer)
	}
	out := make([]Event, end-startIdx)
	copy(out, h.buffer[startIdx:end])
	return out, h.nextSeq
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
