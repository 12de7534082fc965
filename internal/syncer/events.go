package syncer

import (
	"context"
	"sync"
	"time"
)

// Sync lifecycle event types published by the coordinator. The aborted
// event is the extension point for making retry exhaustion user visible;
// by default nothing subscribes and the episode ends silently. A
// user-requested resync additionally announces exhaustion through the
// resync-failed event.
const (
	EventItemResolved  = "item-resolved"
	EventUploadDone    = "upload-complete"
	EventUploadSkipped = "upload-skipped"
	EventSyncAborted   = "sync-aborted"
	EventResyncFailed  = "resync-failed"
)

// Event describes one sync lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	Player    string    `json:"player,omitempty"`
	ItemIDs   []int     `json:"item_ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher fans sync events out to interested subscribers. Slow
// subscribers lose events rather than blocking the publisher.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      int64
	bufferSize  int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]chan Event),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that receives events until the context is
// done or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Event, func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	stream := make(chan Event, d.bufferSize)
	d.subscribers[id] = stream
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.subscribers, id)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers the event to every subscriber without blocking.
func (d *Dispatcher) Publish(event Event) {
	if event.Type == "" {
		return
	}
	d.mu.RLock()
	streams := make([]chan Event, 0, len(d.subscribers))
	for _, stream := range d.subscribers {
		streams = append(streams, stream)
	}
	d.mu.RUnlock()

	for _, stream := range streams {
		select {
		case stream <- event:
		default:
		}
	}
}
