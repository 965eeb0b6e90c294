package reconciler

import (
	"context"
	"sync"
	"time"
)

// ChangeKind describes what happened to a session's buffer.
type ChangeKind string

const (
	ChangeLoaded     ChangeKind = "loaded"
	ChangeEdited     ChangeKind = "edited"
	ChangeAttachment ChangeKind = "attachment"
	ChangeSaved      ChangeKind = "saved"
	ChangeReset      ChangeKind = "reset"
	ChangeState      ChangeKind = "state"
)

// Change notifies subscribers that the buffer moved to a new revision.
type Change struct {
	SessionID string
	Kind      ChangeKind
	Revision  uint64
	Timestamp time.Time
}

// ChangeFeed fans buffer changes out to subscribers without blocking the publisher.
// A subscriber that falls behind misses notifications, never the latest state:
// receivers re-read the session snapshot on every notification.
type ChangeFeed struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscription
	nextID      int64
	bufferSize  int
	closed      bool
}

func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{
		subscribers: make(map[int64]*subscription),
		bufferSize:  16,
	}
}

type subscription struct {
	stream chan Change
	// stop detaches the context watcher so it does not outlive the subscription.
	stop func() bool
}

// Subscribe registers a receiver until ctx ends, cleanup runs, or the feed closes.
func (f *ChangeFeed) Subscribe(ctx context.Context) (<-chan Change, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		ch := make(chan Change)
		close(ch)
		return ch, func() {}
	}
	f.nextID++
	id := f.nextID
	sub := &subscription{stream: make(chan Change, f.bufferSize)}
	f.subscribers[id] = sub

	var once sync.Once
	cleanup := func() {
		once.Do(func() { f.unsubscribe(id) })
	}
	sub.stop = context.AfterFunc(ctx, cleanup)
	return sub.stream, cleanup
}

// Publish delivers change to every subscriber with room in its buffer.
func (f *ChangeFeed) Publish(change Change) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subscribers {
		select {
		case sub.stream <- change:
		default:
		}
	}
}

// Close ends every subscription. Later subscriptions receive a closed channel.
func (f *ChangeFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subscribers {
		sub.stop()
		close(sub.stream)
		delete(f.subscribers, id)
	}
}

func (f *ChangeFeed) unsubscribe(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subscribers[id]; ok {
		sub.stop()
		close(sub.stream)
		delete(f.subscribers, id)
	}
}
