package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/datapull/internal/progress"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans events out to in-process subscribers such as SSE streams.
// Slow subscribers lose events rather than stall the hub. The latest task
// status is replayed to each new subscriber.
type Broadcaster struct {
	mu         sync.Mutex
	subs       map[int]chan progress.Event
	next       int
	lastStatus *progress.Event
	closed     bool
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan progress.Event)}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release it; the channel is closed on cancel or when the broadcaster closes.
func (b *Broadcaster) Subscribe(buffer int) (<-chan progress.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan progress.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	if b.lastStatus != nil {
		ch <- *b.lastStatus
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers one event to every subscriber without blocking.
func (b *Broadcaster) Publish(evt progress.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if evt.Kind == progress.KindTaskStatus {
		cp := evt
		b.lastStatus = &cp
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Consume implements progress.Sink.
func (b *Broadcaster) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		b.Publish(evt)
	}
	return nil
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
