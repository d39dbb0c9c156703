package events

import "sync"

// Capacity bounds each subscriber's event backlog. Once full, the oldest
// unseen event for that subscriber is dropped to make room for the new
// one: producers never block and never fail.
const Capacity = 1024

// Bus is a bounded, lossy, multi-producer multi-consumer broadcast of
// DownloadEvent. Each subscriber owns an independent buffered channel;
// a publish that finds a subscriber's channel full drops that
// subscriber's oldest queued event and retries, rather than blocking the
// publisher or dropping the new event outright.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan DownloadEvent
	next int
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan DownloadEvent)}
}

// Subscribe registers a new subscriber and returns its event channel plus
// an unsubscribe function. The returned channel is closed by Unsubscribe.
func (b *Bus) Subscribe() (<-chan DownloadEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan DownloadEvent, Capacity)
	b.subs[id] = ch

	return ch, func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers ev to every current subscriber. A publish with zero
// subscribers is a no-op. Publish never blocks.
func (b *Bus) Publish(ev DownloadEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber backlog is full: drop its oldest event, then
			// retry once. If the channel drained concurrently this still
			// succeeds; if a reader raced us and is now keeping up, the
			// retry simply enqueues normally.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// SubscriberCount returns the current number of live subscribers, mostly
// useful for tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
