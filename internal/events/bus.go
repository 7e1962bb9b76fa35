package events

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

const DefaultSubscriberBuffer = 256

type subscriber struct {
	ch    chan Event
	kinds map[Kind]struct{}
}

func (s *subscriber) wants(kind Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Bus fans events out to named subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and is expected to resynchronise from
// the ledger.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers id and returns its channel. Re-subscribing an existing
// id replaces (and closes) the previous channel. With no kinds every event is
// delivered.
func (b *Bus) Subscribe(id string, buffer int, kinds ...Kind) <-chan Event {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	if prev, ok := b.subscribers[id]; ok {
		close(prev.ch)
	}
	b.subscribers[id] = sub
	return sub.ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

func (b *Bus) Publish(evs ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ev := range evs {
		b.published.Add(1)
		for id, sub := range b.subscribers {
			if !sub.wants(ev.Kind) {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				b.dropped.Add(1)
				log.Warn("event subscriber too slow, dropping event", "subscriber", id, "kind", ev.Kind, "seq", ev.Seq)
			}
		}
	}
}

// Close closes every subscriber channel; later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

func (b *Bus) Published() uint64 { return b.published.Load() }
func (b *Bus) Dropped() uint64   { return b.dropped.Load() }

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
