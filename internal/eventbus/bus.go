package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the watcher and relay loops.
const (
	TransitionNotified   = "transition.notified"
	TransitionSuppressed = "transition.suppressed"
	TransitionDropped    = "transition.dropped"
	BlocklistReloaded    = "blocklist.reloaded"
	RelayDelivered       = "relay.delivered"
	RelayFailed          = "relay.failed"
	RelayRejected        = "relay.rejected"
)

// Event is a lightweight, in-memory signal used to decouple the dispatch
// loops from history and metrics.
//
// Contract:
//   - Publish MUST be non-blocking; the dispatch loop calls it inline.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Transition is the Data of transition.* events.
type Transition struct {
	Unit    string `json:"unit"`
	Active  string `json:"active,omitempty"`
	Sub     string `json:"sub,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Delivery is the Data of relay.* events.
type Delivery struct {
	Key   string `json:"key,omitempty"`
	ID    uint32 `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock across the sends; unsubscribe takes the write lock
	// before closing, so a send never hits a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}
