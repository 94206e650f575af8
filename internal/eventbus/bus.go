package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pipeline and delivery channel.
const (
	PipelineStarted  = "pipeline.started"
	PipelineFinished = "pipeline.finished"
	PipelineFailed   = "pipeline.failed"

	SourceFailed = "source.failed"

	DeliverySent      = "delivery.sent"
	DeliveryFailed    = "delivery.failed"
	DeliveryAllFailed = "delivery.all_failed"

	ConnectionState = "connection.state"

	ReminderScheduled = "reminder.scheduled"
	ReminderFired     = "reminder.fired"
	ReminderFailed    = "reminder.failed"
)

// Event is a small in-memory signal. Publish never blocks; a subscriber whose
// buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Emit publishes on bus if it is non-nil.
func Emit(bus Bus, typ string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(Event{Type: typ, Data: data})
}

// New returns an in-memory fanout bus. It owns no goroutines.
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
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		deliver(ch, e)
	}
}

// deliver tolerates a channel closed by a concurrent unsubscribe.
func deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
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
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
