// Package eventbus is an in-process fanout of small signals (run finished,
// source failed, breaker state) between the pipeline and its observers.
package eventbus

import (
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "assetsy_eventbus_dropped_total",
		Help: "Events not delivered because a subscriber buffer was full",
	},
	[]string{"type"},
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers every published event to every subscriber. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus { return &fanout{} }

type fanout struct {
	mu   sync.Mutex
	subs []chan Event
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			droppedTotal.WithLabelValues(e.Type).Inc()
		}
	}
}

// Subscribe registers a buffered channel (8 when buffer <= 0). unsubscribe
// closes it and is safe to call more than once.
func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch, sync.OnceFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(c chan Event) bool { return c == ch })
		close(ch)
	})
}

// Publish stamps and sends an event on b; a nil b is a no-op.
func Publish(b Bus, typ string, data any) {
	if b != nil {
		b.Publish(Event{Type: typ, Data: data})
	}
}
