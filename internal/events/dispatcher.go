package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Publisher delivers an event to zero or more subscribers. Implementations
// must never surface subscriber failures to the caller; publishing happens
// after the originating transaction has committed and cannot roll it back.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type Subscriber func(ctx context.Context, ev Event)

// Dispatcher fans events out to an in-process subscriber list. A subscriber
// that panics is logged and skipped; the remaining subscribers still run.
type Dispatcher struct {
	mu   sync.RWMutex
	subs []Subscriber
	log  *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

func (d *Dispatcher) Subscribe(fn Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, fn)
}

func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	d.mu.RLock()
	subs := make([]Subscriber, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, sub := range subs {
		d.deliver(ctx, sub, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event subscriber panicked",
				zap.String("event_type", ev.EventType()),
				zap.Any("panic", r),
			)
		}
	}()
	sub(ctx, ev)
}

// NopPublisher discards events. Used where no consumers are wired.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
