package touch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// EventClass names what a subscriber is attending to.
type EventClass uint8

const (
	OnInterrupt EventClass = iota
	OnStartupComplete
	OnWakeSignal
	numEventClasses
)

func (c EventClass) String() string {
	switch c {
	case OnInterrupt:
		return "interrupt"
	case OnStartupComplete:
		return "startup"
	case OnWakeSignal:
		return "wake"
	}
	return "invalid"
}

// Event is delivered to subscribers. Report is set for operational
// interrupts carrying touch data.
type Event struct {
	Class  EventClass
	Device string
	Mode   Mode
	Report *Report
}

type Handler func(Event)

type subscription struct {
	id   string
	mode Mode
	fn   Handler
}

// EventBus is an ordered multimap from event class to subscribers.
// Publish iterates over a snapshot, so handlers may subscribe or
// unsubscribe while being invoked.
type EventBus struct {
	mx   sync.RWMutex
	subs [numEventClasses][]subscription
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers fn for class. Interrupt events are filtered by
// mode; other classes ignore it. The returned id removes the
// subscription.
func (b *EventBus) Subscribe(class EventClass, mode Mode, fn Handler) (string, error) {
	if class >= numEventClasses {
		return "", fmt.Errorf("%w: event class %d", ErrInvalidArgument, class)
	}
	if fn == nil {
		return "", fmt.Errorf("%w: nil handler", ErrInvalidArgument)
	}
	id := uuid.New().String()
	b.mx.Lock()
	defer b.mx.Unlock()
	// copy on write keeps snapshots taken by Publish intact
	subs := make([]subscription, len(b.subs[class]), len(b.subs[class])+1)
	copy(subs, b.subs[class])
	b.subs[class] = append(subs, subscription{id: id, mode: mode, fn: fn})
	return id, nil
}

func (b *EventBus) Unsubscribe(class EventClass, id string) error {
	if class >= numEventClasses {
		return fmt.Errorf("%w: event class %d", ErrInvalidArgument, class)
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	cur := b.subs[class]
	for i, s := range cur {
		if s.id != id {
			continue
		}
		subs := make([]subscription, 0, len(cur)-1)
		subs = append(subs, cur[:i]...)
		b.subs[class] = append(subs, cur[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: no %s subscription %s", ErrInvalidArgument, class, id)
}

// Publish invokes the subscribers of ev.Class in subscription order and
// returns how many were called. A subscriber is called when the event
// mode is unknown or intersects its mode filter.
func (b *EventBus) Publish(ev Event) int {
	if ev.Class >= numEventClasses {
		return 0
	}
	b.mx.RLock()
	subs := b.subs[ev.Class]
	b.mx.RUnlock()
	n := 0
	for _, s := range subs {
		if ev.Mode != ModeUnknown && s.mode&ev.Mode == 0 {
			continue
		}
		s.fn(ev)
		n++
	}
	return n
}

// Len returns the number of subscribers of class.
func (b *EventBus) Len(class EventClass) int {
	if class >= numEventClasses {
		return 0
	}
	b.mx.RLock()
	defer b.mx.RUnlock()
	return len(b.subs[class])
}
