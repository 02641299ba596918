package resource

import "sync"

// Observers is a concurrency-safe observer list.
// The zero value is ready to use.
type Observers struct {
	entries []observerEntry
	onPanic func(e Event, recovered any)
	nextID  uint64
	mu      sync.RWMutex
}

type observerEntry struct {
	o  Observer
	id uint64
}

// Subscribe adds an observer and returns a function removing it again.
func (l *Observers) Subscribe(o Observer) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, observerEntry{o: o, id: id})
	return func() { l.remove(id) }
}

func (l *Observers) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// OnPanic sets the function receiving values recovered from panicking
// observers. Without one, panics are swallowed.
func (l *Observers) OnPanic(fn func(e Event, recovered any)) {
	l.mu.Lock()
	l.onPanic = fn
	l.mu.Unlock()
}

// Len returns the number of subscribed observers.
func (l *Observers) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Notify delivers e to every observer. The list is copied first so an
// observer may subscribe or unsubscribe from inside the callback. A panicking
// observer does not keep the others from being called.
func (l *Observers) Notify(e Event) {
	l.mu.RLock()
	if len(l.entries) == 0 {
		l.mu.RUnlock()
		return
	}
	entries := make([]observerEntry, len(l.entries))
	copy(entries, l.entries)
	onPanic := l.onPanic
	l.mu.RUnlock()

	for _, entry := range entries {
		deliver(entry.o, e, onPanic)
	}
}

func deliver(o Observer, e Event, onPanic func(Event, any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(e, r)
		}
	}()
	o.OnResourceEvent(e)
}
