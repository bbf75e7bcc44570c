package logic

import (
	"fmt"
	"iter"
	"sync"

	"github.com/infinityCounter2/vh-surveil/internal/models"
)

// EvictionPolicy decides which events of a window survive
// the arrival of the next event.
type EvictionPolicy interface {
	// Evict drops entries from the front of window that must not be
	// retained once next is appended and returns the remainder.
	Evict(window []models.OrderEvent, next models.OrderEvent) []models.OrderEvent
	String() string
}

// CountBound retains at most N of the most recent events.
type CountBound int

func (n CountBound) Evict(window []models.OrderEvent, _ models.OrderEvent) []models.OrderEvent {
	limit := int(n)
	if limit < 1 {
		limit = 1
	}
	if over := len(window) - (limit - 1); over > 0 {
		window = window[over:]
	}
	return window
}

func (n CountBound) String() string {
	return fmt.Sprintf("last %d events", int(n))
}

// TimeBound retains events whose timestamp is within that many ms of the
// newest event. An event exactly that old is kept.
//
// Only the front of the window is inspected, so an older event that
// arrived after a newer one stays until everything ahead of it expires.
type TimeBound int64

func (ms TimeBound) Evict(window []models.OrderEvent, next models.OrderEvent) []models.OrderEvent {
	i := 0
	for i < len(window) && next.Timestamp-window[i].Timestamp > int64(ms) {
		i++
	}
	return window[i:]
}

func (ms TimeBound) String() string {
	return fmt.Sprintf("within %dms", int64(ms))
}

// Window is a read-only view of one key's events, oldest first.
//
// Entries are never rewritten in place so a view stays stable after
// later Record calls; it just stops reflecting them.
type Window struct {
	events []models.OrderEvent
}

func (w Window) Len() int {
	return len(w.events)
}

// At returns the i'th oldest event.
func (w Window) At(i int) models.OrderEvent {
	return w.events[i]
}

// Latest returns the most recently recorded event.
func (w Window) Latest() (models.OrderEvent, bool) {
	if len(w.events) == 0 {
		return models.OrderEvent{}, false
	}
	return w.events[len(w.events)-1], true
}

// Events iterates the window from oldest to newest.
func (w Window) Events() iter.Seq[models.OrderEvent] {
	return func(yield func(models.OrderEvent) bool) {
		for _, ev := range w.events {
			if !yield(ev) {
				return
			}
		}
	}
}

type WindowStoreParams struct {
	// Policy decides what each key's window retains.
	//
	// Defaults to CountBound(50).
	Policy EvictionPolicy
}

// WindowStore is a per-key history of order events.
//
// Windows are created on the first event seen for a key and are never
// removed. Eviction happens only when a new event for the key arrives.
type WindowStore struct {
	p   WindowStoreParams
	mtx sync.RWMutex
	// Keyed by symbol or user, whichever the owning detector groups on.
	windows map[string][]models.OrderEvent
}

func NewWindowStore(p WindowStoreParams) *WindowStore {
	if p.Policy == nil {
		p.Policy = CountBound(50)
	}

	return &WindowStore{
		p:       p,
		windows: make(map[string][]models.OrderEvent),
		mtx:     sync.RWMutex{},
	}
}

// Policy returns the eviction policy the store was built with.
func (store *WindowStore) Policy() EvictionPolicy {
	return store.p.Policy
}

// Record evicts whatever the policy rejects relative to ev, appends ev
// and returns the resulting window for key.
func (store *WindowStore) Record(key string, ev models.OrderEvent) Window {
	store.mtx.Lock()
	defer store.mtx.Unlock()

	events := store.p.Policy.Evict(store.windows[key], ev)
	events = append(events, ev)
	store.windows[key] = events

	return Window{events: events}
}

// Size returns the number of events held for key.
func (store *WindowStore) Size(key string) int {
	store.mtx.RLock()
	defer store.mtx.RUnlock()

	return len(store.windows[key])
}

// Window returns the current view of key's window.
func (store *WindowStore) Window(key string) Window {
	store.mtx.RLock()
	defer store.mtx.RUnlock()

	return Window{events: store.windows[key]}
}

// Snapshot returns a copy of key's events, oldest first.
func (store *WindowStore) Snapshot(key string) []models.OrderEvent {
	store.mtx.RLock()
	defer store.mtx.RUnlock()

	events, exists := store.windows[key]
	if !exists || len(events) == 0 {
		return []models.OrderEvent{}
	}

	// Return a copy to prevent external modification of the window.
	eventsCopy := make([]models.OrderEvent, len(events))
	copy(eventsCopy, events)
	return eventsCopy
}

// Len returns the number of keys the store has seen.
func (store *WindowStore) Len() int {
	store.mtx.RLock()
	defer store.mtx.RUnlock()

	return len(store.windows)
}
