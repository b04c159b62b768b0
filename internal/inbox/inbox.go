// Package inbox holds the materialized notification list that the UI
// renders. It is the single source of UI truth; every delivery channel
// writes into it through upserts.
package inbox

import (
	"sort"
	"strings"
	"sync"

	"github.com/nhle/sitenotify/internal/model"
)

// EventKind describes what changed.
type EventKind int

const (
	EventAdded EventKind = iota
	EventUpdated
	EventRead
	EventDeleted
	EventPurged
	EventCleared
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Kind        EventKind
	ID          model.ID
	UnreadCount int
	Title       string
}

// Inbox is a goroutine-safe notification store with upsert semantics.
type Inbox struct {
	mu      sync.Mutex
	appName string
	items   map[model.ID]model.Notification
	deleted map[model.ID]struct{}
	unread  int
	subs    map[int]func(Event)
	nextSub int
}

// New creates an empty inbox. appName is used for the window title.
func New(appName string) *Inbox {
	return &Inbox{
		appName: appName,
		items:   make(map[model.ID]model.Notification),
		deleted: make(map[model.ID]struct{}),
		subs:    make(map[int]func(Event)),
	}
}

// Add upserts a notification observed by a client-side channel. A
// notification deleted locally is not resurrected, and a read notification
// is never flipped back to unread. It reports whether the id was new.
func (b *Inbox) Add(n model.Notification) bool {
	n.Normalize()
	if n.ID == "" {
		return false
	}

	b.mu.Lock()
	if _, gone := b.deleted[n.ID]; gone {
		b.mu.Unlock()
		return false
	}
	existing, ok := b.items[n.ID]
	if ok && existing.Read {
		n.Read = true
	}
	b.items[n.ID] = n.Clone()
	kind := EventAdded
	if ok {
		kind = EventUpdated
	}
	ev := b.eventLocked(kind, n.ID)
	b.mu.Unlock()

	b.emit(ev)
	return !ok
}

// AddNotifications upserts a server listing. Server payloads are
// authoritative: they restore locally deleted ids and may set read state
// either way. It returns the ids that were not present before.
func (b *Inbox) AddNotifications(ns []model.Notification) []model.ID {
	b.mu.Lock()
	added := b.upsertAuthoritativeLocked(ns)
	ev := b.eventLocked(EventUpdated, "")
	b.mu.Unlock()

	b.emit(ev)
	return added
}

// Reconcile applies a full server listing: every notification in ns is
// upserted authoritatively and every local id absent from ns is purged.
// It returns the ids that were not present before.
func (b *Inbox) Reconcile(ns []model.Notification) []model.ID {
	b.mu.Lock()
	added := b.upsertAuthoritativeLocked(ns)

	present := make(map[model.ID]struct{}, len(ns))
	for _, n := range ns {
		present[model.ID(strings.TrimSpace(string(n.ID)))] = struct{}{}
	}
	for id := range b.items {
		if _, ok := present[id]; !ok {
			delete(b.items, id)
		}
	}
	// Ids the server no longer lists cannot come back through a stale push.
	for id := range b.deleted {
		if _, ok := present[id]; !ok {
			delete(b.deleted, id)
		}
	}
	ev := b.eventLocked(EventPurged, "")
	b.mu.Unlock()

	b.emit(ev)
	return added
}

func (b *Inbox) upsertAuthoritativeLocked(ns []model.Notification) []model.ID {
	var added []model.ID
	for _, n := range ns {
		n.Normalize()
		if n.ID == "" {
			continue
		}
		delete(b.deleted, n.ID)
		if _, ok := b.items[n.ID]; !ok {
			added = append(added, n.ID)
		}
		b.items[n.ID] = n.Clone()
	}
	return added
}

// MarkAsRead flags id as read. It reports whether the state changed.
func (b *Inbox) MarkAsRead(id model.ID) bool {
	b.mu.Lock()
	n, ok := b.items[id]
	if !ok || n.Read {
		b.mu.Unlock()
		return false
	}
	n.Read = true
	b.items[id] = n
	ev := b.eventLocked(EventRead, id)
	b.mu.Unlock()

	b.emit(ev)
	return true
}

// MarkAllAsRead flags every notification as read and returns the ids that
// changed.
func (b *Inbox) MarkAllAsRead() []model.ID {
	b.mu.Lock()
	var changed []model.ID
	for id, n := range b.items {
		if n.Read {
			continue
		}
		n.Read = true
		b.items[id] = n
		changed = append(changed, id)
	}
	ev := b.eventLocked(EventRead, "")
	b.mu.Unlock()

	if len(changed) > 0 {
		b.emit(ev)
	}
	return changed
}

// Delete removes id locally and tombstones it until a server listing
// confirms it again.
func (b *Inbox) Delete(id model.ID) bool {
	b.mu.Lock()
	_, ok := b.items[id]
	delete(b.items, id)
	b.deleted[id] = struct{}{}
	ev := b.eventLocked(EventDeleted, id)
	b.mu.Unlock()

	if ok {
		b.emit(ev)
	}
	return ok
}

// Clear drops every notification and tombstone, e.g. on logout.
func (b *Inbox) Clear() {
	b.mu.Lock()
	b.items = make(map[model.ID]model.Notification)
	b.deleted = make(map[model.ID]struct{})
	ev := b.eventLocked(EventCleared, "")
	b.mu.Unlock()

	b.emit(ev)
}

// Get returns the notification with the given id.
func (b *Inbox) Get(id model.ID) (model.Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.items[id]
	if !ok {
		return model.Notification{}, false
	}
	return n.Clone(), true
}

// List returns all notifications, newest first.
func (b *Inbox) List() []model.Notification {
	b.mu.Lock()
	out := make([]model.Notification, 0, len(b.items))
	for _, n := range b.items {
		out = append(out, n.Clone())
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of notifications held.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// UnreadCount returns the derived unread badge count.
func (b *Inbox) UnreadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unread
}

// Title returns the window title for the current unread count.
func (b *Inbox) Title() string {
	return FormatTitle(b.UnreadCount(), b.appName)
}

// Subscribe registers fn for change events and returns a function that
// removes it. Callbacks run on the mutating goroutine, outside the lock.
func (b *Inbox) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// eventLocked recomputes the unread count and builds the event.
func (b *Inbox) eventLocked(kind EventKind, id model.ID) Event {
	unread := 0
	for _, n := range b.items {
		if !n.Read {
			unread++
		}
	}
	b.unread = unread
	return Event{
		Kind:        kind,
		ID:          id,
		UnreadCount: unread,
		Title:       FormatTitle(unread, b.appName),
	}
}

func (b *Inbox) emit(ev Event) {
	b.mu.Lock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
