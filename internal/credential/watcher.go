package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// EventKind distinguishes login from logout.
type EventKind int

const (
	LoggedIn EventKind = iota
	LoggedOut
)

// Event announces a credential change.
type Event struct {
	Kind    EventKind
	Session Session
}

// Watcher turns writes to the session marker file into credential change
// events. Any process that logs in or out touches the marker.
type Watcher struct {
	store  *Store
	logger *slog.Logger
	events chan Event
	last   string
}

// NewWatcher creates a watcher for store's marker file.
func NewWatcher(store *Store, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &Watcher{
		store:  store,
		logger: logger,
		events: make(chan Event, 8),
	}
	if sess, err := store.Session(); err == nil {
		w.last = sess.Token
	}
	return w
}

// Events returns the change stream. It is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run watches the marker directory until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	marker := w.store.MarkerFile()
	if marker == "" {
		return errors.New("session marker file not configured")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: the marker may be replaced rather than written.
	dir := filepath.Dir(marker)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("session watcher error", "error", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(marker) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
				continue
			}
			w.check(ctx)
		}
	}
}

// check re-reads the keyring and emits an event when the token changed.
func (w *Watcher) check(ctx context.Context) {
	w.store.Refresh()
	sess, err := w.store.Session()

	var ev Event
	switch {
	case errors.Is(err, ErrNoCredential):
		if w.last == "" {
			return
		}
		w.last = ""
		ev = Event{Kind: LoggedOut}
	case err != nil:
		w.logger.Warn("reading session after change", "error", err)
		return
	default:
		if sess.Token == w.last {
			return
		}
		w.last = sess.Token
		ev = Event{Kind: LoggedIn, Session: sess}
	}

	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
