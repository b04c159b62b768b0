package present

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"

	"github.com/nhle/sitenotify/internal/model"
)

const maxTags = 1000

// TerminalNotifier is a Sink that raises desktop notifications through the
// terminal's OSC 777 escape. Terminals do not collapse notifications by tag,
// so it remembers which tags it has shown and never shows one twice.
type TerminalNotifier struct {
	// OnToast receives in-app toasts. It is set by the UI once running.
	OnToast func(model.Notification)

	mu      sync.Mutex
	out     *termenv.Output
	appName string
	shown   map[string]struct{}
	order   []string
}

// NewTerminalNotifier writes notifications to w.
func NewTerminalNotifier(w io.Writer, appName string) *TerminalNotifier {
	return &TerminalNotifier{
		out:     termenv.NewOutput(w),
		appName: appName,
		shown:   make(map[string]struct{}),
	}
}

// SetToastHandler replaces the toast callback.
func (t *TerminalNotifier) SetToastHandler(fn func(model.Notification)) {
	t.mu.Lock()
	t.OnToast = fn
	t.mu.Unlock()
}

func (t *TerminalNotifier) ShowToast(n model.Notification) {
	t.mu.Lock()
	fn := t.OnToast
	t.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (t *TerminalNotifier) ShowDesktopNotification(n model.Notification, tag string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tag != "" {
		if _, ok := t.shown[tag]; ok {
			return nil
		}
	}

	title := n.Title
	if t.appName != "" {
		title = t.appName + ": " + title
	}
	seq := termenv.OSC + "777;notify;" + sanitize(title) + ";" + sanitize(n.Message) + termenv.ST
	if _, err := t.out.WriteString(seq); err != nil {
		return fmt.Errorf("writing desktop notification: %w", err)
	}
	if tag != "" {
		t.remember(tag)
	}
	return nil
}

func (t *TerminalNotifier) remember(tag string) {
	t.shown[tag] = struct{}{}
	t.order = append(t.order, tag)
	if len(t.order) > maxTags {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.shown, oldest)
	}
}

// sanitize strips characters that would terminate or split the OSC payload.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ';':
			return ','
		case r < 0x20 || r == 0x7f:
			return ' '
		}
		return r
	}, s)
}
