// Package present decides how a notification is surfaced: as an in-app
// toast, a desktop notification, or both.
package present

import (
	"sync"

	"github.com/nhle/sitenotify/internal/model"
)

// Visibility is the host window's attention state.
type Visibility int

const (
	Visible Visibility = iota
	Hidden
	Unfocused
)

func (v Visibility) String() string {
	switch v {
	case Hidden:
		return "hidden"
	case Unfocused:
		return "unfocused"
	default:
		return "visible"
	}
}

// Decision is the outcome for one notification.
type Decision struct {
	ShowToast   bool
	ShowDesktop bool
}

// Decide is the presentation policy. A hidden or unfocused window gets a
// desktop notification plus a queued toast for when the user returns; a
// visible window gets the toast only.
// Priority and origin are accepted so callers need not change if the
// policy grows per-priority rules; neither affects the outcome today.
func Decide(v Visibility, _ model.Priority, _ model.Origin) Decision {
	if v == Visible {
		return Decision{ShowToast: true}
	}
	return Decision{ShowToast: true, ShowDesktop: true}
}

// Sink renders notifications. Implementations must not block.
type Sink interface {
	ShowToast(n model.Notification)
	ShowDesktopNotification(n model.Notification, tag string) error
}

// Permission is the desktop notification permission state.
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

// PermissionRequester asks the host for desktop notification permission.
type PermissionRequester func() Permission

// Presenter applies decisions to a sink, tracking desktop permission.
// Permission is requested at most once per presenter lifetime.
type Presenter struct {
	mu         sync.Mutex
	sink       Sink
	request    PermissionRequester
	permission Permission
	asked      bool
}

// NewPresenter creates a presenter over sink. request may be nil, in which
// case permission is treated as granted.
func NewPresenter(sink Sink, request PermissionRequester) *Presenter {
	return &Presenter{sink: sink, request: request}
}

// Present surfaces n according to d. A denied or failing desktop path
// degrades to in-app only.
func (p *Presenter) Present(n model.Notification, d Decision) {
	if p.sink == nil {
		return
	}
	if d.ShowToast {
		p.sink.ShowToast(n)
	}
	if !d.ShowDesktop || !p.desktopAllowed() {
		return
	}
	// The tag equals the id so the desktop side collapses duplicates that
	// race past the ledger.
	if err := p.sink.ShowDesktopNotification(n, string(n.ID)); err != nil {
		p.mu.Lock()
		p.permission = PermissionDenied
		p.mu.Unlock()
	}
}

// ShowToastOnly surfaces n as a toast regardless of visibility.
func (p *Presenter) ShowToastOnly(n model.Notification) {
	if p.sink != nil {
		p.sink.ShowToast(n)
	}
}

// ShowDesktopOnly surfaces n on the desktop when permitted, for the
// app-closed path where no toast can be rendered.
func (p *Presenter) ShowDesktopOnly(n model.Notification) {
	p.Present(n, Decision{ShowDesktop: true})
}

// Permission returns the current desktop permission state.
func (p *Presenter) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission
}

func (p *Presenter) desktopAllowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.permission == PermissionDefault && !p.asked {
		p.asked = true
		if p.request == nil {
			p.permission = PermissionGranted
		} else {
			p.permission = p.request()
		}
	}
	return p.permission == PermissionGranted
}
