package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/sitenotify/internal/inbox"
	"github.com/nhle/sitenotify/internal/keys"
	"github.com/nhle/sitenotify/internal/model"
	appsync "github.com/nhle/sitenotify/internal/sync"
	"github.com/nhle/sitenotify/internal/ui"
	helpview "github.com/nhle/sitenotify/internal/ui/help"
	"github.com/nhle/sitenotify/internal/ui/notiflist"
)

const (
	toastDuration  = 4 * time.Second
	statusInterval = time.Second
)

// inboxChangedMsg is sent after any inbox mutation.
type inboxChangedMsg struct{}

// toastMsg carries an in-app toast.
type toastMsg struct {
	notification model.Notification
}

// clearToastMsg expires the toast with the given sequence number.
type clearToastMsg struct {
	seq int
}

// statusTickMsg refreshes the channel summary.
type statusTickMsg struct{}

// refreshDoneMsg reports the outcome of a manual refresh.
type refreshDoneMsg struct {
	result appsync.PollResultMsg
}

// focusChangedMsg is sent once the notifier has applied a focus change.
type focusChangedMsg struct{}

// Model is the root Bubble Tea model for the notification panel.
type Model struct {
	ctx      context.Context
	notifier *Notifier
	appName  string
	layout   ui.Layout
	keys     *keys.KeyMap
	list     notiflist.Model
	helpView helpview.Model
	showHelp bool
	ready    bool

	changes chan struct{}
	toasts  chan model.Notification

	unread   int
	channels string
	toast    string
	toastSeq int
	warning  string

	// blurred is set while the terminal has lost focus. A toast raised
	// then is held and only starts expiring once focus returns.
	blurred   bool
	toastHeld bool
}

// New creates the root model. It subscribes to the notifier's inbox and
// toasts; call it before Notifier.Start so nothing is missed.
func New(ctx context.Context, n *Notifier, appName string) Model {
	k := keys.DefaultKeyMap()
	m := Model{
		ctx:      ctx,
		notifier: n,
		appName:  appName,
		keys:     k,
		list:     notiflist.New(k, 80, 22),
		helpView: helpview.New(k, 80, 22),
		changes:  make(chan struct{}, 1),
		toasts:   make(chan model.Notification, 16),
	}

	changes, toasts := m.changes, m.toasts
	n.Inbox().Subscribe(func(inbox.Event) {
		select {
		case changes <- struct{}{}:
		default:
			// A render is already pending.
		}
	})
	n.SetToastHandler(func(nt model.Notification) {
		select {
		case toasts <- nt:
		default:
		}
	})
	return m
}

// Init starts listening to every event source.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.waitForChange(),
		m.waitForToast(),
		tickStatus(),
		tea.SetWindowTitle(inbox.FormatTitle(0, m.appName)),
		func() tea.Msg { return inboxChangedMsg{} },
	}
	if p := m.notifier.Poller(); p != nil {
		cmds = append(cmds, p.WaitForNextResult())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and key bindings.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.list.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		m.helpView.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		return m, nil

	case tea.FocusMsg:
		m.blurred = false
		if m.toastHeld {
			m.toastHeld = false
			return m, tea.Batch(m.setFocused(true), m.expireToast())
		}
		return m, m.setFocused(true)

	case tea.BlurMsg:
		m.blurred = true
		return m, m.setFocused(false)

	case focusChangedMsg:
		return m, nil

	case inboxChangedMsg:
		in := m.notifier.Inbox()
		m.unread = in.UnreadCount()
		cmd := m.list.SetNotifications(in.List())
		return m, tea.Batch(
			cmd,
			tea.SetWindowTitle(inbox.FormatTitle(m.unread, m.appName)),
			m.waitForChange(),
		)

	case toastMsg:
		return m, tea.Batch(m.waitForToast(), m.showText(toastText(msg.notification)))

	case clearToastMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil

	case statusTickMsg:
		m.channels = channelSummary(m.notifier.Statuses())
		if m.notifier.RealtimeGaveUp() && m.warning == "" {
			m.warning = "realtime connection lost; press R to reconnect"
		}
		return m, tickStatus()

	case appsync.PollResultMsg:
		m.applyPollResult(msg)
		if p := m.notifier.Poller(); p != nil {
			return m, p.WaitForNextResult()
		}
		return m, nil

	case refreshDoneMsg:
		m.applyPollResult(msg.result)
		if msg.result.Error == nil && !msg.result.Skipped {
			return m, m.showText(fmt.Sprintf("refreshed, %d new", msg.result.NewCount))
		}
		return m, nil

	case notiflist.MarkReadMsg:
		n, ctx := m.notifier, m.ctx
		return m, func() tea.Msg {
			n.MarkAsRead(ctx, msg.ID)
			return nil
		}

	case notiflist.DeleteMsg:
		n, ctx := m.notifier, m.ctx
		return m, func() tea.Msg {
			n.Delete(ctx, msg.ID)
			return nil
		}

	case notiflist.OpenMsg:
		if msg.Notification.ActionURL == "" {
			return m, m.showText("no link for this notification")
		}
		label := msg.Notification.ActionLabel
		if label == "" {
			label = "open"
		}
		return m, m.showText(label + ": " + msg.Notification.ActionURL)

	case tea.KeyMsg:
		if m.showHelp {
			if key.Matches(msg, m.keys.Help, m.keys.Back) {
				m.showHelp = false
			} else if key.Matches(msg, m.keys.Quit) {
				return m, tea.Quit
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.showHelp = true
			return m, nil

		case key.Matches(msg, m.keys.Back):
			m.toast = ""
			m.toastHeld = false
			return m, nil

		case key.Matches(msg, m.keys.Refresh):
			n, ctx := m.notifier, m.ctx
			return m, func() tea.Msg {
				return refreshDoneMsg{result: n.FetchNow(ctx)}
			}

		case key.Matches(msg, m.keys.MarkAllRead):
			n, ctx := m.notifier, m.ctx
			return m, func() tea.Msg {
				n.MarkAllAsRead(ctx)
				return nil
			}

		case key.Matches(msg, m.keys.Reconnect):
			m.warning = ""
			n := m.notifier
			return m, func() tea.Msg {
				n.ReconnectRealtime()
				return statusTickMsg{}
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// applyPollResult surfaces session expiry and clears it once polling
// succeeds again.
func (m *Model) applyPollResult(res appsync.PollResultMsg) {
	switch {
	case res.SessionExpired:
		m.warning = "session expired; run `sitenotify login`"
	case res.Error == nil && !res.Skipped:
		m.warning = ""
	}
}

func (m *Model) showText(text string) tea.Cmd {
	m.toastSeq++
	m.toast = text
	if m.blurred {
		m.toastHeld = true
		return nil
	}
	return m.expireToast()
}

// expireToast clears the current toast after toastDuration unless a newer
// one replaced it.
func (m Model) expireToast() tea.Cmd {
	seq := m.toastSeq
	return tea.Tick(toastDuration, func(time.Time) tea.Msg { return clearToastMsg{seq: seq} })
}

func (m Model) setFocused(focused bool) tea.Cmd {
	n, ctx := m.notifier, m.ctx
	return func() tea.Msg {
		n.SetFocused(ctx, focused)
		return focusChangedMsg{}
	}
}

func (m Model) waitForChange() tea.Cmd {
	ch := m.changes
	return func() tea.Msg {
		<-ch
		return inboxChangedMsg{}
	}
}

func (m Model) waitForToast() tea.Cmd {
	ch := m.toasts
	return func() tea.Msg {
		return toastMsg{notification: <-ch}
	}
}

func tickStatus() tea.Cmd {
	return tea.Tick(statusInterval, func(time.Time) tea.Msg { return statusTickMsg{} })
}

// View renders the header, the panel or help, and the status bar.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	badge := ""
	if m.unread > 0 {
		badge = fmt.Sprintf("%d new", m.unread)
	}
	header := m.layout.RenderHeader(m.appName, badge, m.channels)

	content := m.list.View()
	if m.showHelp {
		content = m.helpView.View()
	}

	hints := "q quit | ? help | r refresh | enter read | d delete | A all read | u unread only"
	if m.showHelp {
		hints = "? close help | esc back"
	}
	statusBar := m.layout.RenderStatusBar(hints, m.toast, m.warning)

	return m.layout.RenderWithFrame(header, content, statusBar)
}
