// Package sync runs the poll channel: a self-rescheduling HTTP fetch that
// backs off while nothing new arrives and acts as a safety net behind the
// realtime channel.
package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/credential"
	"github.com/nhle/sitenotify/internal/model"
)

// fetchTimeout is the maximum time allowed for a single fetch operation.
const fetchTimeout = 30 * time.Second

// fallbackPageSize is the unread page size used by the fallback policy.
const fallbackPageSize = 20

// Fetcher lists notifications from the server.
type Fetcher interface {
	ListNotifications(ctx context.Context, opts api.ListOptions) (*model.ListResponse, error)
}

// Sink receives fetched listings. *hub.Hub implements it.
type Sink interface {
	Merge(ctx context.Context, origin model.Origin, ns []model.Notification) int
	Reconcile(ctx context.Context, origin model.Origin, ns []model.Notification) int
}

// Credentials is the token holder the poller checks and clears.
type Credentials interface {
	Token() (string, error)
	Clear() error
}

// Config tunes the poll schedule.
type Config struct {
	BaseInterval  time.Duration
	MaxMultiplier int
	Policy        string
	PageSize      int
}

// ConfigFrom converts the application poll settings.
func ConfigFrom(c model.PollConfig) Config {
	return Config{
		BaseInterval:  time.Duration(c.BaseIntervalSec) * time.Second,
		MaxMultiplier: c.MaxMultiplier,
		Policy:        c.Policy,
		PageSize:      c.PageSize,
	}
}

// PollResultMsg is a tea.Msg sent after every poll cycle.
type PollResultMsg struct {
	NewCount int
	Skipped  bool
	Error    error
	// SessionExpired is set when the server rejected the credential.
	SessionExpired bool
}

// timer is the part of *time.Timer the poller uses.
type timer interface {
	Stop() bool
}

// Poller is the poll channel.
type Poller struct {
	fetcher   Fetcher
	sink      Sink
	creds     Credentials
	connected func() bool
	cfg       Config
	logger    *slog.Logger
	afterFunc func(time.Duration, func()) timer
	resultCh  chan PollResultMsg

	mu          gosync.Mutex
	running     bool
	generation  uint64
	// scheduled identifies the armed timer; only its callback reschedules.
	scheduled   uint64
	timer       timer
	emptyStreak int
	lastSuccess time.Time
	lastErr     error
}

// New creates a stopped poller. connected reports whether the realtime
// channel is up and may be nil.
func New(fetcher Fetcher, sink Sink, creds Credentials, connected func() bool, cfg Config, logger *slog.Logger) *Poller {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 30 * time.Second
	}
	if cfg.MaxMultiplier < 1 {
		cfg.MaxMultiplier = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Policy == "" {
		cfg.Policy = model.PollPolicySafetyNet
	}
	if connected == nil {
		connected = func() bool { return false }
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		fetcher:   fetcher,
		sink:      sink,
		creds:     creds,
		connected: connected,
		cfg:       cfg,
		logger:    logger,
		afterFunc: func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
		resultCh:  make(chan PollResultMsg, 16),
	}
}

// Start begins polling. The first fetch happens after one base interval.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.generation++
	p.emptyStreak = 0
	p.scheduleLocked()
}

// Stop cancels the pending timer. A fetch already in flight completes but
// its result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Running reports whether the poller is scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// FetchNow runs one cycle immediately and restarts the schedule.
func (p *Poller) FetchNow(ctx context.Context) PollResultMsg {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()

	res := p.cycle(ctx, gen, true)

	p.mu.Lock()
	if p.running {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.scheduleLocked()
	}
	p.mu.Unlock()
	return res
}

// Status returns a snapshot of the channel state.
func (p *Poller) Status() model.ChannelState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return model.ChannelState{
		Name:              "poll",
		Connected:         p.running,
		BackoffMultiplier: p.multiplierLocked(),
		LastSuccess:       p.lastSuccess,
		LastError:         p.lastErr,
	}
}

// NextDelay returns the delay before the next scheduled fetch.
func (p *Poller) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delayLocked()
}

// multiplierLocked maps the empty-result streak onto the delay multiplier:
// streak 0 and 1 both give 1, then it grows by one per empty result up to
// the cap, giving 30, 30, 60, 90, 120, 120 for a 30s base.
func (p *Poller) multiplierLocked() int {
	m := max(p.emptyStreak, 1)
	return min(m, p.cfg.MaxMultiplier)
}

func (p *Poller) delayLocked() time.Duration {
	return p.cfg.BaseInterval * time.Duration(p.multiplierLocked())
}

func (p *Poller) scheduleLocked() {
	p.scheduled++
	gen, seq := p.generation, p.scheduled
	p.timer = p.afterFunc(p.delayLocked(), func() { p.tick(gen, seq) })
}

// currentLocked reports whether the timer armed as seq in generation gen is still
// the one the poller owns.
func (p *Poller) currentLocked(gen, seq uint64) bool {
	return p.running && gen == p.generation && seq == p.scheduled
}

// tick is the timer callback for schedule seq of generation gen. A FetchNow
// that rearms the timer while this tick is in flight takes over the
// schedule, and the tick then ends without rescheduling.
func (p *Poller) tick(gen, seq uint64) {
	p.mu.Lock()
	if !p.currentLocked(gen, seq) {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	p.cycle(ctx, gen, false)

	p.mu.Lock()
	if p.currentLocked(gen, seq) {
		p.scheduleLocked()
	}
	p.mu.Unlock()
}

// cycle performs one fetch. Unless manual, the result is dropped when the
// generation moved on while the fetch was in flight.
func (p *Poller) cycle(ctx context.Context, gen uint64, manual bool) PollResultMsg {
	if _, err := p.creds.Token(); err != nil {
		if errors.Is(err, credential.ErrNoCredential) {
			return PollResultMsg{Skipped: true}
		}
		return p.fail(err)
	}

	realtimeUp := p.connected()
	fallback := p.cfg.Policy == model.PollPolicyFallback
	if realtimeUp && fallback && !manual {
		p.mu.Lock()
		p.emptyStreak = 0
		p.mu.Unlock()
		return PollResultMsg{Skipped: true}
	}

	opts := api.ListOptions{Limit: p.cfg.PageSize}
	if fallback {
		opts = api.ListOptions{UnreadOnly: true, Limit: fallbackPageSize}
	}

	resp, err := p.fetcher.ListNotifications(ctx, opts)

	p.mu.Lock()
	stale := !manual && (!p.running || gen != p.generation)
	p.mu.Unlock()
	if stale {
		p.logger.Debug("discarding poll result after stop")
		return PollResultMsg{Skipped: true}
	}
	if err != nil {
		return p.fail(err)
	}

	var fresh int
	if fallback {
		fresh = p.sink.Merge(ctx, model.OriginPoll, resp.Notifications)
	} else {
		fresh = p.sink.Reconcile(ctx, model.OriginPoll, resp.Notifications)
	}

	p.mu.Lock()
	p.lastSuccess = time.Now()
	p.lastErr = nil
	switch {
	case fresh > 0:
		p.emptyStreak = 0
	case realtimeUp:
		// The socket is delivering; stay at the ceiling as a safety net.
		p.emptyStreak = p.cfg.MaxMultiplier
	default:
		p.emptyStreak = min(p.emptyStreak+1, p.cfg.MaxMultiplier)
	}
	p.mu.Unlock()

	res := PollResultMsg{NewCount: fresh}
	p.sendResult(res)
	return res
}

func (p *Poller) fail(err error) PollResultMsg {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()

	res := PollResultMsg{Error: err}

	if api.IsAuthError(err) || errors.Is(err, credential.ErrSessionExpired) {
		if clearErr := p.creds.Clear(); clearErr != nil {
			p.logger.Warn("clearing rejected credential", "error", clearErr)
		}
		p.logger.Warn("session expired during poll", "error", err)
		res.SessionExpired = true
	} else if api.IsTransient(err) {
		p.logger.Info("poll failed, will retry", "error", err)
	} else {
		p.logger.Error("poll failed", "error", err)
	}

	p.sendResult(res)
	return res
}

// sendResult sends a PollResultMsg on the result channel without blocking.
func (p *Poller) sendResult(msg PollResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next poll result.
// Call it again after handling each PollResultMsg to keep listening.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-p.resultCh
		if !ok {
			return nil
		}
		return result
	}
}
