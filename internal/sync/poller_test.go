package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/credential"
	"github.com/nhle/sitenotify/internal/model"
)

type fakeFetcher struct {
	mu    gosync.Mutex
	calls []api.ListOptions
	lists [][]model.Notification
	err   error
	gate  chan struct{}

	// entered, when set, receives once per call before the gate.
	entered chan struct{}
}

func (f *fakeFetcher) ListNotifications(_ context.Context, opts api.ListOptions) (*model.ListResponse, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	var ns []model.Notification
	if len(f.lists) > 0 {
		ns = f.lists[0]
		f.lists = f.lists[1:]
	}
	return &model.ListResponse{Success: true, Notifications: ns}, nil
}

// fakeSink counts every id it has not seen before as new.
type fakeSink struct {
	mu         gosync.Mutex
	seen       map[model.ID]bool
	reconciles int
	merges     int
}

func newFakeSink() *fakeSink { return &fakeSink{seen: map[model.ID]bool{}} }

func (s *fakeSink) count(ns []model.Notification) int {
	fresh := 0
	for _, n := range ns {
		if !s.seen[n.ID] {
			s.seen[n.ID] = true
			fresh++
		}
	}
	return fresh
}

func (s *fakeSink) Merge(_ context.Context, _ model.Origin, ns []model.Notification) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges++
	return s.count(ns)
}

func (s *fakeSink) Reconcile(_ context.Context, _ model.Origin, ns []model.Notification) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciles++
	return s.count(ns)
}

type fakeCreds struct {
	token   string
	expired bool
	cleared bool
}

func (c *fakeCreds) Token() (string, error) {
	if c.expired && c.token != "" {
		return "", credential.ErrSessionExpired
	}
	if c.token == "" {
		return "", credential.ErrNoCredential
	}
	return c.token, nil
}

func (c *fakeCreds) Clear() error {
	c.token = ""
	c.cleared = true
	return nil
}

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

// schedule records every delay the poller asks for and lets the test fire
// the latest callback by hand.
type schedule struct {
	delays []time.Duration
	fire   func()
	timers []*fakeTimer
}

func newTestPoller(f *fakeFetcher, s *fakeSink, c *fakeCreds, connected func() bool, policy string) (*Poller, *schedule) {
	p := New(f, s, c, connected, Config{
		BaseInterval:  30 * time.Second,
		MaxMultiplier: 4,
		Policy:        policy,
		PageSize:      100,
	}, nil)
	sched := &schedule{}
	p.afterFunc = func(d time.Duration, fn func()) timer {
		sched.delays = append(sched.delays, d)
		sched.fire = fn
		t := &fakeTimer{}
		sched.timers = append(sched.timers, t)
		return t
	}
	return p, sched
}

func secs(ds []time.Duration) []int {
	out := make([]int, len(ds))
	for i, d := range ds {
		out[i] = int(d / time.Second)
	}
	return out
}

func TestBackoffSequenceOnEmptyResults(t *testing.T) {
	p, sched := newTestPoller(&fakeFetcher{}, newFakeSink(), &fakeCreds{token: "t"}, nil, model.PollPolicySafetyNet)

	p.Start()
	for i := 0; i < 5; i++ {
		sched.fire()
	}

	assert.Equal(t, []int{30, 30, 60, 90, 120, 120}, secs(sched.delays))
	assert.Equal(t, 4, p.Status().BackoffMultiplier)
}

func TestBackoffResetsOnNewNotification(t *testing.T) {
	f := &fakeFetcher{lists: [][]model.Notification{
		nil, nil, nil,
		{{ID: "1"}},
	}}
	p, sched := newTestPoller(f, newFakeSink(), &fakeCreds{token: "t"}, nil, model.PollPolicySafetyNet)

	p.Start()
	for i := 0; i < 4; i++ {
		sched.fire()
	}

	assert.Equal(t, []int{30, 30, 60, 90, 30}, secs(sched.delays))
}

func TestSafetyNetPollsAtCeilingWhileRealtimeConnected(t *testing.T) {
	f := &fakeFetcher{}
	s := newFakeSink()
	p, sched := newTestPoller(f, s, &fakeCreds{token: "t"}, func() bool { return true }, model.PollPolicySafetyNet)

	p.Start()
	sched.fire()

	assert.Equal(t, []int{30, 120}, secs(sched.delays))
	require.Len(t, f.calls, 1)
	assert.Equal(t, api.ListOptions{UnreadOnly: false, Limit: 100}, f.calls[0])
	assert.Equal(t, 1, s.reconciles)
}

func TestFallbackSkipsWhileRealtimeConnected(t *testing.T) {
	f := &fakeFetcher{}
	s := newFakeSink()
	connected := true
	p, sched := newTestPoller(f, s, &fakeCreds{token: "t"}, func() bool { return connected }, model.PollPolicyFallback)

	p.Start()
	sched.fire()
	assert.Empty(t, f.calls)

	connected = false
	sched.fire()
	require.Len(t, f.calls, 1)
	assert.Equal(t, api.ListOptions{UnreadOnly: true, Limit: 20}, f.calls[0])
	assert.Equal(t, 1, s.merges)
	assert.Equal(t, 0, s.reconciles)
}

func TestUnauthorizedClearsCredentialAndSignals(t *testing.T) {
	f := &fakeFetcher{err: &api.AuthError{Path: "/notifications", Message: "expired"}}
	creds := &fakeCreds{token: "t"}
	p, sched := newTestPoller(f, newFakeSink(), creds, nil, model.PollPolicySafetyNet)

	p.Start()
	sched.fire()

	assert.True(t, creds.cleared)
	assert.True(t, p.Running())
	msg := p.WaitForNextResult()()
	res, ok := msg.(PollResultMsg)
	require.True(t, ok)
	assert.True(t, res.SessionExpired)

	// Without a credential the next cycle is skipped entirely.
	sched.fire()
	assert.Len(t, f.calls, 1)
}

func TestExpiredTokenSkipsFetchAndSignals(t *testing.T) {
	f := &fakeFetcher{}
	creds := &fakeCreds{token: "t", expired: true}
	p, sched := newTestPoller(f, newFakeSink(), creds, nil, model.PollPolicySafetyNet)

	p.Start()
	sched.fire()

	assert.Empty(t, f.calls)
	assert.True(t, creds.cleared)
	res, ok := p.WaitForNextResult()().(PollResultMsg)
	require.True(t, ok)
	assert.True(t, res.SessionExpired)
	assert.ErrorIs(t, res.Error, credential.ErrSessionExpired)
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	f := &fakeFetcher{
		gate:  make(chan struct{}),
		lists: [][]model.Notification{{{ID: "1"}}},
	}
	s := newFakeSink()
	p, sched := newTestPoller(f, s, &fakeCreds{token: "t"}, nil, model.PollPolicySafetyNet)

	p.Start()
	fire := sched.fire
	done := make(chan struct{})
	go func() {
		fire()
		close(done)
	}()

	p.Stop()
	assert.True(t, sched.timers[0].stopped)
	close(f.gate)
	<-done

	assert.Equal(t, 0, s.reconciles)
	assert.False(t, p.Running())
	assert.Len(t, sched.delays, 1)
}

func TestFetchNowReschedules(t *testing.T) {
	f := &fakeFetcher{lists: [][]model.Notification{{{ID: "1"}, {ID: "2"}}}}
	p, sched := newTestPoller(f, newFakeSink(), &fakeCreds{token: "t"}, nil, model.PollPolicySafetyNet)

	p.Start()
	res := p.FetchNow(context.Background())

	assert.Equal(t, 2, res.NewCount)
	assert.Len(t, sched.delays, 2)
	assert.True(t, sched.timers[0].stopped)
	assert.False(t, p.Status().LastSuccess.IsZero())
}

func TestFetchNowDuringTickKeepsOneSchedule(t *testing.T) {
	f := &fakeFetcher{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 2),
		lists:   [][]model.Notification{{{ID: "1"}}, {{ID: "2"}}},
	}
	p, sched := newTestPoller(f, newFakeSink(), &fakeCreds{token: "t"}, nil, model.PollPolicySafetyNet)

	p.Start()
	tick := sched.fire
	var wg gosync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tick()
	}()
	<-f.entered
	go func() {
		defer wg.Done()
		p.FetchNow(context.Background())
	}()
	<-f.entered

	close(f.gate)
	wg.Wait()

	live := 0
	for _, tm := range sched.timers {
		if !tm.stopped {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.True(t, p.Running())
}

func TestStaleTimerCallbackDoesNotReschedule(t *testing.T) {
	p, sched := newTestPoller(&fakeFetcher{}, newFakeSink(), &fakeCreds{token: "t"}, nil, model.PollPolicySafetyNet)

	p.Start()
	first := sched.fire
	p.FetchNow(context.Background())
	require.Len(t, sched.timers, 2)

	// The callback of the replaced timer may still run if it fired before
	// Stop took effect.
	first()
	assert.Len(t, sched.timers, 2)
}

func TestUnusableListingKeepsInboxAndBackoff(t *testing.T) {
	for name, body := range map[string]string{
		"reported failure":      `{"success":false,"message":"db busy"}`,
		"missing notifications": `{"success":true,"total":0}`,
		"null notifications":    `{"success":true,"notifications":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			creds := &fakeCreds{token: "t"}
			s := newFakeSink()
			client := api.NewClient(srv.URL, creds, time.Second)
			p, _ := newTestPoller(nil, s, creds, nil, model.PollPolicySafetyNet)
			p.fetcher = client

			p.Start()
			before := p.NextDelay()
			res := p.FetchNow(context.Background())

			require.Error(t, res.Error)
			assert.True(t, api.IsMalformed(res.Error))
			assert.False(t, res.SessionExpired)
			assert.Equal(t, 0, s.reconciles)
			assert.Equal(t, before, p.NextDelay())
			assert.False(t, creds.cleared)
		})
	}
}
