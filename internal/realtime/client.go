// Package realtime maintains the websocket connection that is the primary
// delivery path for notifications.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/model"
	"github.com/nhle/sitenotify/internal/roles"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 10
	catchUpLimit       = 50
	jitterFraction     = 0.2
	dialTimeout        = 15 * time.Second
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	PermanentlyDisconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case PermanentlyDisconnected:
		return "permanently disconnected"
	default:
		return "disconnected"
	}
}

// Identity is who the connection joins rooms for.
type Identity struct {
	UserID string
	Role   string
}

// TokenSource supplies the bearer credential.
type TokenSource interface {
	Token() (string, error)
}

// Fetcher runs the catch-up listing after each connect.
type Fetcher interface {
	ListNotifications(ctx context.Context, opts api.ListOptions) (*model.ListResponse, error)
}

// Sink receives accepted notifications. *hub.Hub implements it.
type Sink interface {
	Ingest(ctx context.Context, origin model.Origin, n model.Notification) bool
	Merge(ctx context.Context, origin model.Origin, ns []model.Notification) int
}

// Options configures a Client.
type Options struct {
	URL         string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Tokens      TokenSource
	Identity    func() Identity
	Fetcher     Fetcher
	Sink        Sink
	Matcher     *roles.Matcher
	Logger      *slog.Logger
}

// Client is the realtime channel.
type Client struct {
	opts Options
	wait func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	state       State
	attempts    int
	cancel      context.CancelFunc
	done        chan struct{}
	parent      context.Context
	lastSuccess time.Time
	lastErr     error
}

// New creates a disconnected client.
func New(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.Matcher == nil {
		opts.Matcher = roles.NewMatcher(nil)
	}
	if opts.Identity == nil {
		opts.Identity = func() Identity { return Identity{} }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{opts: opts, wait: sleepContext}
}

// Connect starts the connection loop. It is a no-op while a loop runs.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}
	c.parent = ctx
	c.attempts = 0
	c.state = Connecting
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, c.done)
}

// Disconnect stops the loop and waits for it to exit.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
}

// Reconnect starts a fresh loop with a reset attempt counter, e.g. after a
// credential change.
func (c *Client) Reconnect() {
	c.Disconnect()

	c.mu.Lock()
	parent := c.parent
	c.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		parent = context.Background()
	}
	c.Connect(parent)
}

// Connected reports whether the socket is currently up.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// State returns the lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the channel state.
func (c *Client) Status() model.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.ChannelState{
		Name:              "realtime",
		Connected:         c.state == Connected,
		BackoffMultiplier: c.attempts,
		LastSuccess:       c.lastSuccess,
		LastError:         c.lastErr,
	}
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.lastErr = err
		if attempt >= c.opts.MaxAttempts {
			c.state = PermanentlyDisconnected
			cancel := c.cancel
			c.cancel = nil
			c.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			c.opts.Logger.Error("realtime channel gave up", "attempts", attempt, "error", err)
			return
		}
		c.state = Connecting
		c.mu.Unlock()

		delay := backoffDelay(attempt, c.opts.BaseDelay, c.opts.MaxDelay)
		c.opts.Logger.Info("realtime disconnected, retrying", "attempt", attempt, "delay", delay, "error", err)
		if c.wait(ctx, delay) != nil {
			return
		}
	}
}

// session runs one connection until it fails.
func (c *Client) session(ctx context.Context) error {
	token, err := c.opts.Tokens.Token()
	if err != nil {
		return fmt.Errorf("realtime credential: %w", err)
	}
	target, err := withToken(c.opts.URL, token)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	cancel()
	if err != nil {
		return fmt.Errorf("dialing realtime socket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.mu.Lock()
	c.attempts = 0
	c.state = Connected
	c.lastSuccess = time.Now()
	c.lastErr = nil
	c.mu.Unlock()
	c.opts.Logger.Info("realtime connected")

	me := c.opts.Identity()
	if err := c.join(ctx, conn, me); err != nil {
		return err
	}
	c.catchUp(ctx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("reading realtime frame: %w", err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.opts.Logger.Warn("undecodable realtime frame", "error", err)
			continue
		}
		c.handle(ctx, env, me)
	}
}

func (c *Client) join(ctx context.Context, conn *websocket.Conn, me Identity) error {
	var rooms []string
	if me.UserID != "" {
		rooms = append(rooms, "user:"+me.UserID)
	}
	if role := roles.Normalize(me.Role); role != "" {
		rooms = append(rooms, "role:"+role)
	}
	for _, room := range rooms {
		data, _ := json.Marshal(map[string]string{"room": room})
		if err := wsjson.Write(ctx, conn, Envelope{Event: EventJoin, Data: data}); err != nil {
			return fmt.Errorf("joining %s: %w", room, err)
		}
	}
	return nil
}

// catchUp closes the gap that accumulated while disconnected.
func (c *Client) catchUp(ctx context.Context) {
	if c.opts.Fetcher == nil {
		return
	}
	resp, err := c.opts.Fetcher.ListNotifications(ctx, api.ListOptions{UnreadOnly: true, Limit: catchUpLimit})
	if err != nil {
		c.opts.Logger.Warn("realtime catch-up failed", "error", err)
		return
	}
	if n := c.opts.Sink.Merge(ctx, model.OriginRealtime, resp.Notifications); n > 0 {
		c.opts.Logger.Info("realtime catch-up", "new", n)
	}
}

func (c *Client) handle(ctx context.Context, env Envelope, me Identity) {
	n, ok, err := Translate(env)
	if err != nil {
		c.opts.Logger.Warn("malformed realtime frame", "event", env.Event, "error", err)
		return
	}
	if !ok {
		return
	}
	if !c.targets(n, me) {
		return
	}
	if n.ID == "" {
		// Pull the server's copy so every channel sees the same id.
		c.catchUp(ctx)
		return
	}
	c.opts.Sink.Ingest(ctx, model.OriginRealtime, n)
}

// targets reports whether n is addressed to me. Untargeted events were
// already scoped by the room the server sent them to.
func (c *Client) targets(n model.Notification, me Identity) bool {
	if n.TargetUserID == "" && n.TargetRole == "" {
		return true
	}
	if n.TargetUserID != "" && string(n.TargetUserID) == me.UserID {
		return true
	}
	return n.TargetRole != "" && c.opts.Matcher.Match(n.TargetRole, me.Role)
}

func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing socket url: %w", err)
	}
	if u.Host == "" {
		return "", errors.New("socket url has no host")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// backoffDelay is base doubled per attempt, capped at max, with ±20%
// jitter.
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	d = min(d, maxDelay)
	jitter := 1 + jitterFraction*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
