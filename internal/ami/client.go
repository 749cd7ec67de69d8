package ami

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Tracer receives every block sent or received, with secrets already
// masked. Direction is ">>" for sent and "<<" for received.
type Tracer interface {
	Trace(direction, block string)
}

// Options configures a Client. Zero durations take the defaults below.
type Options struct {
	Addr                 string
	Username             string
	Secret               string
	ConnectTimeout       time.Duration
	ActionTimeout        time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	StaleAfter           time.Duration
	RedactFields         []string

	Logger zerolog.Logger
	Tracer Tracer

	// Dial, Sleep and Now are replaceable for tests.
	Dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Client owns one manager-interface session. It is not safe for concurrent
// use; the daemon drives it from a single goroutine. LastActivity and Stale
// may be read from any goroutine.
type Client struct {
	opts   Options
	logger zerolog.Logger

	conn     net.Conn
	rd       *Reader
	loggedIn bool
	pending  []Message
	attempts int
	banner   string
	session  string
	seq      uint64

	lastActivity atomic.Int64
	disc         *discovery
}

// New creates a Client. It does not connect.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 5 * time.Second
	}
	if opts.ReconnectCap <= 0 {
		opts.ReconnectCap = 60 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 10
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 120 * time.Second
	}
	if opts.Dial == nil {
		d := &net.Dialer{}
		opts.Dial = d.DialContext
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.With().Str("component", "ami").Str("addr", opts.Addr).Logger()
	return &Client{
		opts:    opts,
		logger:  logger,
		session: uuid.NewString()[:8],
		disc:    newDiscovery(logger),
	}
}

// Connect dials the PBX and validates the one-line banner.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		c.Disconnect()
	}
	c.logger.Info().Msg("connecting")

	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	conn, err := c.opts.Dial(dctx, "tcp", c.opts.Addr)
	if err != nil {
		return &ConnectionError{Op: "dial", Addr: c.opts.Addr, Err: err}
	}
	c.conn = conn
	c.rd = NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(c.opts.ConnectTimeout))
	banner, err := c.rd.ReadLine()
	if err != nil {
		c.drop()
		return &ConnectionError{Op: "read banner", Addr: c.opts.Addr, Err: err}
	}
	banner = strings.TrimSpace(banner)
	if banner == "" {
		c.drop()
		return &ConnectionError{Op: "read banner", Addr: c.opts.Addr, Err: errors.New("empty banner")}
	}
	c.banner = banner
	c.touch()
	c.logger.Info().Str("banner", banner).Msg("connected")
	return nil
}

// Login authenticates the session. A rejected login is an *AuthError.
func (c *Client) Login(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.logger.Info().Str("username", c.opts.Username).Msg("authenticating")
	resp, err := c.SendAction(ctx, "Login",
		Field{Key: "Username", Value: c.opts.Username},
		Field{Key: "Secret", Value: c.opts.Secret},
	)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		c.logger.Error().Str("username", c.opts.Username).Str("message", resp.Get("Message")).Msg("login rejected")
		return &AuthError{Username: c.opts.Username, Message: resp.Get("Message")}
	}
	c.loggedIn = true
	c.attempts = 0
	c.logger.Info().Msg("authenticated")
	return nil
}

// ConnectAndLogin connects and authenticates, closing the socket if the
// login fails.
func (c *Client) ConnectAndLogin(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.Login(ctx); err != nil {
		c.Disconnect()
		return err
	}
	return nil
}

// SendAction writes one action block and waits up to the action timeout for
// its response. Events that arrive in the meantime are queued for ReadEvent.
func (c *Client) SendAction(ctx context.Context, action string, fields ...Field) (Message, error) {
	if c.conn == nil {
		return Message{}, ErrNotConnected
	}
	c.seq++
	id := fmt.Sprintf("wb-%s-%d", c.session, c.seq)
	block := make([]Field, 0, len(fields)+2)
	block = append(block, Field{Key: "Action", Value: action}, Field{Key: "ActionID", Value: id})
	block = append(block, fields...)

	c.trace(">>", block)
	c.logger.Debug().Str("action", action).Str("action_id", id).Msg("sending action")

	deadline := time.Now().Add(c.opts.ActionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if _, err := c.conn.Write(Encode(block)); err != nil {
		c.drop()
		return Message{}, &ConnectionError{Op: "write " + action, Addr: c.opts.Addr, Err: err}
	}
	c.touch()

	for {
		c.conn.SetReadDeadline(deadline)
		msg, err := c.rd.Next()
		if err != nil {
			var fe *FramingError
			switch {
			case errors.As(err, &fe):
				c.logger.Warn().Err(err).Msg("discarded malformed block")
				continue
			case isTimeout(err):
				return Message{}, fmt.Errorf("ami: %s: %w", action, ErrTimeout)
			}
			c.drop()
			return Message{}, &ConnectionError{Op: "read " + action, Addr: c.opts.Addr, Err: err}
		}
		c.touch()
		c.trace("<<", msg.Fields)
		if msg.IsEvent() {
			c.pending = append(c.pending, msg)
			continue
		}
		if aid := msg.Get("ActionID"); aid != "" && aid != id {
			c.logger.Debug().Str("action_id", aid).Msg("dropping response for another action")
			continue
		}
		c.logger.Debug().Str("action", action).Str("response", msg.Get("Response")).Msg("action response")
		return msg, nil
	}
}

// ReadEvent returns the next event, or nil when none arrives within timeout.
// Events queued during SendAction are returned first, in arrival order.
func (c *Client) ReadEvent(ctx context.Context, timeout time.Duration) (*Message, error) {
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		c.disc.observe(msg)
		return &msg, nil
	}
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return nil, nil
		}
		c.conn.SetReadDeadline(deadline)
		msg, err := c.rd.Next()
		if err != nil {
			var fe *FramingError
			switch {
			case errors.As(err, &fe):
				c.logger.Warn().Err(err).Msg("discarded malformed block")
				continue
			case isTimeout(err):
				return nil, nil
			}
			c.logger.Warn().Err(err).Msg("connection lost during read")
			c.drop()
			return nil, &ConnectionError{Op: "read event", Addr: c.opts.Addr, Err: err}
		}
		c.touch()
		c.trace("<<", msg.Fields)
		if !msg.IsEvent() {
			c.logger.Debug().Str("response", msg.Get("Response")).Msg("ignoring unsolicited response")
			continue
		}
		c.disc.observe(msg)
		return &msg, nil
	}
}

// Disconnect logs off if a session is established, then closes the socket
// unconditionally. It is safe to call when already disconnected.
func (c *Client) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	c.logger.Info().Msg("disconnecting")
	if c.loggedIn {
		logoff := []Field{{Key: "Action", Value: "Logoff"}}
		c.trace(">>", logoff)
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.Write(Encode(logoff))
	}
	err := c.conn.Close()
	c.conn = nil
	c.rd = nil
	c.loggedIn = false
	return err
}

// Reconnect waits out the backoff for the next attempt and reconnects.
// After MaxReconnectAttempts failures it returns ErrReconnectExhausted.
func (c *Client) Reconnect(ctx context.Context) error {
	c.attempts++
	if c.attempts > c.opts.MaxReconnectAttempts {
		c.logger.Error().Int("max_attempts", c.opts.MaxReconnectAttempts).Msg("reconnect attempts exhausted")
		return ErrReconnectExhausted
	}
	delay := Backoff(c.attempts, c.opts.ReconnectBase, c.opts.ReconnectCap)
	c.logger.Warn().
		Int("attempt", c.attempts).
		Int("max_attempts", c.opts.MaxReconnectAttempts).
		Dur("delay", delay).
		Msg("reconnecting")
	if err := c.opts.Sleep(ctx, delay); err != nil {
		return err
	}
	return c.ConnectAndLogin(ctx)
}

// ResetReconnects clears the attempt counter.
func (c *Client) ResetReconnects() { c.attempts = 0 }

// Attempts returns the number of reconnect attempts since the last reset.
func (c *Client) Attempts() int { return c.attempts }

// IsConnected reports whether an authenticated session is open.
func (c *Client) IsConnected() bool { return c.conn != nil && c.loggedIn }

// Pending reports how many events are queued for ReadEvent.
func (c *Client) Pending() int { return len(c.pending) }

// Banner returns the banner of the current or last connection.
func (c *Client) Banner() string { return c.banner }

// LastActivity returns when data was last sent or received.
func (c *Client) LastActivity() time.Time {
	n := c.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Stale reports whether the session has been silent longer than StaleAfter.
func (c *Client) Stale() bool {
	last := c.LastActivity()
	return !last.IsZero() && c.opts.Now().Sub(last) > c.opts.StaleAfter
}

// Discovered returns how many events of each type have been seen.
func (c *Client) Discovered() map[string]int { return c.disc.counts() }

func (c *Client) touch() { c.lastActivity.Store(c.opts.Now().UnixNano()) }

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.rd = nil
	c.loggedIn = false
}

func (c *Client) trace(direction string, fields []Field) {
	if c.opts.Tracer == nil {
		return
	}
	c.opts.Tracer.Trace(direction, string(Encode(Redact(fields, c.opts.RedactFields))))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
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
