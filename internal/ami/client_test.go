package ami

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// pbx is the server side of a net.Pipe speaking the manager protocol.
type pbx struct {
	conn net.Conn
	rd   *Reader
}

func (p *pbx) send(lines ...string) {
	p.conn.Write([]byte(strings.Join(lines, "\r\n") + "\r\n\r\n"))
}

func (p *pbx) recv() (Message, error) { return p.rd.Next() }

// acceptLogin answers the login block with success and returns it.
func (p *pbx) acceptLogin() Message {
	msg, err := p.recv()
	if err != nil {
		return Message{}
	}
	p.send("Response: Success", "ActionID: "+msg.Get("ActionID"), "Message: Authentication accepted")
	return msg
}

// drain reads until the client goes away.
func (p *pbx) drain() {
	for {
		if _, err := p.recv(); err != nil {
			return
		}
	}
}

func pipeDial(t *testing.T, serve func(p *pbx)) func(context.Context, string, string) (net.Conn, error) {
	t.Helper()
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		t.Cleanup(func() { server.Close() })
		go func() {
			server.Write([]byte("Asterisk Call Manager/5.0.1\r\n"))
			serve(&pbx{conn: server, rd: NewReader(server)})
		}()
		return client, nil
	}
}

func newTestClient(t *testing.T, serve func(p *pbx), mutate ...func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Addr:          "pbx.test:5038",
		Username:      "wallboard",
		Secret:        "s3cret",
		ActionTimeout: 2 * time.Second,
		Logger:        zerolog.Nop(),
		Dial:          pipeDial(t, serve),
	}
	for _, m := range mutate {
		m(&opts)
	}
	c := New(opts)
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestClient_ConnectAndLogin(t *testing.T) {
	got := make(chan Message, 1)
	c := newTestClient(t, func(p *pbx) {
		got <- p.acceptLogin()
		p.drain()
	})

	if err := c.ConnectAndLogin(context.Background()); err != nil {
		t.Fatalf("ConnectAndLogin: %v", err)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after login")
	}
	if c.Banner() != "Asterisk Call Manager/5.0.1" {
		t.Errorf("Banner() = %q", c.Banner())
	}

	login := <-got
	if login.Get("Action") != "Login" {
		t.Errorf("Action = %q, want Login", login.Get("Action"))
	}
	if login.Get("Username") != "wallboard" {
		t.Errorf("Username = %q, want wallboard", login.Get("Username"))
	}
	if login.Get("Secret") != "s3cret" {
		t.Errorf("wire Secret = %q, want the real secret", login.Get("Secret"))
	}
	if login.Get("ActionID") == "" {
		t.Error("login carried no ActionID")
	}
}

func TestClient_LoginRejected(t *testing.T) {
	c := newTestClient(t, func(p *pbx) {
		msg, err := p.recv()
		if err != nil {
			return
		}
		p.send("Response: Error", "ActionID: "+msg.Get("ActionID"), "Message: Authentication failed")
		p.drain()
	})

	err := c.ConnectAndLogin(context.Background())
	var auth *AuthError
	if !errors.As(err, &auth) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if auth.Message != "Authentication failed" {
		t.Errorf("AuthError.Message = %q", auth.Message)
	}
	if IsRetryable(err) {
		t.Error("auth failure should not be retryable")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after rejected login")
	}
}

func TestClient_EventsDuringActionAreQueued(t *testing.T) {
	c := newTestClient(t, func(p *pbx) {
		p.acceptLogin()
		ping, err := p.recv()
		if err != nil {
			return
		}
		p.send("Event: QueueCallerJoin", "Queue: 1293", "Uniqueid: 1700000000.7")
		p.send("Response: Success", "ActionID: "+ping.Get("ActionID"), "Ping: Pong")
		p.drain()
	})
	ctx := context.Background()
	if err := c.ConnectAndLogin(ctx); err != nil {
		t.Fatalf("ConnectAndLogin: %v", err)
	}

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	ev, err := c.ReadEvent(ctx, time.Second)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if ev == nil || ev.Get("Event") != "QueueCallerJoin" {
		t.Fatalf("ReadEvent = %+v, want QueueCallerJoin", ev)
	}
	if c.Discovered()["QueueCallerJoin"] != 1 {
		t.Errorf("Discovered() = %v", c.Discovered())
	}
}

func TestClient_ResponseForOtherActionIsSkipped(t *testing.T) {
	c := newTestClient(t, func(p *pbx) {
		p.acceptLogin()
		req, err := p.recv()
		if err != nil {
			return
		}
		p.send("Response: Success", "ActionID: stale-1", "Message: old")
		p.send("Response: Success", "ActionID: "+req.Get("ActionID"), "Message: Queue status will follow")
		p.drain()
	})
	ctx := context.Background()
	if err := c.ConnectAndLogin(ctx); err != nil {
		t.Fatalf("ConnectAndLogin: %v", err)
	}
	resp, err := c.SendAction(ctx, "QueueStatus")
	if err != nil {
		t.Fatalf("SendAction: %v", err)
	}
	if resp.Get("Message") != "Queue status will follow" {
		t.Errorf("got response %q, want the matching one", resp.Get("Message"))
	}
}

func TestClient_ReadEventTimeoutReturnsNil(t *testing.T) {
	c := newTestClient(t, func(p *pbx) {
		p.acceptLogin()
		p.drain()
	})
	ctx := context.Background()
	if err := c.ConnectAndLogin(ctx); err != nil {
		t.Fatalf("ConnectAndLogin: %v", err)
	}

	ev, err := c.ReadEvent(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if ev != nil {
		t.Errorf("ReadEvent = %+v, want nil on timeout", ev)
	}
	if !c.IsConnected() {
		t.Error("timeout should not drop the connection")
	}
}

func TestClient_ReadEventConnectionLost(t *testing.T) {
	c := newTestClient(t, func(p *pbx) {
		p.acceptLogin()
		p.conn.Close()
	})
	ctx := context.Background()
	if err := c.ConnectAndLogin(ctx); err != nil {
		t.Fatalf("ConnectAndLogin: %v", err)
	}

	_, err := c.ReadEvent(ctx, time.Second)
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after connection loss")
	}
	if !IsRetryable(err) {
		t.Error("connection loss should be retryable")
	}
}

func TestClient_SendActionNotConnected(t *testing.T) {
	c := New(Options{Logger: zerolog.Nop()})
	if _, err := c.SendAction(context.Background(), "Ping"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendAction error = %v, want ErrNotConnected", err)
	}
}

func TestClient_ReconnectExhausted(t *testing.T) {
	var delays []time.Duration
	c := New(Options{
		Addr:                 "pbx.test:5038",
		MaxReconnectAttempts: 3,
		Logger:               zerolog.Nop(),
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		var ce *ConnectionError
		if err := c.Reconnect(ctx); !errors.As(err, &ce) {
			t.Fatalf("attempt %d: expected *ConnectionError, got %v", i+1, err)
		}
	}
	if err := c.Reconnect(ctx); !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}

	c.ResetReconnects()
	if c.Attempts() != 0 {
		t.Errorf("Attempts() = %d after reset", c.Attempts())
	}
}

type recordingTracer struct {
	mu     sync.Mutex
	blocks []string
}

func (r *recordingTracer) Trace(direction, block string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, direction+" "+block)
}

func TestClient_TraceRedactsSecret(t *testing.T) {
	tracer := &recordingTracer{}
	c := newTestClient(t, func(p *pbx) {
		p.acceptLogin()
		p.drain()
	}, func(o *Options) { o.Tracer = tracer })

	if err := c.ConnectAndLogin(context.Background()); err != nil {
		t.Fatalf("ConnectAndLogin: %v", err)
	}

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	var sawLogin bool
	for _, b := range tracer.blocks {
		if strings.Contains(b, "s3cret") {
			t.Errorf("trace leaked secret: %q", b)
		}
		if strings.HasPrefix(b, ">> Action: Login") {
			sawLogin = true
			if !strings.Contains(b, "Secret: ***") {
				t.Errorf("login trace not masked: %q", b)
			}
		}
	}
	if !sawLogin {
		t.Errorf("no login trace recorded: %v", tracer.blocks)
	}
}

func TestClient_Stale(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(p *pbx) {
		p.acceptLogin()
		p.drain()
	}, func(o *Options) {
		o.StaleAfter = 120 * time.Second
		o.Now = func() time.Time { return now }
	})

	if c.Stale() {
		t.Error("Stale() = true before any activity")
	}
	if err := c.ConnectAndLogin(context.Background()); err != nil {
		t.Fatalf("ConnectAndLogin: %v", err)
	}
	if c.Stale() {
		t.Error("Stale() = true right after login")
	}
	now = now.Add(121 * time.Second)
	if !c.Stale() {
		t.Error("Stale() = false after 121s of silence")
	}
}

func TestBackoff(t *testing.T) {
	base, cap := 5*time.Second, 60*time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second},
		{6, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, base, cap); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
