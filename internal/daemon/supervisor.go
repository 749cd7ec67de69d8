// Package daemon runs the wallboard's single event-processing timeline: it
// keeps a manager session alive, feeds its events to the reconciler and
// fires the periodic tasks between reads.
package daemon

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/alert"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/ami"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/metrics"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/normalize"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/stats"
)

// Supervisor states.
const (
	StateStopped      = "stopped"
	StateConnecting   = "connecting"
	StateStreaming    = "streaming"
	StateDisconnected = "disconnected"
)

var allStates = []string{StateStopped, StateConnecting, StateStreaming, StateDisconnected}

// Conn is the manager session the supervisor drives. *ami.Client satisfies it.
type Conn interface {
	ConnectAndLogin(ctx context.Context) error
	ReadEvent(ctx context.Context, timeout time.Duration) (*ami.Message, error)
	Reconnect(ctx context.Context) error
	ResetReconnects()
	Disconnect() error
	Ping(ctx context.Context) error
	QueueStatus(ctx context.Context, queue string) error
	QueueSummary(ctx context.Context, queue string) error
	LastActivity() time.Time
	Stale() bool
	Discovered() map[string]int
}

// Handler applies events to persisted state. *reconcile.Reconciler satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev normalize.Event) error
	ExpireWrapup(ctx context.Context) (int, error)
	Counts() map[string]int
}

// AlertChecker is the alert engine.
type AlertChecker interface {
	Due(now time.Time) bool
	Check(ctx context.Context) (alert.Report, error)
}

// Refresher reloads the configuration snapshot.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StatsRunner rolls up and resets daily statistics.
type StatsRunner interface {
	Run(ctx context.Context) (int, error)
	ResetDaily(ctx context.Context) error
}

// Options configures a Supervisor. Alerts, Snapshot and Stats are optional.
type Options struct {
	Conn     Conn
	Handler  Handler
	Alerts   AlertChecker
	Snapshot Refresher
	Stats    StatsRunner

	PIDFile            string
	EventTimeout       time.Duration
	RetryDelay         time.Duration
	ReconnectDelay     time.Duration
	PingInterval       time.Duration
	StatusPollInterval time.Duration
	RefreshInterval    time.Duration
	StatsCron          string
	ResetCron          string

	Logger zerolog.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration)
}

// interval is a fixed-period timer polled from the loop.
type interval struct {
	every time.Duration
	last  time.Time
}

func (t *interval) due(now time.Time) bool {
	if t.every <= 0 {
		return false
	}
	if !t.last.IsZero() && now.Sub(t.last) < t.every {
		return false
	}
	t.last = now
	return true
}

// Supervisor owns the daemon main loop.
type Supervisor struct {
	opts   Options
	logger zerolog.Logger

	state  atomic.Value
	reload atomic.Bool

	ping, poll, refresh interval
	statsSched          *stats.Schedule
	resetSched          *stats.Schedule
	events              int
}

// New creates a Supervisor in the stopped state.
func New(opts Options) (*Supervisor, error) {
	if opts.Conn == nil {
		return nil, errors.New("daemon: conn is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("daemon: handler is required")
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.StatusPollInterval <= 0 {
		opts.StatusPollInterval = 60 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithContext
	}

	s := &Supervisor{
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "daemon").Logger(),
		ping:    interval{every: opts.PingInterval},
		poll:    interval{every: opts.StatusPollInterval},
		refresh: interval{every: opts.RefreshInterval},
	}
	if opts.Stats != nil {
		now := opts.Now()
		var err error
		if opts.StatsCron != "" {
			if s.statsSched, err = stats.NewSchedule(opts.StatsCron, now); err != nil {
				return nil, err
			}
		}
		if opts.ResetCron != "" {
			if s.resetSched, err = stats.NewSchedule(opts.ResetCron, now); err != nil {
				return nil, err
			}
		}
	}
	s.setState(StateStopped)
	return s, nil
}

// State returns the current supervisor state.
func (s *Supervisor) State() string {
	st, _ := s.state.Load().(string)
	return st
}

// LastActivity returns when the session last saw traffic.
func (s *Supervisor) LastActivity() time.Time { return s.opts.Conn.LastActivity() }

// Reload requests a snapshot refresh on the next loop iteration.
func (s *Supervisor) Reload() { s.reload.Store(true) }

func (s *Supervisor) setState(st string) {
	if s.State() == st {
		return
	}
	s.state.Store(st)
	metrics.SetState(st, allStates)
	s.logger.Debug().Str("state", st).Msg("state change")
}

// Run drives the daemon until ctx is cancelled. It writes the pid file on
// entry and removes it only after the loop has exited.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.opts.PIDFile != "" {
		if err := WritePID(s.opts.PIDFile, os.Getpid()); err != nil {
			return err
		}
	}
	s.logger.Info().Int("pid", os.Getpid()).Msg("daemon starting")
	defer func() {
		s.setState(StateStopped)
		s.logCounts()
		if s.opts.PIDFile != "" {
			if err := RemovePID(s.opts.PIDFile); err != nil {
				s.logger.Warn().Err(err).Msg("remove pid file")
			}
		}
		s.logger.Info().Msg("daemon stopped")
	}()

	if s.opts.Snapshot != nil {
		if err := s.opts.Snapshot.Refresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("initial configuration load failed")
		}
		s.refresh.last = s.opts.Now()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.setState(StateConnecting)
		if err := s.opts.Conn.ConnectAndLogin(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logConnectFailure(err)
			s.setState(StateDisconnected)
			s.opts.Sleep(ctx, s.opts.RetryDelay)
			continue
		}
		s.stream(ctx)
	}
}

func (s *Supervisor) logConnectFailure(err error) {
	if !ami.IsRetryable(err) {
		s.logger.Error().Err(err).Dur("retry_in", s.opts.RetryDelay).
			Msg("manager login rejected, check the configured credentials")
		return
	}
	s.logger.Warn().Err(err).Dur("retry_in", s.opts.RetryDelay).Msg("connect failed")
}

// stream runs the inner loop for one established session. It returns when
// ctx is cancelled or the session is lost beyond the client's reconnect
// budget.
func (s *Supervisor) stream(ctx context.Context) {
	s.setState(StateStreaming)
	s.prime(ctx)

	for {
		if ctx.Err() != nil {
			s.opts.Conn.Disconnect()
			return
		}

		msg, err := s.opts.Conn.ReadEvent(ctx, s.opts.EventTimeout)
		if err != nil {
			s.logger.Warn().Err(err).Msg("session lost")
			s.setState(StateDisconnected)
			if !s.reconnect(ctx) {
				return
			}
			s.setState(StateStreaming)
			s.prime(ctx)
			continue
		}
		if msg != nil {
			s.dispatch(ctx, *msg)
		}
		s.tick(ctx)
	}
}

// reconnect uses the client's backoff. When the budget is spent it waits
// ReconnectDelay and hands control back to the outer loop.
func (s *Supervisor) reconnect(ctx context.Context) bool {
	s.setState(StateConnecting)
	for {
		err := s.opts.Conn.Reconnect(ctx)
		if err == nil {
			metrics.Reconnects.WithLabelValues("success").Inc()
			s.logger.Info().Msg("session re-established")
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		metrics.Reconnects.WithLabelValues("failure").Inc()

		switch {
		case errors.Is(err, ami.ErrReconnectExhausted):
			s.opts.Conn.ResetReconnects()
			s.setState(StateDisconnected)
			s.opts.Sleep(ctx, s.opts.ReconnectDelay)
			return false
		case !ami.IsRetryable(err):
			s.logConnectFailure(err)
			s.opts.Conn.ResetReconnects()
			s.setState(StateDisconnected)
			s.opts.Sleep(ctx, s.opts.RetryDelay)
			return false
		}
		s.logger.Warn().Err(err).Msg("reconnect attempt failed")
	}
}

// prime requests a full queue picture after login.
func (s *Supervisor) prime(ctx context.Context) {
	if err := s.opts.Conn.QueueStatus(ctx, ""); err != nil {
		s.taskFailed("queue_status", err)
	}
	if err := s.opts.Conn.QueueSummary(ctx, ""); err != nil {
		s.taskFailed("queue_summary", err)
	}
	now := s.opts.Now()
	s.ping.last = now
	s.poll.last = now
}

func (s *Supervisor) dispatch(ctx context.Context, msg ami.Message) {
	now := s.opts.Now()
	ev := normalize.FromMessage(msg, now)
	metrics.LastEventTimestamp.Set(float64(now.Unix()))
	s.events++
	// Handle logs its own failures; one bad event never ends the loop.
	s.opts.Handler.Handle(ctx, ev)
}

// tick runs whichever periodic tasks are due. Each one is independent: a
// failure is logged and the loop moves on.
func (s *Supervisor) tick(ctx context.Context) {
	now := s.opts.Now()

	if s.opts.Conn.Stale() {
		s.logger.Warn().Time("last_activity", s.opts.Conn.LastActivity()).Msg("session silent, forcing reconnect")
		s.opts.Conn.Disconnect()
		return
	}

	if s.ping.due(now) {
		if err := s.opts.Conn.Ping(ctx); err != nil {
			s.taskFailed("ping", err)
		}
	}

	if s.poll.due(now) {
		if err := s.opts.Conn.QueueSummary(ctx, ""); err != nil {
			s.taskFailed("status_poll", err)
		}
		if n, err := s.opts.Handler.ExpireWrapup(ctx); err != nil {
			s.taskFailed("wrapup_expiry", err)
		} else if n > 0 {
			s.logger.Debug().Int("agents", n).Msg("wrapup expired")
		}
	}

	if s.opts.Alerts != nil && s.opts.Alerts.Due(now) {
		rep, err := s.opts.Alerts.Check(ctx)
		if err != nil {
			s.taskFailed("alerts", err)
		}
		if rep.Triggered > 0 || rep.Resolved > 0 {
			s.logger.Info().
				Int("triggered", rep.Triggered).
				Int("resolved", rep.Resolved).
				Int("evaluated", rep.Evaluated).
				Msg("alert check")
		}
	}

	if s.opts.Snapshot != nil && (s.reload.Swap(false) || s.refresh.due(now)) {
		s.refresh.last = now
		if err := s.opts.Snapshot.Refresh(ctx); err != nil {
			s.taskFailed("snapshot_refresh", err)
		}
	}

	if s.statsSched != nil && s.statsSched.Due(now) {
		if n, err := s.opts.Stats.Run(ctx); err != nil {
			s.taskFailed("stats_rollup", err)
		} else {
			s.logger.Debug().Int("queues", n).Time("next", s.statsSched.Next()).Msg("daily stats rolled up")
		}
	}
	if s.resetSched != nil && s.resetSched.Due(now) {
		if err := s.opts.Stats.ResetDaily(ctx); err != nil {
			s.taskFailed("daily_reset", err)
		} else {
			s.logger.Info().Msg("daily counters reset")
		}
	}
}

func (s *Supervisor) taskFailed(task string, err error) {
	metrics.TaskErrors.WithLabelValues(task).Inc()
	s.logger.Warn().Err(err).Str("task", task).Msg("periodic task failed")
}

// logCounts reports how many events of each type were handled.
func (s *Supervisor) logCounts() {
	counts := s.opts.Handler.Counts()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	dict := zerolog.Dict()
	for _, t := range types {
		dict.Int(t, counts[t])
	}
	s.logger.Info().
		Int("total", s.events).
		Int("types_seen", len(s.opts.Conn.Discovered())).
		Dict("events", dict).
		Msg("event counts")
}

// sleepWithContext sleeps for d, returning early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
