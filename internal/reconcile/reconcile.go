// Package reconcile applies normalized manager events to the persisted Call,
// AgentStatus and queue tables. Events are handled one at a time in arrival
// order; every handler is an idempotent upsert keyed by the call unique id or
// the agent extension, so a redelivered event converges to the same state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/metrics"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/normalize"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/publish"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/snapshot"
	"gorm.io/gorm"
)

// ErrUnattributable means the event names no monitored extension or queue
// that could be resolved.
var ErrUnattributable = errors.New("reconcile: event cannot be attributed")

// PersistenceError wraps a store failure while handling one event.
type PersistenceError struct {
	Event string
	Key   string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("reconcile: %s %s: %v", e.Event, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ignored are high-volume events that carry nothing the wallboard tracks,
// plus the list-completion markers of our own status actions.
var ignored = map[string]bool{
	"VarSet":                   true,
	"Newexten":                 true,
	"RTCPSent":                 true,
	"RTCPReceived":             true,
	"NewConnectedLine":         true,
	"NewCallerid":              true,
	"Cdr":                      true,
	"CEL":                      true,
	"FullyBooted":              true,
	"SuccessfulAuth":           true,
	"ChallengeSent":            true,
	"Newstate":                 true,
	"BridgeCreate":             true,
	"BridgeDestroy":            true,
	"BridgeEnter":              true,
	"BridgeLeave":              true,
	"HangupRequest":            true,
	"SoftHangupRequest":        true,
	"MusicOnHoldStart":         true,
	"MusicOnHoldStop":          true,
	"DTMFBegin":                true,
	"DTMFEnd":                  true,
	"QueueParams":              true,
	"QueueStatusComplete":      true,
	"QueueSummaryComplete":     true,
	"CoreShowChannel":          true,
	"CoreShowChannelsComplete": true,
}

type handlerFunc func(ctx context.Context, ev normalize.Event) error

// Options configures a Reconciler.
type Options struct {
	DB        *gorm.DB
	Snapshot  snapshot.Source
	Publisher publish.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Reconciler is the sole writer of call and agent state.
type Reconciler struct {
	db     *gorm.DB
	snap   snapshot.Source
	pub    publish.Publisher
	logger zerolog.Logger
	now    func() time.Time

	handlers map[string]handlerFunc
	changes  []publish.Change

	mu           sync.Mutex
	counts       map[string]int
	unknown      map[string]bool
	unattributed map[string]bool
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	if opts.Publisher == nil {
		opts.Publisher = publish.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Reconciler{
		db:           opts.DB,
		snap:         opts.Snapshot,
		pub:          opts.Publisher,
		logger:       opts.Logger.With().Str("component", "reconcile").Logger(),
		now:          opts.Now,
		counts:       map[string]int{},
		unknown:      map[string]bool{},
		unattributed: map[string]bool{},
	}
	r.handlers = map[string]handlerFunc{
		"QueueCallerJoin":    r.onCallerJoin,
		"QueueCallerLeave":   r.onCallerLeave,
		"QueueCallerAbandon": r.onCallerAbandon,
		"AgentCalled":        r.onAgentCalled,
		"AgentConnect":       r.onAgentConnect,
		"AgentComplete":      r.onAgentComplete,
		"AgentRingNoAnswer":  r.onRingNoAnswer,
		"QueueMemberStatus":  r.onMemberStatus,
		"QueueMember":        r.onMemberStatus,
		"QueueMemberAdded":   r.onMemberAdded,
		"QueueMemberRemoved": r.onMemberRemoved,
		"QueueMemberPause":   r.onMemberPause,
		"QueueMemberPaused":  r.onMemberPause,
		"QueueSummary":       r.onQueueSummary,
		"QueueEntry":         noop,
		"Hangup":             noop,
		"DeviceStateChange":  r.onDeviceState,
		"ExtensionStatus":    r.onDeviceState,
		"Newchannel":         r.onNewchannel,
		"DialBegin":          r.onDialBegin,
		"DialEnd":            r.onDialEnd,
	}
	return r
}

func noop(context.Context, normalize.Event) error { return nil }

// Handle applies one event. It never panics: a panic inside a handler is
// recovered and returned as an error. Unattributable events return an error
// wrapping ErrUnattributable; store failures return a *PersistenceError.
// Both are logged here, so callers only need the error for accounting.
func (r *Reconciler) Handle(ctx context.Context, ev normalize.Event) (err error) {
	if ev.Type == "" {
		return nil
	}
	start := time.Now()
	r.mu.Lock()
	r.counts[ev.Type]++
	r.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reconcile: panic handling %s: %v", ev.Type, p)
			r.logger.Error().Str("event", ev.Type).Interface("panic", p).Msg("recovered from handler panic")
			metrics.EventsTotal.WithLabelValues(ev.Type, "error").Inc()
		}
		metrics.EventHandleSeconds.Observe(time.Since(start).Seconds())
	}()

	if ignored[ev.Type] {
		metrics.EventsTotal.WithLabelValues(ev.Type, "ignored").Inc()
		return nil
	}
	h, ok := r.handlers[ev.Type]
	if !ok {
		if r.firstTime(r.unknown, ev.Type) {
			r.logger.Warn().Str("event", ev.Type).Str("raw", ev.Raw).Msg("unknown event type")
		}
		metrics.EventsTotal.WithLabelValues(ev.Type, "unknown").Inc()
		return nil
	}

	r.changes = r.changes[:0]
	if err := h(ctx, ev); err != nil {
		if errors.Is(err, ErrUnattributable) {
			if r.firstTime(r.unattributed, ev.Type) {
				r.logger.Warn().Err(err).Str("event", ev.Type).Msg("skipping unattributable event")
			} else {
				r.logger.Debug().Err(err).Str("event", ev.Type).Msg("skipping unattributable event")
			}
			metrics.EventsTotal.WithLabelValues(ev.Type, "unattributable").Inc()
			return err
		}
		perr := &PersistenceError{Event: ev.Type, Key: eventKey(ev), Err: err}
		r.logger.Error().Err(err).Str("event", ev.Type).Str("key", perr.Key).Msg("failed to apply event")
		metrics.EventsTotal.WithLabelValues(ev.Type, "error").Inc()
		return perr
	}
	metrics.EventsTotal.WithLabelValues(ev.Type, "handled").Inc()

	for _, c := range r.changes {
		c.Event = ev.Type
		if err := r.pub.Publish(ctx, c); err != nil {
			r.logger.Warn().Err(err).Str("kind", c.Kind).Str("key", c.Key).Msg("publish state change")
		}
	}
	return nil
}

// Counts returns how many events of each type have been handled.
func (r *Reconciler) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// UnknownTypes returns the event types seen without a handler.
func (r *Reconciler) UnknownTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.unknown))
	for k := range r.unknown {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Reconciler) firstTime(seen map[string]bool, typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seen[typ] {
		return false
	}
	seen[typ] = true
	return true
}

func (r *Reconciler) emit(kind, key, status string) {
	r.changes = append(r.changes, publish.Change{Kind: kind, Key: key, Status: status, At: r.now()})
}

func (r *Reconciler) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func eventKey(ev normalize.Event) string {
	if k := ev.UniqueID(); k != "" {
		return k
	}
	if k := ev.Member(); k != "" {
		return k
	}
	return ev.Queue()
}

func unattributable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnattributable, fmt.Sprintf(format, args...))
}
