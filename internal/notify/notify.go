// Package notify delivers alert notifications over email, SMS and chat
// webhooks. Every target is attempted; failures are collected, never fatal.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/metrics"
	"golang.org/x/time/rate"
)

// Notification is one triggered alert, rendered by each channel in its own
// format.
type Notification struct {
	ID           string
	AlertType    string
	Severity     string
	QueueNumber  string
	QueueName    string
	Message      string
	CurrentValue float64
	Threshold    float64
	TriggeredAt  time.Time
	Company      string
}

// Subject is the one-line summary used for email subjects and card titles.
func (n Notification) Subject() string {
	sev := strings.ToUpper(n.Severity)
	if sev == "" {
		sev = "WARNING"
	}
	return fmt.Sprintf("[%s] %s alert: %s", sev, n.companyName(), strings.ReplaceAll(n.AlertType, "_", " "))
}

func (n Notification) companyName() string {
	if n.Company == "" {
		return "Wallboard"
	}
	return n.Company
}

// Channel is one delivery mechanism. Targets lists the recipients or hooks
// a notification would go to; Deliver sends to exactly one of them.
type Channel interface {
	Name() string
	Targets() []string
	Deliver(ctx context.Context, target string, n Notification) error
}

// DeliveryError records a failed delivery to one target.
type DeliveryError struct {
	Channel string
	Target  string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: %s to %s: %v", e.Channel, e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Options configures a Dispatcher.
type Options struct {
	// Channels returns the channels to use for the next notification.
	// Recipients and webhooks change at runtime, so it is called per send.
	Channels      func() []Channel
	RatePerSecond float64
	Burst         int
	Logger        zerolog.Logger
}

// Dispatcher fans a notification out to every target of every channel,
// rate limited per channel.
type Dispatcher struct {
	channels func() []Channel
	limit    rate.Limit
	burst    int
	logger   zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Channels == nil {
		opts.Channels = func() []Channel { return nil }
	}
	return &Dispatcher{
		channels: opts.Channels,
		limit:    limit,
		burst:    opts.Burst,
		logger:   opts.Logger.With().Str("component", "notify").Logger(),
		limiters: map[string]*rate.Limiter{},
	}
}

func (d *Dispatcher) limiter(channel string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[channel]
	if !ok {
		l = rate.NewLimiter(d.limit, d.burst)
		d.limiters[channel] = l
	}
	return l
}

// Send delivers n to every target and returns the names of the channels it
// attempted. The error joins every *DeliveryError; a failed target never
// stops the others.
func (d *Dispatcher) Send(ctx context.Context, n Notification) ([]string, error) {
	var (
		attempted []string
		errs      []error
	)
	for _, ch := range d.channels() {
		targets := ch.Targets()
		if len(targets) == 0 {
			continue
		}
		attempted = append(attempted, ch.Name())
		lim := d.limiter(ch.Name())
		for _, target := range targets {
			if err := lim.Wait(ctx); err != nil {
				errs = append(errs, &DeliveryError{Channel: ch.Name(), Target: target, Err: err})
				metrics.NotificationsTotal.WithLabelValues(ch.Name(), "error").Inc()
				continue
			}
			if err := ch.Deliver(ctx, target, n); err != nil {
				d.logger.Warn().Err(err).Str("channel", ch.Name()).Str("target", target).Str("alert", n.AlertType).Msg("notification failed")
				errs = append(errs, &DeliveryError{Channel: ch.Name(), Target: target, Err: err})
				metrics.NotificationsTotal.WithLabelValues(ch.Name(), "error").Inc()
				continue
			}
			d.logger.Debug().Str("channel", ch.Name()).Str("target", target).Msg("notification sent")
			metrics.NotificationsTotal.WithLabelValues(ch.Name(), "sent").Inc()
		}
	}
	return attempted, errors.Join(errs...)
}
