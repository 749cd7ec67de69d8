// Package alert evaluates threshold rules against persisted call and queue
// state, keeps at most one unresolved ActiveAlert per rule, and fans new
// alerts out through notification channels.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/metrics"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/notify"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/snapshot"
	"gorm.io/gorm"
)

// Notifier delivers a notification and reports the channels it attempted.
type Notifier interface {
	Send(ctx context.Context, n notify.Notification) ([]string, error)
}

// Options configures an Engine.
type Options struct {
	DB              *gorm.DB
	Snapshot        snapshot.Source
	Notifier        Notifier
	Logger          zerolog.Logger
	Now             func() time.Time
	Interval        time.Duration
	MinSamples      int
	DefaultCooldown time.Duration
	AbandonedWindow time.Duration
}

// Report summarizes one Check.
type Report struct {
	// Skipped is "disabled" or "quiet_hours" when the check did nothing.
	Skipped   string
	Evaluated int
	Triggered int
	Refreshed int
	Resolved  int
}

// Engine runs alert checks. It is not safe for concurrent use; the daemon
// calls it from its single loop.
type Engine struct {
	db              *gorm.DB
	snap            snapshot.Source
	notifier        Notifier
	logger          zerolog.Logger
	now             func() time.Time
	interval        time.Duration
	minSamples      int
	defaultCooldown time.Duration
	abandonedWindow time.Duration

	lastCheck time.Time
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 5
	}
	if opts.DefaultCooldown <= 0 {
		opts.DefaultCooldown = 15 * time.Minute
	}
	if opts.AbandonedWindow <= 0 {
		opts.AbandonedWindow = time.Hour
	}
	return &Engine{
		db:              opts.DB,
		snap:            opts.Snapshot,
		notifier:        opts.Notifier,
		logger:          opts.Logger.With().Str("component", "alert").Logger(),
		now:             opts.Now,
		interval:        opts.Interval,
		minSamples:      opts.MinSamples,
		defaultCooldown: opts.DefaultCooldown,
		abandonedWindow: opts.AbandonedWindow,
	}
}

// Due reports whether the check interval has elapsed since the last Check.
func (e *Engine) Due(now time.Time) bool {
	return e.lastCheck.IsZero() || now.Sub(e.lastCheck) >= e.interval
}

// Check evaluates every enabled rule that is out of cooldown, triggers the
// ones whose condition holds, then resolves unresolved alerts whose
// condition has cleared. Per-rule failures are joined into the returned
// error; they never stop the remaining rules.
func (e *Engine) Check(ctx context.Context) (Report, error) {
	now := e.now()
	e.lastCheck = now
	snap := e.snap.Current()

	var rep Report
	if !snap.Company.AlertsEnabled {
		rep.Skipped = "disabled"
		return rep, nil
	}
	if InQuietHours(snap.Company, now) {
		e.logger.Debug().Msg("quiet hours, skipping alert check")
		rep.Skipped = "quiet_hours"
		return rep, nil
	}

	var rules []models.AlertRule
	if err := e.db.WithContext(ctx).Where("is_enabled = ?", true).Order("id").Find(&rules).Error; err != nil {
		return rep, fmt.Errorf("alert: load rules: %w", err)
	}

	var errs []error
	for i := range rules {
		rule := &rules[i]
		typ := Canonical(rule.AlertType)
		if typ == "" {
			e.logger.Debug().Str("type", rule.AlertType).Uint("rule", rule.ID).Msg("unknown alert type")
			continue
		}
		if e.inCooldown(rule, now) {
			continue
		}
		rep.Evaluated++
		f, err := evaluators[typ](ctx, e, snap, rule.Threshold, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("alert: rule %d (%s): %w", rule.ID, rule.AlertType, err))
			continue
		}
		if f == nil {
			continue
		}
		created, err := e.trigger(ctx, snap, rule, f, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("alert: trigger rule %d: %w", rule.ID, err))
			continue
		}
		if created {
			rep.Triggered++
		} else {
			rep.Refreshed++
		}
	}

	resolved, err := e.resolve(ctx, snap, now)
	rep.Resolved = resolved
	if err != nil {
		errs = append(errs, err)
	}
	return rep, errors.Join(errs...)
}

func (e *Engine) inCooldown(rule *models.AlertRule, now time.Time) bool {
	if rule.LastTriggeredAt == nil {
		return false
	}
	cooldown := e.defaultCooldown
	if rule.CooldownMinutes > 0 {
		cooldown = time.Duration(rule.CooldownMinutes) * time.Minute
	}
	return now.Before(rule.LastTriggeredAt.Add(cooldown))
}

// trigger records a new alert for rule, or refreshes the rule's unresolved
// alert when one already exists. It reports whether a new alert was
// created. Notifications go out only for new alerts, after commit.
func (e *Engine) trigger(ctx context.Context, snap *snapshot.Snapshot, rule *models.AlertRule, f *Finding, now time.Time) (bool, error) {
	severity := rule.Severity
	if severity == "" {
		severity = "warning"
	}
	var (
		created bool
		history models.AlertHistory
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open models.ActiveAlert
		err := tx.Where("alert_rule_id = ? AND is_active = ? AND resolved_at IS NULL", rule.ID, true).First(&open).Error
		if err == nil {
			return tx.Model(&open).Updates(map[string]interface{}{
				"current_value": f.CurrentValue,
				"message":       f.Message,
				"queue_number":  f.QueueNumber,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Model(rule).Update("last_triggered_at", now).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.ActiveAlert{
			AlertRuleID:  rule.ID,
			AlertType:    rule.AlertType,
			QueueNumber:  f.QueueNumber,
			CurrentValue: f.CurrentValue,
			Threshold:    rule.Threshold,
			Message:      f.Message,
			Severity:     severity,
			IsActive:     true,
			TriggeredAt:  now,
		}).Error; err != nil {
			return err
		}
		data, err := json.Marshal(map[string]interface{}{
			"rule_id":       rule.ID,
			"alert_type":    rule.AlertType,
			"threshold":     rule.Threshold,
			"queue_number":  f.QueueNumber,
			"queue_name":    f.QueueName,
			"current_value": f.CurrentValue,
			"message":       f.Message,
		})
		if err != nil {
			return err
		}
		history = models.AlertHistory{
			AlertType:    rule.AlertType,
			AlertMessage: f.Message,
			AlertData:    string(data),
			SentVia:      "pending",
			CreatedAt:    now,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil || !created {
		return false, err
	}

	rule.LastTriggeredAt = &now
	metrics.AlertsTriggered.WithLabelValues(Canonical(rule.AlertType)).Inc()
	e.logger.Warn().Str("type", rule.AlertType).Str("queue", f.QueueNumber).
		Float64("value", f.CurrentValue).Msg("ALERT TRIGGERED: " + f.Message)

	sentVia := e.notify(ctx, snap, rule, f, severity, now)
	if err := e.db.WithContext(ctx).Model(&history).Update("sent_via", sentVia).Error; err != nil {
		e.logger.Warn().Err(err).Uint("history", history.ID).Msg("record notification channels")
	}
	return true, nil
}

func (e *Engine) notify(ctx context.Context, snap *snapshot.Snapshot, rule *models.AlertRule, f *Finding, severity string, now time.Time) string {
	if e.notifier == nil {
		return "none"
	}
	n := notify.Notification{
		ID:           uuid.NewString(),
		AlertType:    rule.AlertType,
		Severity:     severity,
		QueueNumber:  f.QueueNumber,
		QueueName:    f.QueueName,
		Message:      f.Message,
		CurrentValue: f.CurrentValue,
		Threshold:    rule.Threshold,
		TriggeredAt:  now,
		Company:      snap.Company.CompanyName,
	}
	attempted, err := e.notifier.Send(ctx, n)
	if err != nil {
		e.logger.Warn().Err(err).Str("notification", n.ID).Msg("some notifications failed")
	}
	if len(attempted) == 0 {
		return "none"
	}
	return strings.Join(attempted, ",")
}

// resolve re-evaluates the rule behind every unresolved alert, ignoring
// cooldown and the enabled flag, and stamps resolved_at on alerts whose
// condition no longer holds.
func (e *Engine) resolve(ctx context.Context, snap *snapshot.Snapshot, now time.Time) (int, error) {
	var open []models.ActiveAlert
	if err := e.db.WithContext(ctx).Where("is_active = ? AND resolved_at IS NULL", true).Find(&open).Error; err != nil {
		return 0, fmt.Errorf("alert: load active alerts: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}
	ids := make([]uint, 0, len(open))
	for _, a := range open {
		ids = append(ids, a.AlertRuleID)
	}
	var rules []models.AlertRule
	if err := e.db.WithContext(ctx).Where("id IN ?", ids).Find(&rules).Error; err != nil {
		return 0, fmt.Errorf("alert: load rules: %w", err)
	}
	byID := make(map[uint]models.AlertRule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	// Alerts on the same rule type and threshold share one evaluation.
	cache := map[string]*Finding{}
	resolved := 0
	var errs []error
	for i := range open {
		a := &open[i]
		typ, threshold := a.AlertType, a.Threshold
		if r, ok := byID[a.AlertRuleID]; ok {
			typ, threshold = r.AlertType, r.Threshold
		}
		canon := Canonical(typ)
		var f *Finding
		if canon != "" {
			key := canon + "/" + strconv.FormatFloat(threshold, 'f', -1, 64)
			cached, ok := cache[key]
			if !ok {
				var err error
				cached, err = evaluators[canon](ctx, e, snap, threshold, now)
				if err != nil {
					errs = append(errs, fmt.Errorf("alert: re-evaluate alert %d: %w", a.ID, err))
					continue
				}
				cache[key] = cached
			}
			f = cached
		}
		if f != nil {
			continue
		}
		err := e.db.WithContext(ctx).Model(a).Updates(map[string]interface{}{
			"is_active":   false,
			"resolved_at": now,
		}).Error
		if err != nil {
			errs = append(errs, fmt.Errorf("alert: resolve alert %d: %w", a.ID, err))
			continue
		}
		resolved++
		metrics.AlertsResolved.WithLabelValues(canonOr(canon, typ)).Inc()
		e.logger.Info().Uint("alert", a.ID).Str("type", typ).Msg("Alert resolved: " + a.Message)
	}
	return resolved, errors.Join(errs...)
}

func canonOr(canon, raw string) string {
	if canon != "" {
		return canon
	}
	return raw
}
