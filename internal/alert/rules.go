package alert

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/snapshot"
	"gorm.io/gorm"
)

// Canonical rule types.
const (
	TypeCallsWaiting  = "calls_waiting_high"
	TypeLongestWait   = "longest_wait_high"
	TypeSLABelow      = "sla_below"
	TypeAbandonedRate = "abandoned_rate_high"
	TypeNoAgents      = "no_agents"
)

// aliases maps legacy rule type names onto canonical ones.
var aliases = map[string]string{
	TypeCallsWaiting:  TypeCallsWaiting,
	"queue_overflow":  TypeCallsWaiting,
	TypeLongestWait:   TypeLongestWait,
	"max_wait_time":   TypeLongestWait,
	"long_hold":       TypeLongestWait,
	TypeSLABelow:      TypeSLABelow,
	"sla_breach":      TypeSLABelow,
	TypeAbandonedRate: TypeAbandonedRate,
	"abandoned_call":  TypeAbandonedRate,
	TypeNoAgents:      TypeNoAgents,
}

// Canonical returns the canonical rule type, or "" for an unknown type.
func Canonical(alertType string) string { return aliases[alertType] }

// Finding is a rule condition that currently holds.
type Finding struct {
	QueueNumber  string  `json:"queue_number,omitempty"`
	QueueName    string  `json:"queue_name,omitempty"`
	CurrentValue float64 `json:"current_value"`
	Message      string  `json:"message"`
}

// evaluator checks one rule type against persisted state. It returns nil
// when the condition does not hold.
type evaluator func(ctx context.Context, e *Engine, snap *snapshot.Snapshot, threshold float64, now time.Time) (*Finding, error)

var evaluators = map[string]evaluator{
	TypeCallsWaiting:  checkCallsWaiting,
	TypeLongestWait:   checkLongestWait,
	TypeSLABelow:      checkSLA,
	TypeAbandonedRate: checkAbandoned,
	TypeNoAgents:      checkNoAgents,
}

// waitingByQueue counts waiting calls in monitored queues.
func waitingByQueue(ctx context.Context, db *gorm.DB, snap *snapshot.Snapshot) (map[string]int, error) {
	queues := snap.QueueNumbers()
	out := make(map[string]int, len(queues))
	if len(queues) == 0 {
		return out, nil
	}
	var rows []struct {
		QueueNumber string
		Waiting     int
	}
	err := db.WithContext(ctx).Model(&models.Call{}).
		Select("queue_number, COUNT(*) AS waiting").
		Where("status = ? AND queue_number IN ?", models.CallWaiting, queues).
		Group("queue_number").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count waiting calls: %w", err)
	}
	for _, r := range rows {
		out[r.QueueNumber] = r.Waiting
	}
	return out, nil
}

func checkCallsWaiting(ctx context.Context, e *Engine, snap *snapshot.Snapshot, threshold float64, _ time.Time) (*Finding, error) {
	waiting, err := waitingByQueue(ctx, e.db, snap)
	if err != nil {
		return nil, err
	}
	worst, most := "", -1
	for _, q := range snap.QueueNumbers() {
		if n := waiting[q]; float64(n) >= threshold && n > most {
			worst, most = q, n
		}
	}
	if worst == "" {
		return nil, nil
	}
	label := snap.QueueLabel(worst)
	return &Finding{
		QueueNumber:  worst,
		QueueName:    label,
		CurrentValue: float64(most),
		Message:      fmt.Sprintf("%s: %d calls waiting (threshold: %d)", label, most, int(threshold)),
	}, nil
}

func checkLongestWait(ctx context.Context, e *Engine, snap *snapshot.Snapshot, threshold float64, now time.Time) (*Finding, error) {
	queues := snap.QueueNumbers()
	if len(queues) == 0 {
		return nil, nil
	}
	var calls []models.Call
	err := e.db.WithContext(ctx).
		Select("queue_number", "entered_queue_at").
		Where("status = ? AND queue_number IN ? AND entered_queue_at IS NOT NULL", models.CallWaiting, queues).
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("load waiting calls: %w", err)
	}
	longest := map[string]int{}
	for _, c := range calls {
		if w := int(now.Sub(*c.EnteredQueueAt).Seconds()); w > longest[c.QueueNumber] {
			longest[c.QueueNumber] = w
		}
	}
	worst, most := "", -1
	for _, q := range queues {
		w, ok := longest[q]
		if ok && float64(w) >= threshold && w > most {
			worst, most = q, w
		}
	}
	if worst == "" {
		return nil, nil
	}
	label := snap.QueueLabel(worst)
	return &Finding{
		QueueNumber:  worst,
		QueueName:    label,
		CurrentValue: float64(most),
		Message: fmt.Sprintf("%s: Caller waiting %s (threshold: %s)",
			label, formatDuration(most), formatDuration(int(threshold))),
	}, nil
}

// checkSLA compares today's answered-within-threshold percentage against
// the rule. Calls completed today are the sample; fewer than the minimum
// sample size never trigger.
func checkSLA(ctx context.Context, e *Engine, snap *snapshot.Snapshot, threshold float64, now time.Time) (*Finding, error) {
	var res struct {
		Total     int
		WithinSLA int
	}
	err := e.db.WithContext(ctx).Model(&models.Call{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN wait_time <= ? THEN 1 ELSE 0 END), 0) AS within_sla", snap.Company.SLAThreshold).
		Where("status = ? AND ended_at >= ?", models.CallCompleted, startOfDay(now, snap.Company.Timezone).UTC()).
		Scan(&res).Error
	if err != nil {
		return nil, fmt.Errorf("compute sla: %w", err)
	}
	if res.Total < e.minSamples {
		return nil, nil
	}
	pct := float64(res.WithinSLA) / float64(res.Total) * 100
	if pct >= threshold {
		return nil, nil
	}
	return &Finding{
		CurrentValue: math.Round(pct*10) / 10,
		Message:      fmt.Sprintf("SLA dropped to %.1f%% (target: %.0f%%)", pct, threshold),
	}, nil
}

func checkAbandoned(ctx context.Context, e *Engine, _ *snapshot.Snapshot, threshold float64, now time.Time) (*Finding, error) {
	var n int64
	err := e.db.WithContext(ctx).Model(&models.Call{}).
		Where("status = ? AND ended_at >= ?", models.CallAbandoned, now.Add(-e.abandonedWindow).UTC()).
		Count(&n).Error
	if err != nil {
		return nil, fmt.Errorf("count abandoned calls: %w", err)
	}
	if float64(n) < threshold {
		return nil, nil
	}
	return &Finding{
		CurrentValue: float64(n),
		Message:      fmt.Sprintf("%d calls abandoned in the last %s (threshold: %d)", n, windowText(e.abandonedWindow), int(threshold)),
	}, nil
}

// checkNoAgents finds a monitored queue with callers waiting and no agent
// available. A queue without a realtime row counts as having none.
func checkNoAgents(ctx context.Context, e *Engine, snap *snapshot.Snapshot, _ float64, _ time.Time) (*Finding, error) {
	waiting, err := waitingByQueue(ctx, e.db, snap)
	if err != nil {
		return nil, err
	}
	var stats []models.QueueStatsRealtime
	if err := e.db.WithContext(ctx).Where("queue_number IN ?", snap.QueueNumbers()).Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("load queue stats: %w", err)
	}
	available := map[string]int{}
	for _, s := range stats {
		available[s.QueueNumber] = s.AgentsAvailable
	}
	queues := snap.QueueNumbers()
	sort.Strings(queues)
	for _, q := range queues {
		if waiting[q] > 0 && available[q] == 0 {
			label := snap.QueueLabel(q)
			return &Finding{
				QueueNumber:  q,
				QueueName:    label,
				CurrentValue: float64(waiting[q]),
				Message:      fmt.Sprintf("%s: No agents available, %d calls waiting", label, waiting[q]),
			}, nil
		}
	}
	return nil, nil
}

// formatDuration renders seconds as m:ss.
func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func windowText(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}

func startOfDay(now time.Time, tz string) time.Time {
	loc := time.UTC
	if l, err := time.LoadLocation(tz); err == nil && tz != "" {
		loc = l
	}
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
