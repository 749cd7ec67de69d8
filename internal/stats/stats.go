// Package stats rolls today's calls up into per-queue daily_stats rows and
// the "today" columns of queue_stats_realtime, and resets the per-agent
// daily counters at the day boundary.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/snapshot"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options configures a Rollup.
type Options struct {
	DB       *gorm.DB
	Snapshot snapshot.Source
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Rollup computes daily queue statistics.
type Rollup struct {
	db     *gorm.DB
	snap   snapshot.Source
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Rollup.
func New(opts Options) *Rollup {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Rollup{
		db:     opts.DB,
		snap:   opts.Snapshot,
		logger: opts.Logger.With().Str("component", "stats").Logger(),
		now:    opts.Now,
	}
}

type queueTotals struct {
	total, answered, abandoned int
	slaSample, withinSLA       int
	waitSum, waitCount         int
	maxWait                    int
	talkSum, talkCount         int
}

func (q *queueTotals) add(c models.Call, slaThreshold int) {
	q.total++
	switch c.Status {
	case models.CallCompleted:
		q.answered++
		q.slaSample++
		if c.WaitTime != nil && *c.WaitTime <= slaThreshold {
			q.withinSLA++
		}
	case models.CallAbandoned:
		q.abandoned++
	}
	if c.WaitTime != nil {
		q.waitSum += *c.WaitTime
		q.waitCount++
		if *c.WaitTime > q.maxWait {
			q.maxWait = *c.WaitTime
		}
	}
	if c.TalkTime != nil {
		q.talkSum += *c.TalkTime
		q.talkCount++
	}
}

func (q *queueTotals) sla() float64 {
	if q.slaSample == 0 {
		return 0
	}
	return float64(q.withinSLA) / float64(q.slaSample) * 100
}

func avg(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// Run aggregates the calls created today (company timezone) per queue and
// upserts daily_stats and the realtime today columns. It returns the number
// of queues written.
func (r *Rollup) Run(ctx context.Context) (int, error) {
	snap := r.snap.Current()
	start, end := dayBounds(r.now(), snap.Company.Timezone)

	var calls []models.Call
	err := r.db.WithContext(ctx).
		Select("queue_number", "status", "wait_time", "talk_time").
		Where("queue_number <> '' AND created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Find(&calls).Error
	if err != nil {
		return 0, fmt.Errorf("stats: load calls: %w", err)
	}
	totals := map[string]*queueTotals{}
	for _, c := range calls {
		t, ok := totals[c.QueueNumber]
		if !ok {
			t = &queueTotals{}
			totals[c.QueueNumber] = t
		}
		t.add(c, snap.Company.SLAThreshold)
	}
	queues := make([]string, 0, len(totals))
	for q := range totals {
		queues = append(queues, q)
	}
	sort.Strings(queues)

	date := start.Format("2006-01-02")
	now := r.now()
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, q := range queues {
			t := totals[q]
			daily := models.DailyStats{
				StatDate:       date,
				QueueNumber:    q,
				TotalCalls:     t.total,
				AnsweredCalls:  t.answered,
				AbandonedCalls: t.abandoned,
				SLAPercent:     t.sla(),
				AvgWaitTime:    avg(t.waitSum, t.waitCount),
				MaxWaitTime:    t.maxWait,
				AvgTalkTime:    avg(t.talkSum, t.talkCount),
				TotalTalkTime:  t.talkSum,
				UpdatedAt:      now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "stat_date"}, {Name: "queue_number"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"total_calls", "answered_calls", "abandoned_calls", "sla_percent",
					"avg_wait_time", "max_wait_time", "avg_talk_time", "total_talk_time", "updated_at",
				}),
			}).Create(&daily).Error; err != nil {
				return fmt.Errorf("daily stats %s: %w", q, err)
			}

			rt := models.QueueStatsRealtime{
				QueueNumber:     q,
				QueueName:       snap.QueueLabel(q),
				CallsToday:      t.total,
				AnsweredToday:   t.answered,
				AbandonedToday:  t.abandoned,
				SLAPercentToday: t.sla(),
				AvgWaitToday:    daily.AvgWaitTime,
				AvgTalkToday:    daily.AvgTalkTime,
				UpdatedAt:       now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "queue_number"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"calls_today", "answered_today", "abandoned_today", "sla_percent_today",
					"avg_wait_today", "avg_talk_today", "updated_at",
				}),
			}).Create(&rt).Error; err != nil {
				return fmt.Errorf("realtime stats %s: %w", q, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("stats: %w", err)
	}
	r.logger.Debug().Str("date", date).Int("queues", len(queues)).Int("calls", len(calls)).Msg("daily stats updated")
	return len(queues), nil
}

// ResetDaily zeroes the per-agent and per-queue "today" counters.
func (r *Rollup) ResetDaily(ctx context.Context) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AgentStatus{}).Where("1 = 1").Updates(map[string]interface{}{
			"calls_today":     0,
			"talk_time_today": 0,
			"missed_today":    0,
			"avg_handle_time": 0,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.QueueStatsRealtime{}).Where("1 = 1").Updates(map[string]interface{}{
			"calls_today":       0,
			"answered_today":    0,
			"abandoned_today":   0,
			"sla_percent_today": 100,
			"avg_wait_today":    0,
			"avg_talk_today":    0,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("stats: reset daily counters: %w", err)
	}
	r.logger.Info().Msg("daily counters reset")
	return nil
}

// dayBounds returns the start of now's day and of the next day in tz.
func dayBounds(now time.Time, tz string) (time.Time, time.Time) {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	t := now.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
