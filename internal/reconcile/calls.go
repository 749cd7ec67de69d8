package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/metrics"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/normalize"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/publish"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Reconciler) onCallerJoin(ctx context.Context, ev normalize.Event) error {
	queue, uid := ev.Queue(), ev.UniqueID()
	if queue == "" || uid == "" {
		return unattributable("caller join without queue or unique id")
	}
	if !r.snap.Current().QueueMonitored(queue) {
		r.logger.Debug().Str("queue", queue).Msg("skipping unmonitored queue")
		return nil
	}
	now := r.now()
	callerNum, callerName := ev.CallerNum(), ev.CallerName()

	err := r.tx(ctx, func(tx *gorm.DB) error {
		call, found, err := loadCall(tx, uid)
		if err != nil {
			return err
		}
		if !found {
			call = &models.Call{
				UniqueID:       uid,
				CallType:       models.CallInbound,
				CallerNumber:   callerNum,
				CallerName:     callerName,
				QueueNumber:    queue,
				Status:         models.CallWaiting,
				EnteredQueueAt: &now,
			}
			if err := tx.Create(call).Error; err != nil {
				return err
			}
			if callerNum != "" {
				if err := trackRepeatCaller(tx, callerNum, callerName, queue, now); err != nil {
					return err
				}
			}
		} else if call.Status == models.CallWaiting && call.QueueNumber != queue {
			if err := tx.Model(call).Update("queue_number", queue).Error; err != nil {
				return err
			}
		}
		return r.refreshWaiting(tx, queue, now)
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("queue", queue).Str("caller", callerNum).Str("uid", uid).Msg("caller joined queue")
	r.emit(publish.KindCall, uid, models.CallWaiting)
	r.emit(publish.KindQueue, queue, "")
	return nil
}

func (r *Reconciler) onCallerLeave(ctx context.Context, ev normalize.Event) error {
	queue := ev.Queue()
	if queue == "" || !r.snap.Current().QueueMonitored(queue) {
		return nil
	}
	now := r.now()
	if err := r.tx(ctx, func(tx *gorm.DB) error { return r.refreshWaiting(tx, queue, now) }); err != nil {
		return err
	}
	r.logger.Debug().Str("queue", queue).Msg("caller left queue")
	r.emit(publish.KindQueue, queue, "")
	return nil
}

func (r *Reconciler) onCallerAbandon(ctx context.Context, ev normalize.Event) error {
	queue, uid := ev.Queue(), ev.UniqueID()
	snap := r.snap.Current()
	if queue != "" && !snap.QueueMonitored(queue) {
		return nil
	}
	if uid == "" {
		return unattributable("abandon without unique id")
	}
	now := r.now()
	wait := ev.Int("HoldTime", "Wait")

	err := r.tx(ctx, func(tx *gorm.DB) error {
		call, found, err := loadCall(tx, uid)
		if err != nil {
			return err
		}
		switch {
		case !found && queue != "":
			entered := now.Add(-time.Duration(wait) * time.Second)
			call = &models.Call{
				UniqueID:       uid,
				CallType:       models.CallInbound,
				CallerNumber:   ev.CallerNum(),
				CallerName:     ev.CallerName(),
				QueueNumber:    queue,
				Status:         models.CallAbandoned,
				WaitTime:       &wait,
				EnteredQueueAt: &entered,
				EndedAt:        &now,
			}
			if err := tx.Create(call).Error; err != nil {
				return err
			}
		case !found:
		case call.Status == models.CallWaiting:
			updates := map[string]interface{}{"status": models.CallAbandoned}
			if call.WaitTime == nil {
				updates["wait_time"] = wait
			}
			if call.EndedAt == nil {
				updates["ended_at"] = now
			}
			if err := tx.Model(call).Updates(updates).Error; err != nil {
				return err
			}
		default:
			r.logger.Debug().Str("uid", uid).Str("status", call.Status).Msg("ignoring abandon for call past waiting")
		}
		if queue != "" {
			return r.refreshWaiting(tx, queue, now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("queue", queue).Str("uid", uid).Int("wait", wait).Msg("caller abandoned")
	r.emit(publish.KindCall, uid, models.CallAbandoned)
	if queue != "" {
		r.emit(publish.KindQueue, queue, "")
	}
	return nil
}

func (r *Reconciler) onQueueSummary(ctx context.Context, ev normalize.Event) error {
	queue := ev.Queue()
	snap := r.snap.Current()
	if queue == "" || !snap.QueueMonitored(queue) {
		return nil
	}
	row := models.QueueStatsRealtime{
		QueueNumber:     queue,
		QueueName:       snap.QueueLabel(queue),
		CallsWaiting:    ev.Int("Callers", "Waiting"),
		AgentsAvailable: ev.Int("Available"),
		TotalAgents:     ev.Int("LoggedIn", "Members"),
		UpdatedAt:       r.now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "queue_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"queue_name", "calls_waiting", "agents_available", "total_agents", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	metrics.CallsWaiting.WithLabelValues(queue).Set(float64(row.CallsWaiting))
	r.emit(publish.KindQueue, queue, "")
	return nil
}

// refreshWaiting recounts waiting calls for queue into the realtime row.
func (r *Reconciler) refreshWaiting(tx *gorm.DB, queue string, now time.Time) error {
	var waiting int64
	if err := tx.Model(&models.Call{}).
		Where("queue_number = ? AND status = ?", queue, models.CallWaiting).
		Count(&waiting).Error; err != nil {
		return err
	}
	row := models.QueueStatsRealtime{
		QueueNumber:  queue,
		QueueName:    r.snap.Current().QueueLabel(queue),
		CallsWaiting: int(waiting),
		UpdatedAt:    now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "queue_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"calls_waiting", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	metrics.CallsWaiting.WithLabelValues(queue).Set(float64(waiting))
	return nil
}

func trackRepeatCaller(tx *gorm.DB, number, name, queue string, now time.Time) error {
	var rc models.RepeatCaller
	err := tx.Where("caller_number = ?", number).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&models.RepeatCaller{
			CallerNumber: number,
			CallerName:   name,
			CallCount:    1,
			FirstCallAt:  now,
			LastCallAt:   now,
			LastQueue:    queue,
		}).Error
	}
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"call_count":   rc.CallCount + 1,
		"last_call_at": now,
		"last_queue":   queue,
	}
	if name != "" {
		updates["caller_name"] = name
	}
	return tx.Model(&rc).Updates(updates).Error
}

func loadCall(tx *gorm.DB, uid string) (*models.Call, bool, error) {
	var call models.Call
	err := tx.Where("unique_id = ?", uid).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &call, true, nil
}
