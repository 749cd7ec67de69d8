package reconcile

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/normalize"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/publish"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// memberStatus maps queue member device codes onto agent statuses.
var memberStatus = map[int]string{
	0: models.AgentUnknown,
	1: models.AgentAvailable,
	2: models.AgentOnCall,
	3: models.AgentOnCall,
	4: models.AgentOffline,
	5: models.AgentOffline,
	6: models.AgentRinging,
	7: models.AgentOnCall,
	8: models.AgentOnCall,
}

// deviceState maps device state names onto agent statuses.
var deviceState = map[string]string{
	"NOT_INUSE":   models.AgentAvailable,
	"INUSE":       models.AgentOnCall,
	"BUSY":        models.AgentOnCall,
	"UNAVAILABLE": models.AgentOffline,
	"RINGING":     models.AgentRinging,
	"RINGINUSE":   models.AgentRinging,
	"ONHOLD":      models.AgentOnCall,
}

// extensionState maps numeric extension hint states onto agent statuses.
var extensionState = map[int]string{
	0:  models.AgentAvailable,
	1:  models.AgentOnCall,
	2:  models.AgentOnCall,
	4:  models.AgentOffline,
	8:  models.AgentRinging,
	16: models.AgentOnCall,
}

// resolveAgent turns a device or channel identifier into a monitored
// extension.
func (r *Reconciler) resolveAgent(raw string) (string, error) {
	ext, ok := normalize.Extension(raw)
	if !ok {
		return "", unattributable("no extension in %q", raw)
	}
	return r.monitored(ext)
}

// resolveMember resolves the queue member an agent event is about.
func (r *Reconciler) resolveMember(ev normalize.Event) (string, error) {
	ext, ok := ev.MemberExtension()
	if !ok {
		return "", unattributable("no extension in member %q", ev.Member())
	}
	return r.monitored(ext)
}

func (r *Reconciler) monitored(ext string) (string, error) {
	if !r.snap.Current().ExtensionMonitored(ext) {
		return "", unattributable("extension %s is not monitored", ext)
	}
	return ext, nil
}

func (r *Reconciler) loadAgent(tx *gorm.DB, ext string) (*models.AgentStatus, bool, error) {
	var a models.AgentStatus
	err := tx.Where("extension = ?", ext).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.AgentStatus{
			Extension:   ext,
			AgentName:   r.snap.Current().ExtensionName(ext),
			Status:      models.AgentUnknown,
			StatusSince: r.now(),
		}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

func saveAgent(tx *gorm.DB, a *models.AgentStatus, found bool) error {
	if found {
		return tx.Save(a).Error
	}
	return tx.Create(a).Error
}

// setStatus changes the agent status, moving status_since only on a change.
func setStatus(a *models.AgentStatus, status string, now time.Time) {
	if a.Status != status {
		a.Status = status
		a.StatusSince = now
	}
}

func clearCall(a *models.AgentStatus) {
	a.CurrentCallID = ""
	a.CurrentCallType = ""
	a.TalkingTo = ""
	a.TalkingToName = ""
	a.CallStartedAt = nil
}

// updateAgent loads (or starts) the agent row, applies fn and saves it when
// fn reports a change.
func (r *Reconciler) updateAgent(tx *gorm.DB, ext string, fn func(a *models.AgentStatus) bool) error {
	a, found, err := r.loadAgent(tx, ext)
	if err != nil {
		return err
	}
	if !fn(a) && found {
		return nil
	}
	if err := saveAgent(tx, a, found); err != nil {
		return err
	}
	r.emit(publish.KindAgent, ext, a.Status)
	return nil
}

func (r *Reconciler) onAgentCalled(ctx context.Context, ev normalize.Event) error {
	ext, err := r.resolveMember(ev)
	if err != nil {
		return err
	}
	now, uid, caller := r.now(), ev.UniqueID(), ev.CallerNum()
	err = r.tx(ctx, func(tx *gorm.DB) error {
		return r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			if uid != "" && a.CurrentCallID == uid && a.Status == models.AgentOnCall {
				return false
			}
			setStatus(a, models.AgentRinging, now)
			a.TalkingTo = caller
			a.TalkingToName = ev.CallerName()
			return true
		})
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("extension", ext).Str("caller", caller).Msg("agent ringing")
	return nil
}

func (r *Reconciler) onAgentConnect(ctx context.Context, ev normalize.Event) error {
	ext, err := r.resolveMember(ev)
	if err != nil {
		return err
	}
	queue, uid := ev.Queue(), ev.UniqueID()
	snap := r.snap.Current()
	if queue != "" && !snap.QueueMonitored(queue) {
		return nil
	}
	now := r.now()
	wait := ev.Int("HoldTime", "Wait", "RingTime")
	caller, callerName := ev.CallerNum(), ev.CallerName()

	err = r.tx(ctx, func(tx *gorm.DB) error {
		// A connect for a call that already moved on is a redelivery; the
		// agent has moved on too.
		stale := false
		if uid != "" {
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
					CallerNumber:   caller,
					CallerName:     callerName,
					QueueNumber:    queue,
					AgentExtension: ext,
					AgentName:      snap.ExtensionName(ext),
					Status:         models.CallAnswered,
					WaitTime:       &wait,
					EnteredQueueAt: &entered,
					AnsweredAt:     &now,
				}
				if err := tx.Create(call).Error; err != nil {
					return err
				}
				r.emit(publish.KindCall, uid, models.CallAnswered)
			case !found:
			case call.Status == models.CallWaiting ||
				(call.Status == models.CallAnswered && call.AgentExtension == ext):
				updates := map[string]interface{}{
					"status":          models.CallAnswered,
					"agent_extension": ext,
					"agent_name":      snap.ExtensionName(ext),
				}
				if call.WaitTime == nil {
					updates["wait_time"] = wait
				}
				if call.AnsweredAt == nil {
					updates["answered_at"] = now
				}
				if err := tx.Model(call).Updates(updates).Error; err != nil {
					return err
				}
				r.emit(publish.KindCall, uid, models.CallAnswered)
			default:
				r.logger.Debug().Str("uid", uid).Str("status", call.Status).Msg("ignoring connect for call")
				stale = true
			}
		}
		if stale {
			return nil
		}

		if err := r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			if a.Status == models.AgentOnCall && a.CurrentCallID == uid {
				return false
			}
			setStatus(a, models.AgentOnCall, now)
			a.CurrentCallID = uid
			a.CurrentCallType = models.CallInbound
			a.TalkingTo = caller
			a.TalkingToName = callerName
			a.CallStartedAt = &now
			return true
		}); err != nil {
			return err
		}
		if queue != "" {
			return r.refreshWaiting(tx, queue, now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("extension", ext).Str("caller", caller).Int("wait", wait).Msg("agent connected")
	return nil
}

func (r *Reconciler) onAgentComplete(ctx context.Context, ev normalize.Event) error {
	ext, err := r.resolveMember(ev)
	if err != nil {
		return err
	}
	uid := ev.UniqueID()
	now := r.now()
	talk := ev.Int("TalkTime", "Duration")

	err = r.tx(ctx, func(tx *gorm.DB) error {
		completed := false
		callFound := false
		if uid != "" {
			call, found, err := loadCall(tx, uid)
			if err != nil {
				return err
			}
			callFound = found
			if found && (call.Status == models.CallWaiting || call.Status == models.CallAnswered) {
				updates := map[string]interface{}{"status": models.CallCompleted}
				if call.TalkTime == nil {
					updates["talk_time"] = talk
				}
				if call.EndedAt == nil {
					updates["ended_at"] = now
				}
				if call.AgentExtension == "" {
					updates["agent_extension"] = ext
				}
				if err := tx.Model(call).Updates(updates).Error; err != nil {
					return err
				}
				completed = true
				r.emit(publish.KindCall, uid, models.CallCompleted)
			}
		}

		return r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			// Without a call row the agent's own call reference is the guard.
			ownCall := uid != "" && a.CurrentCallID == uid
			if !completed && (callFound || !ownCall) {
				if ownCall {
					setStatus(a, models.AgentWrapup, now)
					clearCall(a)
					return true
				}
				return false
			}
			a.CallsToday++
			a.TalkTimeToday += talk
			a.AvgHandleTime = a.TalkTimeToday / a.CallsToday
			if ownCall || a.CurrentCallID == "" {
				setStatus(a, models.AgentWrapup, now)
				clearCall(a)
			}
			return true
		})
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("extension", ext).Str("uid", uid).Int("talk", talk).Msg("agent completed call")
	return nil
}

func (r *Reconciler) onRingNoAnswer(ctx context.Context, ev normalize.Event) error {
	ext, err := r.resolveMember(ev)
	if err != nil {
		return err
	}
	now := r.now()
	ring := ev.Int("RingTime", "Duration")
	uid := ev.UniqueID()
	seen := false
	err = r.tx(ctx, func(tx *gorm.DB) error {
		if uid != "" {
			var n int64
			if err := tx.Model(&models.MissedCall{}).
				Where("unique_id = ? AND extension = ?", uid, ext).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				seen = true
				return nil
			}
		}
		if err := r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			setStatus(a, models.AgentAvailable, now)
			a.TalkingTo = ""
			a.TalkingToName = ""
			a.MissedToday++
			return true
		}); err != nil {
			return err
		}
		return tx.Create(&models.MissedCall{
			Extension:   ext,
			AgentName:   r.snap.Current().ExtensionName(ext),
			QueueNumber: ev.Queue(),
			UniqueID:    uid,
			RingTime:    ring,
			MissedAt:    now,
		}).Error
	})
	if err != nil {
		return err
	}
	if seen {
		r.logger.Debug().Str("extension", ext).Str("uid", uid).Msg("ring no answer already recorded")
		return nil
	}
	r.logger.Info().Str("extension", ext).Int("ring", ring).Msg("agent ring no answer")
	return nil
}

func (r *Reconciler) onMemberStatus(ctx context.Context, ev normalize.Event) error {
	ext, err := r.resolveMember(ev)
	if err != nil {
		return err
	}
	now := r.now()
	paused := ev.Bool("Paused")
	status, ok := memberStatus[ev.Int("Status")]
	if !ok {
		status = models.AgentUnknown
	}
	if paused {
		status = models.AgentPaused
	}
	queue := ev.Queue()

	return r.tx(ctx, func(tx *gorm.DB) error {
		if err := r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			// Wrapup ends on the expiry pass, not on the phone going idle.
			if a.Status == models.AgentWrapup && status == models.AgentAvailable {
				return false
			}
			if a.Status == status {
				return false
			}
			setStatus(a, status, now)
			if paused {
				a.PauseReason = ev.Get("PausedReason", "Reason")
			} else {
				a.PauseReason = ""
			}
			return true
		}); err != nil {
			return err
		}
		if queue == "" || !r.snap.Current().QueueMonitored(queue) {
			return nil
		}
		m := models.QueueMembership{
			Extension:   ext,
			QueueNumber: queue,
			SignedIn:    status != models.AgentOffline,
			Paused:      paused,
			JoinedAt:    now,
			UpdatedAt:   now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "extension"}, {Name: "queue_number"}},
			DoUpdates: clause.AssignmentColumns([]string{"signed_in", "paused", "updated_at"}),
		}).Create(&m).Error
	})
}

func (r *Reconciler) onMemberAdded(ctx context.Context, ev normalize.Event) error {
	ext, err := r.resolveMember(ev)
	if err != nil {
		return err
	}
	queue := ev.Queue()
	if queue == "" {
		return unattributable("member added without queue")
	}
	now := r.now()
	paused := ev.Bool("Paused")
	err = r.tx(ctx, func(tx *gorm.DB) error {
		m := models.QueueMembership{
			Extension:   ext,
			QueueNumber: queue,
			SignedIn:    true,
			Paused:      paused,
			JoinedAt:    now,
			UpdatedAt:   now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
			return err
		}
		return r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			if a.Status != models.AgentUnknown {
				return false
			}
			if s, ok := memberStatus[ev.Int("Status")]; ok && s != models.AgentUnknown {
				setStatus(a, s, now)
			} else {
				setStatus(a, models.AgentAvailable, now)
			}
			if paused {
				setStatus(a, models.AgentPaused, now)
			}
			return true
		})
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("extension", ext).Str("queue", queue).Msg("member added to queue")
	return nil
}

func (r *Reconciler) onMemberRemoved(ctx context.Context, ev normalize.Event) error {
	ext, err := r.resolveMember(ev)
	if err != nil {
		return err
	}
	queue := ev.Queue()
	if queue == "" {
		return unattributable("member removed without queue")
	}
	err = r.db.WithContext(ctx).
		Where("extension = ? AND queue_number = ?", ext, queue).
		Delete(&models.QueueMembership{}).Error
	if err != nil {
		return err
	}
	r.logger.Info().Str("extension", ext).Str("queue", queue).Msg("member removed from queue")
	r.emit(publish.KindAgent, ext, "")
	return nil
}

func (r *Reconciler) onMemberPause(ctx context.Context, ev normalize.Event) error {
	ext, err := r.resolveMember(ev)
	if err != nil {
		return err
	}
	now := r.now()
	paused := ev.Bool("Paused")
	reason := ev.Get("PausedReason", "Reason")
	queue := ev.Queue()

	err = r.tx(ctx, func(tx *gorm.DB) error {
		if err := r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			if paused {
				if a.Status == models.AgentPaused && a.PauseReason == reason {
					return false
				}
				setStatus(a, models.AgentPaused, now)
				a.PauseReason = reason
				return true
			}
			if a.Status != models.AgentPaused && a.Status != models.AgentUnknown {
				return false
			}
			setStatus(a, models.AgentAvailable, now)
			a.PauseReason = ""
			return true
		}); err != nil {
			return err
		}
		if queue == "" {
			return nil
		}
		return tx.Model(&models.QueueMembership{}).
			Where("extension = ? AND queue_number = ?", ext, queue).
			Updates(map[string]interface{}{"paused": paused, "updated_at": now}).Error
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("extension", ext).Bool("paused", paused).Str("reason", reason).Msg("member pause changed")
	return nil
}

func (r *Reconciler) onDeviceState(ctx context.Context, ev normalize.Event) error {
	ext, err := r.resolveAgent(ev.Get("Device", "Exten"))
	if err != nil {
		return err
	}
	status := mapDeviceState(ev.Get("State", "StatusText"), ev.Get("Status"))
	if status == "" {
		return nil
	}
	now := r.now()
	return r.tx(ctx, func(tx *gorm.DB) error {
		return r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			if a.Status == models.AgentPaused || a.Status == models.AgentWrapup || a.Status == status {
				return false
			}
			setStatus(a, status, now)
			return true
		})
	})
}

func mapDeviceState(name, code string) string {
	if s, ok := deviceState[strings.ToUpper(strings.ReplaceAll(name, " ", "_"))]; ok {
		return s
	}
	if n, err := strconv.Atoi(code); err == nil {
		return extensionState[n]
	}
	if s, ok := deviceState[strings.ToUpper(code)]; ok {
		return s
	}
	return ""
}

var (
	agentChannel = regexp.MustCompile(`PJSIP/(\d{4})-`)
	dialChannel  = regexp.MustCompile(`PJSIP/(\d+)`)
	internalExt  = regexp.MustCompile(`^\d{4}$`)
)

// outboundTarget reports whether an agent is already tracking this outbound
// dial, so a repeated event leaves call_started_at alone.
func outboundTarget(a *models.AgentStatus, number string) bool {
	return a.CurrentCallType == models.CallOutbound && a.TalkingTo == number &&
		(a.Status == models.AgentRinging || a.Status == models.AgentOnCall)
}

// onNewchannel infers an outbound dial from an agent channel dialing an
// external number. The inference is approximate.
func (r *Reconciler) onNewchannel(ctx context.Context, ev normalize.Event) error {
	m := agentChannel.FindStringSubmatch(ev.Channel())
	if m == nil {
		return nil
	}
	ext := m[1]
	exten, dialContext := ev.Get("Exten"), ev.Get("Context")
	if exten == "" || (len(exten) < 7 && !strings.HasPrefix(exten, "+")) {
		return nil
	}
	if strings.Contains(dialContext, "queue") || !r.snap.Current().ExtensionMonitored(ext) {
		return nil
	}
	now := r.now()
	err := r.tx(ctx, func(tx *gorm.DB) error {
		return r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			if outboundTarget(a, exten) {
				return false
			}
			setStatus(a, models.AgentRinging, now)
			a.CurrentCallType = models.CallOutbound
			a.TalkingTo = exten
			a.TalkingToName = ""
			a.CallStartedAt = &now
			return true
		})
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("extension", ext).Str("dialed", exten).Msg("outbound dial detected")
	return nil
}

func (r *Reconciler) onDialBegin(ctx context.Context, ev normalize.Event) error {
	m := dialChannel.FindStringSubmatch(ev.Channel())
	if m == nil {
		return nil
	}
	ext := m[1]
	dialed := ev.Get("DestCallerIDNum", "DialString", "Exten")
	if dialed == "" || internalExt.MatchString(dialed) || strings.Contains(dialed, "Local/") {
		return nil
	}
	if !r.snap.Current().ExtensionMonitored(ext) {
		return nil
	}
	now, uid := r.now(), ev.UniqueID()
	err := r.tx(ctx, func(tx *gorm.DB) error {
		return r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			if outboundTarget(a, dialed) && a.CurrentCallID == uid {
				return false
			}
			if !outboundTarget(a, dialed) {
				a.CallStartedAt = &now
			}
			setStatus(a, models.AgentRinging, now)
			a.CurrentCallType = models.CallOutbound
			a.CurrentCallID = uid
			a.TalkingTo = dialed
			a.TalkingToName = ev.Get("DestCallerIDName")
			return true
		})
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("extension", ext).Str("dialed", dialed).Msg("outbound dial")
	return nil
}

func (r *Reconciler) onDialEnd(ctx context.Context, ev normalize.Event) error {
	m := dialChannel.FindStringSubmatch(ev.Channel())
	if m == nil {
		return nil
	}
	ext := m[1]
	if !r.snap.Current().ExtensionMonitored(ext) {
		return nil
	}
	answered := ev.Get("DialStatus") == "ANSWER"
	now := r.now()
	return r.tx(ctx, func(tx *gorm.DB) error {
		return r.updateAgent(tx, ext, func(a *models.AgentStatus) bool {
			if a.CurrentCallType != models.CallOutbound {
				return false
			}
			if answered {
				if a.Status == models.AgentOnCall {
					return false
				}
				setStatus(a, models.AgentOnCall, now)
				a.CallStartedAt = &now
				return true
			}
			setStatus(a, models.AgentAvailable, now)
			clearCall(a)
			return true
		})
	})
}

// ExpireWrapup returns agents whose wrapup period has elapsed to available
// and reports how many were released.
func (r *Reconciler) ExpireWrapup(ctx context.Context) (int, error) {
	wrapup := time.Duration(r.snap.Current().Company.WrapupTime) * time.Second
	if wrapup < 0 {
		wrapup = 0
	}
	now := r.now()
	r.changes = r.changes[:0]

	released := 0
	err := r.tx(ctx, func(tx *gorm.DB) error {
		var agents []models.AgentStatus
		if err := tx.Where("status = ?", models.AgentWrapup).Find(&agents).Error; err != nil {
			return err
		}
		for i := range agents {
			a := &agents[i]
			if now.Sub(a.StatusSince) < wrapup {
				continue
			}
			setStatus(a, models.AgentAvailable, now)
			if err := tx.Save(a).Error; err != nil {
				return err
			}
			released++
			r.emit(publish.KindAgent, a.Extension, a.Status)
		}
		return nil
	})
	if err != nil {
		return 0, &PersistenceError{Event: "WrapupExpiry", Err: err}
	}
	for _, c := range r.changes {
		c.Event = "WrapupExpiry"
		if err := r.pub.Publish(ctx, c); err != nil {
			r.logger.Warn().Err(err).Str("key", c.Key).Msg("publish state change")
		}
	}
	if released > 0 {
		r.logger.Info().Int("agents", released).Msg("wrapup expired")
	}
	return released, nil
}
