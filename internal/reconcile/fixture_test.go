package reconcile

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/ami"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/db/dbtest"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/normalize"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/publish"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/snapshot"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []publish.Change
}

func (p *recordingPublisher) Publish(_ context.Context, c publish.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

type fixture struct {
	t   *testing.T
	db  *gorm.DB
	rec *Reconciler
	pub *recordingPublisher
	now time.Time
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	snap := snapshot.Empty()
	snap.Queues["1293"] = models.Queue{QueueNumber: "1293", DisplayName: "Support", IsActive: true}
	snap.Extensions["1001"] = models.Extension{Extension: "1001", DisplayName: "Alice", IsActive: true}
	snap.Extensions["1002"] = models.Extension{Extension: "1002", DisplayName: "Bob", IsActive: true}
	snap.Company.WrapupTime = 30

	f := &fixture{t: t, db: dbtest.Open(t), pub: &recordingPublisher{}, now: t0}
	f.rec = New(Options{
		DB:        f.db,
		Snapshot:  snapshot.Static{Snap: snap},
		Publisher: f.pub,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return f.now },
	})
	return f
}

func event(fields ...string) normalize.Event {
	var m ami.Message
	for i := 0; i+1 < len(fields); i += 2 {
		m.Fields = append(m.Fields, ami.Field{Key: fields[i], Value: fields[i+1]})
	}
	return normalize.FromMessage(m, time.Time{})
}

func (f *fixture) handle(fields ...string) error {
	return f.rec.Handle(context.Background(), event(fields...))
}

func (f *fixture) mustHandle(fields ...string) {
	f.t.Helper()
	if err := f.handle(fields...); err != nil {
		f.t.Fatalf("Handle(%v): %v", fields, err)
	}
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) call(uid string) models.Call {
	f.t.Helper()
	var c models.Call
	if err := f.db.Where("unique_id = ?", uid).First(&c).Error; err != nil {
		f.t.Fatalf("load call %s: %v", uid, err)
	}
	return c
}

func (f *fixture) agent(ext string) models.AgentStatus {
	f.t.Helper()
	var a models.AgentStatus
	if err := f.db.Where("extension = ?", ext).First(&a).Error; err != nil {
		f.t.Fatalf("load agent %s: %v", ext, err)
	}
	return a
}

func (f *fixture) queueStats(queue string) models.QueueStatsRealtime {
	f.t.Helper()
	var s models.QueueStatsRealtime
	if err := f.db.Where("queue_number = ?", queue).First(&s).Error; err != nil {
		f.t.Fatalf("load queue stats %s: %v", queue, err)
	}
	return s
}

func join(uid, caller string) []string {
	return []string{
		"Event", "QueueCallerJoin",
		"Queue", "1293",
		"Uniqueid", uid,
		"CallerIDNum", caller,
		"CallerIDName", "Jane Caller",
		"Position", "1",
	}
}

func connect(ext, uid string, hold int) []string {
	return []string{
		"Event", "AgentConnect",
		"Queue", "1293",
		"MemberName", "Alice",
		"Interface", "PJSIP/" + ext,
		"Uniqueid", uid,
		"CallerIDNum", "5551234567",
		"CallerIDName", "Jane Caller",
		"HoldTime", strconv.Itoa(hold),
		"RingTime", "4",
	}
}

func complete(ext, uid string, talk int) []string {
	return []string{
		"Event", "AgentComplete",
		"Queue", "1293",
		"Interface", "PJSIP/" + ext,
		"Uniqueid", uid,
		"TalkTime", strconv.Itoa(talk),
		"HoldTime", "10",
		"Reason", "agent",
	}
}

func abandon(uid string, hold int) []string {
	return []string{
		"Event", "QueueCallerAbandon",
		"Queue", "1293",
		"Uniqueid", uid,
		"HoldTime", strconv.Itoa(hold),
		"Position", "1",
		"OriginalPosition", "1",
	}
}
