package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/publish"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/snapshot"
)

func TestHandle_UnknownEventTolerated(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if err := f.handle("Event", "ConfbridgeTalking", "Conference", "7000"); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	if err := f.handle("Event", "VarSet", "Variable", "X"); err != nil {
		t.Fatalf("Handle noise: %v", err)
	}

	if got := f.rec.Counts()["ConfbridgeTalking"]; got != 3 {
		t.Errorf("Counts[ConfbridgeTalking] = %d, want 3", got)
	}
	unknown := f.rec.UnknownTypes()
	if len(unknown) != 1 || unknown[0] != "ConfbridgeTalking" {
		t.Errorf("UnknownTypes() = %v, want [ConfbridgeTalking]", unknown)
	}
}

func TestHandle_EmptyTypeIgnored(t *testing.T) {
	f := newFixture(t)
	if err := f.handle("Response", "Success"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(f.rec.Counts()) != 0 {
		t.Errorf("Counts() = %v, want empty", f.rec.Counts())
	}
}

func TestHandle_PersistenceErrorDoesNotStopStream(t *testing.T) {
	f := newFixture(t)
	if err := f.db.Migrator().DropTable(&models.Call{}); err != nil {
		t.Fatal(err)
	}

	err := f.handle(join("1700000004.1", "5551234567")...)
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if perr.Event != "QueueCallerJoin" || perr.Key != "1700000004.1" {
		t.Errorf("PersistenceError = %+v", perr)
	}

	f.mustHandle("Event", "QueueMemberStatus", "Interface", "PJSIP/1001", "Status", "1")
	if got := f.agent("1001").Status; got != models.AgentAvailable {
		t.Errorf("Status = %q, want available after earlier failure", got)
	}
}

type panicPublisher struct{}

func (panicPublisher) Publish(context.Context, publish.Change) error { panic("subscriber exploded") }

func TestHandle_RecoversPanic(t *testing.T) {
	f := newFixture(t)
	snap := snapshot.Empty()
	snap.Queues["1293"] = models.Queue{QueueNumber: "1293", IsActive: true}
	rec := New(Options{DB: f.db, Snapshot: snapshot.Static{Snap: snap}, Publisher: panicPublisher{}, Logger: zerolog.Nop()})

	err := rec.Handle(context.Background(), event(join("1700000004.2", "5551234567")...))
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("err = %v, want recovered panic", err)
	}
	if err := rec.Handle(context.Background(), event("Event", "QueueEntry", "Queue", "1293")); err != nil {
		t.Errorf("Handle after panic: %v", err)
	}
}
