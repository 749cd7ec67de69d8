package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestCall_Fields(t *testing.T) {
	typ := reflect.TypeOf(Call{})

	assertGormTag(t, typ, "UniqueID", "uniqueIndex")
	assertGormTag(t, typ, "UniqueID", "not null")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "QueueNumber", "index")
	assertFieldType(t, typ, "WaitTime", "*int")
	assertFieldType(t, typ, "TalkTime", "*int")
	assertFieldType(t, typ, "AnsweredAt", "*time.Time")
	assertFieldType(t, typ, "EndedAt", "*time.Time")
}

func TestAgentStatus_Fields(t *testing.T) {
	typ := reflect.TypeOf(AgentStatus{})

	assertGormTag(t, typ, "Extension", "primaryKey")
	assertGormTag(t, typ, "Status", "index")
	assertFieldType(t, typ, "CallStartedAt", "*time.Time")
	assertFieldType(t, typ, "StatusSince", "time.Time")

	if got := (AgentStatus{}).TableName(); got != "agent_status" {
		t.Errorf("TableName() = %q, want agent_status", got)
	}
}

func TestQueueMembership_CompositeUnique(t *testing.T) {
	typ := reflect.TypeOf(QueueMembership{})

	assertGormTag(t, typ, "Extension", "uniqueIndex:idx_member_queue")
	assertGormTag(t, typ, "QueueNumber", "uniqueIndex:idx_member_queue")
}

func TestActiveAlert_Fields(t *testing.T) {
	typ := reflect.TypeOf(ActiveAlert{})

	assertGormTag(t, typ, "AlertRuleID", "index")
	assertFieldType(t, typ, "ResolvedAt", "*time.Time")
	assertFieldType(t, typ, "AcknowledgedAt", "*time.Time")
}

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{"", CallWaiting, true},
		{CallWaiting, CallWaiting, true},
		{CallWaiting, CallAnswered, true},
		{CallWaiting, CallAbandoned, true},
		{CallWaiting, CallCompleted, true},
		{CallAnswered, CallCompleted, true},
		{CallAnswered, CallAnswered, true},
		{CallAnswered, CallWaiting, false},
		{CallAnswered, CallAbandoned, false},
		{CallCompleted, CallAbandoned, false},
		{CallCompleted, CallWaiting, false},
		{CallAbandoned, CallCompleted, false},
		{CallAbandoned, CallAnswered, false},
		{CallAbandoned, CallWaiting, false},
		{CallWaiting, "bogus", false},
	}
	for _, tt := range tests {
		if got := CanAdvance(tt.from, tt.to); got != tt.want {
			t.Errorf("CanAdvance(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestQueueLabel(t *testing.T) {
	tests := []struct {
		q    Queue
		want string
	}{
		{Queue{QueueNumber: "1293", DisplayName: "Support", QueueName: "support"}, "Support"},
		{Queue{QueueNumber: "1293", QueueName: "support"}, "support"},
		{Queue{QueueNumber: "1293"}, "1293"},
	}
	for _, tt := range tests {
		if got := tt.q.Label(); got != tt.want {
			t.Errorf("Label() = %q, want %q", got, tt.want)
		}
	}
}
