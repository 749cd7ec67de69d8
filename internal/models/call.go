package models

import "time"

// Call directions.
const (
	CallInbound  = "inbound"
	CallOutbound = "outbound"
)

// Call statuses. Transitions move forward only: waiting to answered to
// completed, or waiting to abandoned.
const (
	CallWaiting   = "waiting"
	CallAnswered  = "answered"
	CallCompleted = "completed"
	CallAbandoned = "abandoned"
)

// Call represents one telephone interaction, keyed by the PBX unique id.
// WaitTime is written once, when the call is answered or abandoned.
// TalkTime is written once, at completion.
type Call struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	UniqueID       string `gorm:"size:64;not null;uniqueIndex"`
	CallType       string `gorm:"size:16;not null"`
	CallerNumber   string `gorm:"size:64;index"`
	CallerName     string `gorm:"size:128"`
	QueueNumber    string `gorm:"size:32;index"`
	AgentExtension string `gorm:"size:16;index"`
	AgentName      string `gorm:"size:128"`
	Status         string `gorm:"size:16;not null;index"`
	WaitTime       *int
	TalkTime       *int
	EnteredQueueAt *time.Time
	AnsweredAt     *time.Time
	EndedAt        *time.Time `gorm:"index"`
	CreatedAt      time.Time  `gorm:"index"`
	UpdatedAt      time.Time
}

var callRank = map[string]int{
	CallWaiting:   0,
	CallAnswered:  1,
	CallCompleted: 2,
	CallAbandoned: 2,
}

// CanAdvance reports whether a call in status from may move to status to.
// Re-applying the current status is allowed so that duplicated events
// converge. Terminal statuses never change.
func CanAdvance(from, to string) bool {
	if from == "" || from == to {
		return true
	}
	if IsTerminal(from) {
		return false
	}
	if to == CallAbandoned {
		return from == CallWaiting
	}
	fr, ok1 := callRank[from]
	tr, ok2 := callRank[to]
	return ok1 && ok2 && tr > fr
}

// IsTerminal reports whether status is completed or abandoned.
func IsTerminal(status string) bool {
	return status == CallCompleted || status == CallAbandoned
}
