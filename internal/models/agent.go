package models

import "time"

// Agent statuses.
const (
	AgentAvailable = "available"
	AgentRinging   = "ringing"
	AgentOnCall    = "on_call"
	AgentWrapup    = "wrapup"
	AgentPaused    = "paused"
	AgentOffline   = "offline"
	AgentUnknown   = "unknown"
)

// AgentStatus is the live phone and queue state of one monitored extension.
type AgentStatus struct {
	Extension       string `gorm:"primaryKey;size:16"`
	AgentName       string `gorm:"size:128"`
	Status          string `gorm:"size:16;not null;index"`
	StatusSince     time.Time
	PauseReason     string `gorm:"size:128"`
	CurrentCallID   string `gorm:"size:64"`
	CurrentCallType string `gorm:"size:16"`
	TalkingTo       string `gorm:"size:64"`
	TalkingToName   string `gorm:"size:128"`
	CallStartedAt   *time.Time
	CallsToday      int
	TalkTimeToday   int
	MissedToday     int
	AvgHandleTime   int
	UpdatedAt       time.Time
}

// TableName keeps the singular table name the wallboard UI reads.
func (AgentStatus) TableName() string { return "agent_status" }

// QueueMembership links an extension to a queue.
type QueueMembership struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Extension   string `gorm:"size:16;not null;uniqueIndex:idx_member_queue"`
	QueueNumber string `gorm:"size:32;not null;uniqueIndex:idx_member_queue"`
	SignedIn    bool
	Paused      bool
	JoinedAt    time.Time
	UpdatedAt   time.Time
}

// TableName matches the membership table used by the admin screens.
func (QueueMembership) TableName() string { return "agent_queue_membership" }
