package models

import "time"

// QueueStatsRealtime is the live per-queue summary shown on the wallboard.
type QueueStatsRealtime struct {
	QueueNumber     string `gorm:"primaryKey;size:32"`
	QueueName       string `gorm:"size:128"`
	CallsWaiting    int
	AgentsAvailable int
	TotalAgents     int
	CallsToday      int
	AnsweredToday   int
	AbandonedToday  int
	SLAPercentToday float64 `gorm:"column:sla_percent_today"`
	AvgWaitToday    float64
	AvgTalkToday    float64
	UpdatedAt       time.Time
}

// TableName keeps the realtime table singular.
func (QueueStatsRealtime) TableName() string { return "queue_stats_realtime" }

// DailyStats is one queue's totals for one calendar day.
type DailyStats struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	StatDate       string `gorm:"size:10;not null;uniqueIndex:idx_daily_queue"`
	QueueNumber    string `gorm:"size:32;not null;uniqueIndex:idx_daily_queue"`
	TotalCalls     int
	AnsweredCalls  int
	AbandonedCalls int
	SLAPercent     float64 `gorm:"column:sla_percent"`
	AvgWaitTime    float64
	MaxWaitTime    int
	AvgTalkTime    float64
	TotalTalkTime  int
	UpdatedAt      time.Time
}

// MissedCall records a ring-no-answer against an agent.
type MissedCall struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Extension   string `gorm:"size:16;not null;index"`
	AgentName   string `gorm:"size:128"`
	QueueNumber string `gorm:"size:32"`
	UniqueID    string `gorm:"size:64;index"`
	RingTime    int
	MissedAt    time.Time `gorm:"index"`
}

// RepeatCaller counts how often a number has called in.
type RepeatCaller struct {
	CallerNumber string `gorm:"primaryKey;size:64"`
	CallerName   string `gorm:"size:128"`
	CallCount    int
	FirstCallAt  time.Time
	LastCallAt   time.Time
	LastQueue    string `gorm:"size:32"`
}
