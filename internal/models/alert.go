package models

import "time"

// AlertRule is a threshold condition configured by an operator.
type AlertRule struct {
	ID              uint    `gorm:"primaryKey;autoIncrement"`
	Name            string  `gorm:"size:128"`
	AlertType       string  `gorm:"size:32;not null;index"`
	Threshold       float64 `gorm:"not null"`
	CooldownMinutes int
	Severity        string `gorm:"size:16"`
	IsEnabled       bool   `gorm:"index"`
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

// ActiveAlert is one triggered instance of a rule. At most one unresolved
// alert exists per rule.
type ActiveAlert struct {
	ID             uint    `gorm:"primaryKey;autoIncrement"`
	AlertRuleID    uint    `gorm:"not null;index"`
	AlertType      string  `gorm:"size:32"`
	QueueNumber    string  `gorm:"size:32"`
	CurrentValue   float64
	Threshold      float64
	Message        string `gorm:"type:text"`
	Severity       string `gorm:"size:16"`
	IsActive       bool   `gorm:"index"`
	TriggeredAt    time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy string `gorm:"size:64"`
	ResolvedAt     *time.Time `gorm:"index"`
}

// AlertHistory is the audit log of triggered alerts.
type AlertHistory struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	AlertType    string `gorm:"size:32;index"`
	AlertMessage string `gorm:"type:text"`
	AlertData    string `gorm:"type:text"`
	SentVia      string `gorm:"size:128"`
	CreatedAt    time.Time
}

// TableName keeps the history table singular.
func (AlertHistory) TableName() string { return "alert_history" }
