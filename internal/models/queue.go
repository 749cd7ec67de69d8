package models

// Queue is a call queue configured for monitoring. Only active queues are
// tracked.
type Queue struct {
	QueueNumber string `gorm:"primaryKey;size:32"`
	QueueName   string `gorm:"size:128"`
	DisplayName string `gorm:"size:128"`
	IsActive    bool   `gorm:"index"`
}

// Label returns the display name, falling back to the queue name and number.
func (q Queue) Label() string {
	switch {
	case q.DisplayName != "":
		return q.DisplayName
	case q.QueueName != "":
		return q.QueueName
	}
	return q.QueueNumber
}

// Extension is an agent phone line configured for monitoring.
type Extension struct {
	Extension   string `gorm:"primaryKey;size:16"`
	DisplayName string `gorm:"size:128"`
	IsActive    bool   `gorm:"index"`
}
