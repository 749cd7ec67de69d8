package stats

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron reports whether expr is a valid 5-field cron expression.
func ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// Schedule tracks the next fire time of a cron expression for a polling
// loop: the caller asks Due on every iteration instead of sleeping.
type Schedule struct {
	expr  string
	sched cron.Schedule
	next  time.Time
}

// NewSchedule parses expr and arms it for the first fire time after now.
func NewSchedule(expr string, now time.Time) (*Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("stats: schedule %q: %w", expr, err)
	}
	return &Schedule{expr: expr, sched: sched, next: sched.Next(now)}, nil
}

// Due reports whether the fire time has passed and, if so, re-arms the
// schedule for the next one after now. Missed fire times collapse into one.
func (s *Schedule) Due(now time.Time) bool {
	if now.Before(s.next) {
		return false
	}
	s.next = s.sched.Next(now)
	return true
}

// Next returns the next fire time.
func (s *Schedule) Next() time.Time { return s.next }

// String returns the cron expression.
func (s *Schedule) String() string { return s.expr }
