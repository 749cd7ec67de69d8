// Package health evaluates daemon health from the outside (pid file, log
// activity, database reachability) and from the inside (session state).
package health

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/daemon"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/db"
	"gorm.io/gorm"
)

// Check statuses.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// Result is the outcome of one probe.
type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report aggregates all probes. Healthy is false if any probe failed;
// warnings do not make the report unhealthy.
type Report struct {
	Healthy   bool      `json:"healthy"`
	Checks    []Result  `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Session exposes the live supervisor to the in-process probe.
type Session interface {
	State() string
	LastActivity() time.Time
}

// Options selects which probes run. Empty fields skip their probe.
type Options struct {
	PIDFile    string
	LogFile    string
	StaleAfter time.Duration
	DB         *gorm.DB
	Session    Session
	Now        func() time.Time
}

// Check runs every configured probe.
func Check(ctx context.Context, opts Options) Report {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 120 * time.Second
	}
	now := opts.Now()

	var results []Result
	if opts.PIDFile != "" {
		results = append(results, checkProcess(opts.PIDFile))
	}
	if opts.LogFile != "" {
		results = append(results, checkLog(opts.LogFile, opts.StaleAfter, now))
	}
	if opts.DB != nil {
		results = append(results, checkDB(ctx, opts.DB))
	}
	if opts.Session != nil {
		results = append(results, checkSession(opts.Session, opts.StaleAfter, now))
	}

	rep := Report{Healthy: true, Checks: results, CheckedAt: now}
	for _, r := range results {
		if r.Status == StatusFail {
			rep.Healthy = false
		}
	}
	return rep
}

func checkProcess(pidFile string) Result {
	r := Result{Name: "process"}
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		r.Status = StatusFail
		r.Detail = err.Error()
		return r
	}
	if !daemon.IsRunning(pid) {
		r.Status = StatusFail
		r.Detail = fmt.Sprintf("pid %d is not running (stale pid file)", pid)
		return r
	}
	r.Status = StatusOK
	r.Detail = fmt.Sprintf("pid %d", pid)
	return r
}

// checkLog uses the log file's modification time as the activity signal.
func checkLog(path string, staleAfter time.Duration, now time.Time) Result {
	r := Result{Name: "log"}
	fi, err := os.Stat(path)
	if err != nil {
		r.Status = StatusWarn
		r.Detail = err.Error()
		return r
	}
	age := now.Sub(fi.ModTime())
	if age > staleAfter {
		r.Status = StatusWarn
		r.Detail = fmt.Sprintf("last write %s ago", age.Round(time.Second))
		return r
	}
	r.Status = StatusOK
	r.Detail = fmt.Sprintf("last write %s ago", age.Round(time.Second))
	return r
}

func checkDB(ctx context.Context, gdb *gorm.DB) Result {
	r := Result{Name: "database"}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx, gdb); err != nil {
		r.Status = StatusFail
		r.Detail = err.Error()
		return r
	}
	r.Status = StatusOK
	return r
}

func checkSession(s Session, staleAfter time.Duration, now time.Time) Result {
	r := Result{Name: "ami"}
	state := s.State()
	last := s.LastActivity()
	switch {
	case state != daemon.StateStreaming:
		r.Status = StatusWarn
		r.Detail = "state " + state
	case !last.IsZero() && now.Sub(last) > staleAfter:
		r.Status = StatusWarn
		r.Detail = fmt.Sprintf("no traffic for %s", now.Sub(last).Round(time.Second))
	default:
		r.Status = StatusOK
		r.Detail = "state " + state
	}
	return r
}

// Format renders a report for the terminal.
func Format(rep Report) string {
	var b strings.Builder
	overall := "HEALTHY"
	if !rep.Healthy {
		overall = "UNHEALTHY"
	}
	fmt.Fprintf(&b, "Wallboard daemon: %s\n", overall)
	for _, r := range rep.Checks {
		line := fmt.Sprintf("  %-9s %-4s", r.Name, strings.ToUpper(r.Status))
		if r.Detail != "" {
			line += "  " + r.Detail
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	return b.String()
}
