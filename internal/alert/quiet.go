package alert

import (
	"strconv"
	"strings"
	"time"

	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
)

// InQuietHours reports whether now falls inside the company's quiet-hours
// window, evaluated in the company timezone. Windows whose start is after
// their end wrap midnight. Equal start and end, or an unparseable bound,
// never suppress.
func InQuietHours(c models.CompanyConfig, now time.Time) bool {
	if !c.QuietHoursEnabled {
		return false
	}
	start, ok1 := parseClock(c.QuietHoursStart)
	end, ok2 := parseClock(c.QuietHoursEnd)
	if !ok1 || !ok2 || start == end {
		return false
	}
	loc := time.UTC
	if c.Timezone != "" {
		if l, err := time.LoadLocation(c.Timezone); err == nil {
			loc = l
		}
	}
	t := now.In(loc)
	cur := t.Hour()*3600 + t.Minute()*60 + t.Second()
	if start > end {
		return cur >= start || cur < end
	}
	return cur >= start && cur < end
}

// parseClock turns "HH:MM" or "HH:MM:SS" into seconds since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, false
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return total, true
}
