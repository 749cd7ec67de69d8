package ami

import "time"

// Backoff returns min(base*2^(attempt-1), cap). Attempts below 1 count as 1.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt-1 >= 32 {
		return cap
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}
