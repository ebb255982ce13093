package gate

import "time"

const (
	baseWait = time.Second
	maxWait  = 30 * time.Second
)

// LockoutState tracks consecutive wrong PINs. The zero value is unlocked.
type LockoutState struct {
	ConsecutiveFailures int
	LockedUntil         time.Time
}

// Locked reports whether submissions are ignored at now.
func (s LockoutState) Locked(now time.Time) bool {
	return now.Before(s.LockedUntil)
}

// Remaining returns how long the lockout still lasts at now.
func (s LockoutState) Remaining(now time.Time) time.Duration {
	if !s.Locked(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// LockoutWait returns the wait imposed after the n-th consecutive failure:
// 2^n seconds, capped at 30 seconds.
func LockoutWait(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	if failures >= 5 {
		return maxWait
	}
	wait := baseWait << failures
	if wait > maxWait {
		return maxWait
	}
	return wait
}
