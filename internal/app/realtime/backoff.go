package realtime

import "time"

// Backoff is min(Base * 2^attempt, Max) with at most MaxAttempts retries.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

var DefaultBackoff = Backoff{
	Base:        time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 5,
}

func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for range attempt {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return min(d, b.Max)
}

// Retry reports whether another attempt is allowed after attempt failures.
func (b Backoff) Retry(attempt int) bool {
	return attempt < b.MaxAttempts
}

type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Tests replace it with a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
