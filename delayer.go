package pacer

import "time"

// Delayer describes the minimum spacing between two dispatched jobs.
type Delayer interface {
	Delay() time.Duration
}

// PerSec spaces jobs so that at most n start every second.
type PerSec int

// PerMin spaces jobs so that at most n start every minute.
type PerMin int

// PerHour spaces jobs so that at most n start every hour.
type PerHour int

// PerDay spaces jobs so that at most n start every day.
type PerDay int

func (n PerSec) Delay() time.Duration  { return spacing(int(n), time.Second) }
func (n PerMin) Delay() time.Duration  { return spacing(int(n), time.Minute) }
func (n PerHour) Delay() time.Duration { return spacing(int(n), time.Hour) }
func (n PerDay) Delay() time.Duration  { return spacing(int(n), 24*time.Hour) }

// spacing splits unit evenly between n jobs. Non-positive n means no
// spacing at all.
func spacing(n int, unit time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return unit / time.Duration(n)
}

// Delay is a fixed interval, e.g. Delay(1500 * time.Millisecond).
type Delay time.Duration

func (d Delay) Delay() time.Duration {
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}
