package data

import "time"

// TimeProvider is the clock seam shared by the job stores and the janitor.
// Production code uses RealTimeProvider; tests substitute a FixedTimeProvider
// to exercise TTL expiry and timestamp stamping deterministically.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider returns a caller-controlled instant.
type FixedTimeProvider struct {
	current time.Time
}

// NewFixedTimeProvider pins the clock at t.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{current: t}
}

func (f *FixedTimeProvider) Now() time.Time {
	return f.current
}

// SetTime moves the clock to an absolute instant.
func (f *FixedTimeProvider) SetTime(t time.Time) {
	f.current = t
}

// AddTime advances the clock by d.
func (f *FixedTimeProvider) AddTime(d time.Duration) {
	f.current = f.current.Add(d)
}
