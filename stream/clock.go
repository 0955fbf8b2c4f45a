package stream

import "time"

// TimeProvider is an interface for getting the current time and creating
// tickers. It allows injecting a mock provider for deterministic tests.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker creates a ticker that fires at the given interval.
	NewTicker(d time.Duration) *time.Ticker
	// NewTimer creates a timer that fires after the given duration.
	NewTimer(d time.Duration) *time.Timer
}

// RealTimeProvider implements TimeProvider using the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// NewTicker creates a ticker using the standard library.
func (RealTimeProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// NewTimer creates a timer using the standard library.
func (RealTimeProvider) NewTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}

// microseconds returns tp's current UTC time in microseconds, the unit
// the wire timestamps use.
func microseconds(tp TimeProvider) int64 {
	return tp.Now().UTC().UnixMicro()
}

// timeProviderOrDefault returns tp when non-nil, the real clock
// otherwise.
func timeProviderOrDefault(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}
