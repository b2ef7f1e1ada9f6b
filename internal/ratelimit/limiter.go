// Package ratelimit throttles traffic to the upstream clinic API.
//
// Beyond plain per-minute and per-hour request caps, the limiter watches
// token refresh events: several refreshes inside a short window mean another
// system sharing the same upstream account is invalidating our session, and
// continuing to hammer the login endpoint only makes the fight worse. When
// that happens the limiter enters conflict mode and rejects requests until
// the window has cooled off.
package ratelimit

import (
	"sync"
	"time"

	"clinic-api/internal/common/errors"
	"clinic-api/internal/common/logging"
)

// Config holds the limiter thresholds.
type Config struct {
	MaxRequestsPerMinute       int           `json:"max_requests_per_minute"`
	MaxRequestsPerHour         int           `json:"max_requests_per_hour"`
	ConflictDetectionWindow    time.Duration `json:"conflict_detection_window"`
	ConflictThresholdRefreshes int           `json:"conflict_threshold_refreshes"`
}

// DefaultConfig returns the thresholds tuned for the clinic upstream.
func DefaultConfig() *Config {
	return &Config{
		MaxRequestsPerMinute:       10,
		MaxRequestsPerHour:         100,
		ConflictDetectionWindow:    5 * time.Minute,
		ConflictThresholdRefreshes: 3,
	}
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	WaitTimeSeconds int    `json:"waitTimeSeconds,omitempty"`
}

// Status is a side-effect-free snapshot for the stats endpoint.
type Status struct {
	RequestsLastMinute int       `json:"requestsLastMinute"`
	RequestsLastHour   int       `json:"requestsLastHour"`
	RefreshesInWindow  int       `json:"refreshesInWindow"`
	ConflictMode       bool      `json:"conflictMode"`
	ConflictStart      time.Time `json:"conflictStart,omitempty"`
}

// Limiter tracks recent request and token refresh timestamps in memory.
// All methods are safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	config *Config
	logger logging.Logger
	now    func() time.Time

	requests      []time.Time
	refreshes     []time.Time
	conflictMode  bool
	conflictStart time.Time
}

// NewLimiter creates a limiter. A nil config uses DefaultConfig.
func NewLimiter(config *Config, logger logging.Logger) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Limiter{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// CanMakeRequest decides whether one more upstream request may go out now.
// Per-minute pressure is reported before per-hour pressure so callers see the
// shortest wait first.
func (l *Limiter) CanMakeRequest() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if l.countSince(now.Add(-time.Minute)) >= l.config.MaxRequestsPerMinute {
		return Decision{
			Allowed:         false,
			Reason:          "per-minute request limit reached",
			WaitTimeSeconds: 60,
		}
	}

	if len(l.requests) >= l.config.MaxRequestsPerHour {
		return Decision{
			Allowed:         false,
			Reason:          "per-hour request limit reached",
			WaitTimeSeconds: 3600,
		}
	}

	if l.conflictMode {
		elapsed := now.Sub(l.conflictStart)
		if elapsed < l.config.ConflictDetectionWindow {
			remaining := int((l.config.ConflictDetectionWindow - elapsed).Seconds())
			wait := remaining
			if wait < 30 {
				wait = 30
			}
			return Decision{
				Allowed:         false,
				Reason:          "token conflict detected, backing off",
				WaitTimeSeconds: wait,
			}
		}

		l.conflictMode = false
		l.logger.Info("token conflict window elapsed, resuming requests")
	}

	return Decision{Allowed: true}
}

// RecordRequest registers an outgoing upstream request.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	l.requests = append(l.requests, now)
}

// RecordTokenRefresh registers a token refresh event. Crossing the refresh
// threshold inside the detection window activates conflict mode.
func (l *Limiter) RecordTokenRefresh() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refreshes = append(l.refreshes, now)

	windowStart := now.Add(-l.config.ConflictDetectionWindow)
	recent := 0
	for _, ts := range l.refreshes {
		if ts.After(windowStart) {
			recent++
		}
	}

	// Drop refreshes that can no longer influence detection
	for len(l.refreshes) > 0 && !l.refreshes[0].After(windowStart) {
		l.refreshes = l.refreshes[1:]
	}

	if recent >= l.config.ConflictThresholdRefreshes && !l.conflictMode {
		l.conflictMode = true
		l.conflictStart = now
		l.logger.Warn("repeated token refreshes detected, entering conflict mode",
			logging.Int("refreshes_in_window", recent))
	}
}

// GetStatus returns current rolling counts and the conflict flag without
// mutating limiter state.
func (l *Limiter) GetStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	status := Status{
		ConflictMode: l.conflictMode,
	}
	if l.conflictMode {
		status.ConflictStart = l.conflictStart
	}

	minuteStart := now.Add(-time.Minute)
	hourStart := now.Add(-time.Hour)
	for _, ts := range l.requests {
		if ts.After(hourStart) {
			status.RequestsLastHour++
			if ts.After(minuteStart) {
				status.RequestsLastMinute++
			}
		}
	}

	windowStart := now.Add(-l.config.ConflictDetectionWindow)
	for _, ts := range l.refreshes {
		if ts.After(windowStart) {
			status.RefreshesInWindow++
		}
	}

	return status
}

// Err converts a rejection into the service error carrying the caller-facing
// wait hint. Returns nil for allowed decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errors.RateLimitError(d.Reason, d.WaitTimeSeconds)
}

// prune discards request history older than one hour. Caller must hold mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	idx := 0
	for idx < len(l.requests) && !l.requests[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.requests = append([]time.Time(nil), l.requests[idx:]...)
	}
}

// countSince counts requests recorded after the given instant. Caller must
// hold mu.
func (l *Limiter) countSince(since time.Time) int {
	count := 0
	for _, ts := range l.requests {
		if ts.After(since) {
			count++
		}
	}
	return count
}
