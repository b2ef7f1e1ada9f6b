package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-api/internal/common/errors"
)

// testLimiter returns a limiter with a controllable clock.
func testLimiter(config *Config) (*Limiter, *time.Time) {
	limiter := NewLimiter(config, nil)
	current := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }
	return limiter, &current
}

func TestCanMakeRequestAllowsByDefault(t *testing.T) {
	limiter, _ := testLimiter(nil)

	decision := limiter.CanMakeRequest()
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
	assert.NoError(t, decision.Err())
}

func TestPerMinuteLimit(t *testing.T) {
	limiter, clock := testLimiter(nil)

	for i := 0; i < 10; i++ {
		limiter.RecordRequest()
	}

	decision := limiter.CanMakeRequest()
	assert.False(t, decision.Allowed)
	assert.Equal(t, "per-minute request limit reached", decision.Reason)
	assert.Equal(t, 60, decision.WaitTimeSeconds)

	err := decision.Err()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	assert.Equal(t, 60, errors.WaitSeconds(err))

	// A minute later the burst has aged out of the window
	*clock = clock.Add(61 * time.Second)
	assert.True(t, limiter.CanMakeRequest().Allowed)
}

func TestPerHourLimit(t *testing.T) {
	limiter, clock := testLimiter(nil)

	// Spread 100 requests so no single minute trips the per-minute cap
	for i := 0; i < 100; i++ {
		limiter.RecordRequest()
		*clock = clock.Add(20 * time.Second)
	}

	decision := limiter.CanMakeRequest()
	assert.False(t, decision.Allowed)
	assert.Equal(t, "per-hour request limit reached", decision.Reason)
	assert.Equal(t, 3600, decision.WaitTimeSeconds)
}

func TestPerMinuteCheckedBeforePerHour(t *testing.T) {
	config := DefaultConfig()
	config.MaxRequestsPerHour = 10
	limiter, _ := testLimiter(config)

	// Both limits are saturated; the per-minute reason must win
	for i := 0; i < 10; i++ {
		limiter.RecordRequest()
	}

	decision := limiter.CanMakeRequest()
	assert.False(t, decision.Allowed)
	assert.Equal(t, "per-minute request limit reached", decision.Reason)
	assert.Equal(t, 60, decision.WaitTimeSeconds)
}

func TestHistoryPrunedAfterAnHour(t *testing.T) {
	limiter, clock := testLimiter(nil)

	for i := 0; i < 10; i++ {
		limiter.RecordRequest()
	}

	*clock = clock.Add(61 * time.Minute)
	assert.True(t, limiter.CanMakeRequest().Allowed)

	status := limiter.GetStatus()
	assert.Equal(t, 0, status.RequestsLastHour)
}

func TestConflictMode(t *testing.T) {
	limiter, clock := testLimiter(nil)

	t.Run("two refreshes stay below the threshold", func(t *testing.T) {
		limiter.RecordTokenRefresh()
		limiter.RecordTokenRefresh()
		assert.True(t, limiter.CanMakeRequest().Allowed)
		assert.False(t, limiter.GetStatus().ConflictMode)
	})

	t.Run("third refresh in the window activates conflict mode", func(t *testing.T) {
		limiter.RecordTokenRefresh()

		decision := limiter.CanMakeRequest()
		assert.False(t, decision.Allowed)
		assert.Equal(t, "token conflict detected, backing off", decision.Reason)
		assert.True(t, limiter.GetStatus().ConflictMode)
	})

	t.Run("wait hint tracks the remaining window", func(t *testing.T) {
		*clock = clock.Add(2 * time.Minute)
		decision := limiter.CanMakeRequest()
		assert.False(t, decision.Allowed)
		assert.Equal(t, 180, decision.WaitTimeSeconds)
	})

	t.Run("wait hint never drops below 30 seconds", func(t *testing.T) {
		*clock = clock.Add(2*time.Minute + 50*time.Second)
		decision := limiter.CanMakeRequest()
		assert.False(t, decision.Allowed)
		assert.Equal(t, 30, decision.WaitTimeSeconds)
	})

	t.Run("window elapse exits conflict mode", func(t *testing.T) {
		*clock = clock.Add(time.Minute)
		assert.True(t, limiter.CanMakeRequest().Allowed)
		assert.False(t, limiter.GetStatus().ConflictMode)
	})
}

func TestRefreshesOutsideWindowDoNotTrigger(t *testing.T) {
	limiter, clock := testLimiter(nil)

	limiter.RecordTokenRefresh()
	*clock = clock.Add(3 * time.Minute)
	limiter.RecordTokenRefresh()
	*clock = clock.Add(3 * time.Minute)
	limiter.RecordTokenRefresh()

	// Never three refreshes inside any 5 minute span
	assert.True(t, limiter.CanMakeRequest().Allowed)
	assert.False(t, limiter.GetStatus().ConflictMode)
}

func TestGetStatusCounts(t *testing.T) {
	limiter, clock := testLimiter(nil)

	limiter.RecordRequest()
	limiter.RecordRequest()
	*clock = clock.Add(2 * time.Minute)
	limiter.RecordRequest()

	status := limiter.GetStatus()
	assert.Equal(t, 1, status.RequestsLastMinute)
	assert.Equal(t, 3, status.RequestsLastHour)
	assert.False(t, status.ConflictMode)

	// GetStatus must not mutate state
	again := limiter.GetStatus()
	assert.Equal(t, status, again)
}
