package services

import (
	"context"
	"fmt"
	"time"

	"clinic-api/internal/common/errors"
	"clinic-api/internal/common/logging"
	"clinic-api/internal/common/utils"
)

// Agenda lookups default to a month of days and are capped to keep a single
// upstream call bounded.
const (
	defaultAgendaDays = 31
	maxAgendaDays     = 60
)

// AvailabilityService serves doctor agenda slots with short-lived caching.
type AvailabilityService struct {
	upstream UpstreamAPI
	cache    Cache
	ttl      time.Duration
	logger   logging.Logger
}

// NewAvailabilityService creates the availability service.
func NewAvailabilityService(api UpstreamAPI, cache Cache, ttl time.Duration, logger logging.Logger) *AvailabilityService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &AvailabilityService{upstream: api, cache: cache, ttl: ttl, logger: logger}
}

// Get returns a doctor's open slots starting at an ISO YYYY-MM-DD date.
// Malformed input is rejected before any upstream call; upstream failures
// degrade to an empty agenda.
func (s *AvailabilityService) Get(ctx context.Context, doctorID int, startDate string, days int, forceRefresh bool) ([]DayAvailability, error) {
	if doctorID <= 0 {
		return nil, errors.ValidationError("doctor id must be positive")
	}

	compactDate, err := utils.NormalizeDate(startDate)
	if err != nil {
		return nil, errors.ValidationError(err.Error())
	}

	if days <= 0 {
		days = defaultAgendaDays
	}
	if days > maxAgendaDays {
		return nil, errors.ValidationError(fmt.Sprintf("cannot fetch more than %d days of availability", maxAgendaDays))
	}

	key := fmt.Sprintf("availability:%d:%s:%d", doctorID, compactDate, days)
	if forceRefresh {
		s.cache.Delete(ctx, key)
	} else {
		var cached []DayAvailability
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	records, err := s.upstream.GetAvailability(ctx, doctorID, compactDate, days)
	if err != nil {
		s.logger.Warn("availability fetch failed, returning empty agenda",
			logging.Int("doctor_id", doctorID),
			logging.Err(err))
		return []DayAvailability{}, nil
	}

	agenda := make([]DayAvailability, 0, len(records))
	slots := 0
	for _, record := range records {
		if record.Date == "" {
			continue
		}
		agenda = append(agenda, DayAvailability{Date: record.Date, Slots: record.Hours})
		slots += len(record.Hours)
	}

	if slots == 0 {
		// Fully-booked or placeholder agendas are not worth shadowing a
		// later fetch with
		s.cache.Delete(ctx, key)
		return agenda, nil
	}

	s.cache.Set(ctx, key, agenda, s.ttl)
	return agenda, nil
}
