package services

import (
	"context"
	"time"

	"clinic-api/internal/common/logging"
	"clinic-api/internal/upstream"
)

const specialtiesCacheKey = "specialties:all"

// SpecialtiesService serves the clinic's specialty list with near-static
// caching.
type SpecialtiesService struct {
	upstream UpstreamAPI
	cache    Cache
	ttl      time.Duration
	logger   logging.Logger
}

// NewSpecialtiesService creates the specialties service.
func NewSpecialtiesService(api UpstreamAPI, cache Cache, ttl time.Duration, logger logging.Logger) *SpecialtiesService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SpecialtiesService{upstream: api, cache: cache, ttl: ttl, logger: logger}
}

// Get returns the bookable specialties. Upstream failures degrade to an
// empty list so the widget keeps rendering.
func (s *SpecialtiesService) Get(ctx context.Context, forceRefresh bool) []Specialty {
	if forceRefresh {
		s.cache.Delete(ctx, specialtiesCacheKey)
	} else {
		var cached []Specialty
		if s.cache.Get(ctx, specialtiesCacheKey, &cached) {
			return cached
		}
	}

	records, err := s.upstream.GetSpecialties(ctx)
	if err != nil {
		s.logger.Warn("specialty fetch failed, returning empty list", logging.Err(err))
		return []Specialty{}
	}

	specialties := make([]Specialty, 0, len(records))
	for _, record := range records {
		if !bookableSpecialty(record) {
			continue
		}
		specialties = append(specialties, Specialty{
			ID:          record.ID,
			Name:        record.Name,
			Description: record.Description,
		})
	}

	if len(specialties) == 0 {
		// A suspicious result must not shadow a later good fetch
		s.logger.Warn("specialty fetch yielded no bookable entries, evicting cache")
		s.cache.Delete(ctx, specialtiesCacheKey)
		return specialties
	}

	s.cache.Set(ctx, specialtiesCacheKey, specialties, s.ttl)
	return specialties
}

// bookableSpecialty filters out placeholder rows the upstream sometimes
// returns.
func bookableSpecialty(record upstream.Specialty) bool {
	return record.ID > 0 && record.Name != ""
}
