package services

import (
	"context"
	"fmt"
	"time"

	"clinic-api/internal/common/logging"
)

// The urology specialty is presented to patients as a single service that
// actually spans two upstream specialties. Requests for it merge both
// doctor lists and always bypass the cache so neither half can go stale
// independently.
const (
	compositeSpecialtyID = 10
	compositeUnionWith   = 8
)

// DoctorsService serves per-specialty doctor lists.
type DoctorsService struct {
	upstream UpstreamAPI
	cache    Cache
	ttl      time.Duration
	logger   logging.Logger
}

// NewDoctorsService creates the doctors service.
func NewDoctorsService(api UpstreamAPI, cache Cache, ttl time.Duration, logger logging.Logger) *DoctorsService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &DoctorsService{upstream: api, cache: cache, ttl: ttl, logger: logger}
}

// Get returns the bookable doctors for a specialty. Upstream failures
// degrade to an empty list.
func (s *DoctorsService) Get(ctx context.Context, specialtyID int, forceRefresh bool) []Doctor {
	if specialtyID == compositeSpecialtyID {
		return s.getComposite(ctx)
	}

	key := doctorsCacheKey(specialtyID)
	if forceRefresh {
		s.cache.Delete(ctx, key)
	} else {
		var cached []Doctor
		if s.cache.Get(ctx, key, &cached) {
			return cached
		}
	}

	doctors, ok := s.fetch(ctx, specialtyID)
	if !ok {
		return []Doctor{}
	}

	if len(doctors) == 0 {
		s.logger.Warn("doctor fetch yielded no bookable entries, evicting cache",
			logging.Int("specialty_id", specialtyID))
		s.cache.Delete(ctx, key)
		return doctors
	}

	s.cache.Set(ctx, key, doctors, s.ttl)
	return doctors
}

// getComposite merges the two upstream halves of the composite specialty,
// de-duplicated by doctor id. The cache is never consulted or written here.
func (s *DoctorsService) getComposite(ctx context.Context) []Doctor {
	primary, ok := s.fetch(ctx, compositeSpecialtyID)
	if !ok {
		primary = []Doctor{}
	}
	secondary, ok := s.fetch(ctx, compositeUnionWith)
	if !ok {
		secondary = []Doctor{}
	}

	seen := make(map[int]bool, len(primary)+len(secondary))
	merged := make([]Doctor, 0, len(primary)+len(secondary))
	for _, doctor := range append(primary, secondary...) {
		if seen[doctor.ID] {
			continue
		}
		seen[doctor.ID] = true
		merged = append(merged, doctor)
	}
	return merged
}

// fetch pulls one specialty's doctors and filters placeholders. The bool
// result distinguishes an upstream failure from a genuinely empty list.
func (s *DoctorsService) fetch(ctx context.Context, specialtyID int) ([]Doctor, bool) {
	records, err := s.upstream.GetDoctors(ctx, specialtyID)
	if err != nil {
		s.logger.Warn("doctor fetch failed",
			logging.Int("specialty_id", specialtyID),
			logging.Err(err))
		return nil, false
	}

	doctors := make([]Doctor, 0, len(records))
	for _, record := range records {
		if record.ID <= 0 || record.Name == "" {
			continue
		}
		doctors = append(doctors, Doctor{
			ID:          record.ID,
			Name:        record.Name,
			Surname:     record.Surname,
			SpecialtyID: record.SpecialtyID,
		})
	}
	return doctors, true
}

func doctorsCacheKey(specialtyID int) string {
	return fmt.Sprintf("doctors:%d", specialtyID)
}
