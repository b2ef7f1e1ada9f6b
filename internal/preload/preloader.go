// Package preload warms the read caches at startup and keeps the fallback
// snapshots fresh with a periodic refresh job.
package preload

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"clinic-api/internal/common/logging"
	"clinic-api/internal/services"
)

// The specialties patients book most often. Warming their doctor lists at
// startup means the first widget load never waits on the upstream, and every
// successful fetch also rewrites the fallback snapshot for that operation.
var warmSpecialtyIDs = []int{1, 8, 9, 10, 18}

// A short delay so the preloader does not compete with the server's own
// startup traffic for the upstream rate budget.
const startupDelay = 10 * time.Second

// Every 6 hours, well inside the 24 hour snapshot TTL.
const refreshSchedule = "0 */6 * * *"

// Preloader warms and refreshes the read caches.
type Preloader struct {
	specialties *services.SpecialtiesService
	doctors     *services.DoctorsService
	logger      logging.Logger
	cron        *cron.Cron
	delay       time.Duration
}

// New creates a preloader.
func New(specialties *services.SpecialtiesService, doctors *services.DoctorsService, logger logging.Logger) *Preloader {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Preloader{
		specialties: specialties,
		doctors:     doctors,
		logger:      logger,
		cron:        cron.New(),
		delay:       startupDelay,
	}
}

// Start launches the delayed warm-up and the periodic refresh job. It
// returns immediately; ctx cancellation aborts a warm-up in flight.
func (p *Preloader) Start(ctx context.Context) error {
	go func() {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return
		}
		p.warm(ctx, false)
	}()

	_, err := p.cron.AddFunc(refreshSchedule, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		p.warm(refreshCtx, true)
	})
	if err != nil {
		return err
	}

	p.cron.Start()
	return nil
}

// Stop halts the refresh job. Entries already running finish on their own.
func (p *Preloader) Stop() {
	p.cron.Stop()
}

// warm pulls the specialty list and the common doctor lists. forceRefresh is
// set on the periodic run so the snapshots are rebuilt from live data rather
// than served from cache.
func (p *Preloader) warm(ctx context.Context, forceRefresh bool) {
	started := time.Now()

	specialties := p.specialties.Get(ctx, forceRefresh)
	warmed := 0
	for _, id := range warmSpecialtyIDs {
		if ctx.Err() != nil {
			return
		}
		if doctors := p.doctors.Get(ctx, id, forceRefresh); len(doctors) > 0 {
			warmed++
		}
	}

	p.logger.Info("cache warm-up completed",
		logging.Int("specialties", len(specialties)),
		logging.Int("doctor_lists_warmed", warmed),
		logging.Duration("took", time.Since(started)))
}
