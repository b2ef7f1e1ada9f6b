// Package app wires the application together and owns its lifecycle.
package app

import (
	"context"
	"net/http"
	"strconv"

	"clinic-api/internal/audit"
	"clinic-api/internal/auth"
	"clinic-api/internal/cache"
	"clinic-api/internal/circuitbreaker"
	"clinic-api/internal/common/logging"
	"clinic-api/internal/config"
	"clinic-api/internal/credentials"
	"clinic-api/internal/handlers"
	"clinic-api/internal/metrics"
	"clinic-api/internal/preload"
	"clinic-api/internal/ratelimit"
	"clinic-api/internal/services"
	"clinic-api/internal/upstream"
)

// App holds all the application dependencies
type App struct {
	Config   *config.Config
	Cache    *cache.Store
	Limiter  *ratelimit.Limiter
	Breaker  *circuitbreaker.CircuitBreaker
	Audit    *audit.Store
	Metrics  *metrics.Publisher
	Upstream *upstream.Client
	Sessions *auth.Sessions
	Handlers *handlers.Handlers
	Logger   logging.Logger

	preloader *preload.Preloader
	cancel    context.CancelFunc
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Both values are validated as numeric by config.Validate
	redisDB, _ := strconv.Atoi(cfg.RedisDB)
	redisPoolSize, _ := strconv.Atoi(cfg.RedisPoolSize)
	store, err := cache.NewStore(&cache.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       redisDB,
		PoolSize: redisPoolSize,
	}, app.Logger)
	if err != nil {
		return nil, err
	}
	app.Cache = store

	app.Limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig(), app.Logger)
	app.Breaker = circuitbreaker.New("clinic-upstream", circuitbreaker.DefaultConfig())

	creds, err := app.initializeCredentials(ctx)
	if err != nil {
		return nil, err
	}

	if err := app.initializeAudit(); err != nil {
		return nil, err
	}

	if err := app.initializeMetrics(ctx); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.ClinicAPITimeout}
	tokens, err := upstream.NewTokenManager(httpClient, cfg.ClinicAPIBaseURL, creds, app.Logger)
	if err != nil {
		return nil, err
	}

	app.Upstream = upstream.NewClient(upstream.Options{
		BaseURL:     cfg.ClinicAPIBaseURL,
		HTTPClient:  httpClient,
		Tokens:      tokens,
		Credentials: creds,
		Limiter:     app.Limiter,
		Breaker:     app.Breaker,
		Snapshots:   app.Cache,
		Audit:       app.Audit,
		Metrics:     app.Metrics,
		Logger:      app.Logger,
	})

	specialties := services.NewSpecialtiesService(app.Upstream, app.Cache, cfg.SpecialtiesTTL, app.Logger)
	doctors := services.NewDoctorsService(app.Upstream, app.Cache, cfg.DoctorsTTL, app.Logger)
	availability := services.NewAvailabilityService(app.Upstream, app.Cache, cfg.AvailabilityTTL, app.Logger)
	appointments := services.NewAppointmentsService(app.Upstream, app.Cache, cfg.IdempotencyTTL, app.Logger)

	app.Sessions = auth.NewSessions(cfg.JWTSecret, cfg.SessionTTL)
	app.preloader = preload.New(specialties, doctors, app.Logger)

	app.Handlers = handlers.New(
		specialties,
		doctors,
		availability,
		appointments,
		app.Sessions,
		app.Cache,
		app.Limiter,
		app.Breaker,
		app.Upstream,
		app.Metrics,
		app.Audit,
		app.Logger,
	)

	return app, nil
}

func (a *App) initializeCredentials(ctx context.Context) (*credentials.Provider, error) {
	var secrets credentials.SecretsAPI
	if a.Config.SecretsName != "" {
		client, err := credentials.NewSecretsClient(ctx, a.Config.AWSRegion)
		if err != nil {
			return nil, err
		}
		secrets = client
	}

	return credentials.NewProvider(secrets, credentials.Config{
		SecretName:        a.Config.SecretsName,
		FallbackUser:      a.Config.ClinicAPIUser,
		FallbackPassword:  a.Config.ClinicAPIPassword,
		FallbackClinicURL: a.Config.ClinicAPIBaseURL,
		FallbackClinicID:  a.Config.ClinicID,
		Production:        a.Config.IsProduction(),
	}, a.Logger), nil
}

func (a *App) initializeAudit() error {
	var store *audit.Store
	var err error
	if a.Config.UsesPostgres() {
		store, err = audit.NewPostgresStore(a.Config.PostgresDSN(), a.Logger)
	} else {
		store, err = audit.NewSQLiteStore(a.Config.DatabasePath, a.Logger)
	}
	if err != nil {
		return err
	}
	a.Audit = store
	return nil
}

// initializeMetrics builds the CloudWatch/SNS publisher. Outside production
// the AWS clients are skipped and the publisher only keeps local counters.
func (a *App) initializeMetrics(ctx context.Context) error {
	if !a.Config.IsProduction() {
		a.Metrics = metrics.NewPublisher(nil, nil, a.Config.MetricsNamespace, "", a.Logger)
		return nil
	}

	cw, snsClient, err := metrics.NewAWSClients(ctx, a.Config.AWSRegion)
	if err != nil {
		return err
	}
	a.Metrics = metrics.NewPublisher(cw, snsClient, a.Config.MetricsNamespace, a.Config.AlarmTopicARN, a.Logger)
	return nil
}

// StartBackground launches the cache preloader and its refresh job.
func (a *App) StartBackground() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	return a.preloader.Start(ctx)
}

// Shutdown stops background work and closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.preloader.Stop()

	if err := a.Audit.Close(); err != nil {
		a.Logger.Warn("audit store close failed", logging.Err(err))
	}
	return a.Cache.Close()
}
