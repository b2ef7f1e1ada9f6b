// Package credentials resolves the upstream clinic API login credentials.
//
// Credentials live in AWS Secrets Manager and are cached in memory for a
// short period so the secret store is not consulted on every token refresh.
// The fetch itself runs behind a circuit breaker: when Secrets Manager is
// misbehaving, non-production environments fall back to credentials from the
// local configuration instead of failing the request.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"

	"clinic-api/internal/common/errors"
	"clinic-api/internal/common/logging"
)

const (
	cacheKey        = "upstream-credentials"
	cacheTTL        = 10 * time.Minute
	cleanupInterval = 15 * time.Minute
)

// Credentials holds the upstream clinic API login material. ClinicURL lets
// the secret rotate the upstream base URL without a redeploy.
type Credentials struct {
	User      string `json:"user"`
	Password  string `json:"password"`
	ClinicURL string `json:"clinicUrl"`
	ClinicID  string `json:"clinicId"`
}

// SecretsAPI is the slice of the Secrets Manager client the provider uses.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Config controls secret resolution and the non-production fallback.
type Config struct {
	SecretName        string
	FallbackUser      string
	FallbackPassword  string
	FallbackClinicURL string
	FallbackClinicID  string
	Production        bool
}

// Provider fetches and caches upstream credentials.
type Provider struct {
	secrets SecretsAPI
	config  Config
	cache   *gocache.Cache
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// NewSecretsClient builds a Secrets Manager client for the given region.
func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// NewProvider creates a credential provider.
func NewProvider(secrets SecretsAPI, config Config, logger logging.Logger) *Provider {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	settings := gobreaker.Settings{
		Name:    "secrets-manager",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()))
		},
	}

	return &Provider{
		secrets: secrets,
		config:  config,
		cache:   gocache.New(cacheTTL, cleanupInterval),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Get returns the current upstream credentials, from cache when fresh.
func (p *Provider) Get(ctx context.Context) (*Credentials, error) {
	if cached, found := p.cache.Get(cacheKey); found {
		return cached.(*Credentials), nil
	}

	creds, err := p.fetch(ctx)
	if err != nil {
		if p.config.Production {
			return nil, errors.InternalError("failed to resolve upstream credentials", err)
		}

		p.logger.Warn("secret store unavailable, using configured fallback credentials",
			logging.Err(err))
		return p.fallback(), nil
	}

	p.cache.Set(cacheKey, creds, cacheTTL)
	return creds, nil
}

// Refresh drops the cached credentials and fetches them again.
func (p *Provider) Refresh(ctx context.Context) (*Credentials, error) {
	p.cache.Delete(cacheKey)
	return p.Get(ctx)
}

// fetch reads and decodes the secret behind the circuit breaker.
func (p *Provider) fetch(ctx context.Context) (*Credentials, error) {
	if p.secrets == nil || p.config.SecretName == "" {
		return nil, fmt.Errorf("secret store not configured")
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		output, err := p.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(p.config.SecretName),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read secret %s: %w", p.config.SecretName, err)
		}
		if output.SecretString == nil {
			return nil, fmt.Errorf("secret %s has no string payload", p.config.SecretName)
		}

		var creds Credentials
		if err := json.Unmarshal([]byte(*output.SecretString), &creds); err != nil {
			return nil, fmt.Errorf("failed to decode secret %s: %w", p.config.SecretName, err)
		}
		if creds.User == "" || creds.Password == "" {
			return nil, fmt.Errorf("secret %s is missing user or password", p.config.SecretName)
		}
		return &creds, nil
	})
	if err != nil {
		return nil, err
	}

	creds := result.(*Credentials)
	if creds.ClinicURL == "" {
		creds.ClinicURL = p.config.FallbackClinicURL
	}
	if creds.ClinicID == "" {
		creds.ClinicID = p.config.FallbackClinicID
	}
	return creds, nil
}

// fallback returns the credentials configured for local development.
func (p *Provider) fallback() *Credentials {
	return &Credentials{
		User:      p.config.FallbackUser,
		Password:  p.config.FallbackPassword,
		ClinicURL: p.config.FallbackClinicURL,
		ClinicID:  p.config.FallbackClinicID,
	}
}
