package upstream

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"clinic-api/internal/common/errors"
	"clinic-api/internal/common/logging"
	"clinic-api/internal/common/utils"
	"clinic-api/internal/credentials"
)

// loginSalt is the static salt the upstream mixes into the login hash.
const loginSalt = "sFfDS395$YGTry546g"

// tokenLifetime is how long an upstream session token stays valid.
const tokenLifetime = 24 * time.Hour

// tokenHeader is the header every authenticated upstream call must carry.
const tokenHeader = "USU_APITOKEN"

// CredentialSource yields the upstream login credentials.
type CredentialSource interface {
	Get(ctx context.Context) (*credentials.Credentials, error)
}

// TokenManager owns the upstream session token. A single instance exists
// per process; refreshes are serialized with a mutex and the expiry is
// double-checked under the lock so concurrent callers collapse into one
// refresh.
type TokenManager struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	httpClient *http.Client
	baseURL    string
	creds      CredentialSource
	logger     logging.Logger
	loc        *time.Location
	now        func() time.Time
}

// NewTokenManager creates a token manager. The login timestamp is computed
// in the clinic's civil timezone, which the upstream validates against.
func NewTokenManager(httpClient *http.Client, baseURL string, creds CredentialSource, logger logging.Logger) (*TokenManager, error) {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		return nil, fmt.Errorf("failed to load clinic timezone: %w", err)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TokenManager{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		creds:      creds,
		logger:     logger,
		loc:        loc,
		now:        time.Now,
	}, nil
}

// GetValidToken returns the current token, refreshing it first when it is
// missing or expired.
func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Before(m.expiresAt) {
		return m.token, nil
	}
	if err := m.refreshLocked(ctx); err != nil {
		return "", err
	}
	return m.token, nil
}

// ForceRefresh discards the current token and logs in again. Used after an
// auth conflict, where the token is known to be invalid regardless of its
// local expiry.
func (m *TokenManager) ForceRefresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

// Expiry returns the current token expiry for the stats endpoint.
func (m *TokenManager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// refreshLocked performs the hash login. Caller must hold mu. On failure
// the token is cleared so the next call is forced to retry the login.
func (m *TokenManager) refreshLocked(ctx context.Context) error {
	creds, err := m.creds.Get(ctx)
	if err != nil {
		m.clearLocked()
		return err
	}

	base := m.baseURL
	if creds.ClinicURL != "" {
		base = strings.TrimSuffix(creds.ClinicURL, "/")
	}

	timestamp := m.now().In(m.loc).Format(utils.LoginTimestampLayout)
	payload := map[string]string{
		"userName":       creds.User,
		"timeSpanString": timestamp,
		"hash":           loginHash(creds.User, creds.Password, timestamp),
		"idClinica":      creds.ClinicID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		m.clearLocked()
		return errors.InternalError("failed to encode login request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/LoginExternalHash", bytes.NewReader(body))
	if err != nil {
		m.clearLocked()
		return errors.InternalError("failed to build login request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.clearLocked()
		return errors.ConnectionError("upstream login request failed", err)
	}
	defer resp.Body.Close()

	var envelope Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		m.clearLocked()
		return errors.ConnectionError("failed to decode login response", err)
	}

	if !envelope.Successful {
		m.clearLocked()
		return errors.AuthError("upstream login rejected")
	}

	var data struct {
		Token string `json:"USU_APITOKEN"`
	}
	if err := envelope.DecodeData(&data); err != nil || data.Token == "" {
		m.clearLocked()
		return errors.AuthError("upstream login response is missing the session token")
	}

	m.token = data.Token
	m.expiresAt = m.now().Add(tokenLifetime)
	m.logger.Info("upstream session token refreshed",
		logging.String("expires_at", m.expiresAt.Format(time.RFC3339)))
	return nil
}

// clearLocked wipes the token state so the next use triggers a fresh login.
// Caller must hold mu.
func (m *TokenManager) clearLocked() {
	m.token = ""
	m.expiresAt = time.Time{}
}

// loginHash computes the upstream's login signature:
// MD5(user + MD5(password) + timestamp + salt), all hex uppercase.
func loginHash(user, password, timestamp string) string {
	passwordMD5 := md5Hex(password)
	return md5Hex(user + passwordMD5 + timestamp + loginSalt)
}

func md5Hex(value string) string {
	sum := md5.Sum([]byte(value))
	return strings.ToUpper(fmt.Sprintf("%x", sum))
}
