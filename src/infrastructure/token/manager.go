package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"crmhub/src/infrastructure/log"
)

// ErrNoCredential is returned when no credential can be obtained: the fetch
// failed and no static fallback is configured.
var ErrNoCredential = errors.New("no valid credential available")

// DefaultRefreshInterval is how long a fetched credential is trusted before
// it must be refreshed.
const DefaultRefreshInterval = 15 * time.Minute

const fetchTimeout = 30 * time.Second

// Fetcher obtains a fresh credential from an external identity provider.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// OAuthFetcher fetches access tokens with the client-credentials grant.
type OAuthFetcher struct {
	cfg clientcredentials.Config
}

func NewOAuthFetcher(tokenURL, clientID, clientSecret string) *OAuthFetcher {
	return &OAuthFetcher{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
	}
}

func (f *OAuthFetcher) Fetch(ctx context.Context) (string, error) {
	tok, err := f.cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch oauth token: %w", err)
	}
	return tok.AccessToken, nil
}

// StaticFetcher returns a fixed password. Used for local development where
// no identity provider is involved.
type StaticFetcher struct {
	Password string
}

func (f StaticFetcher) Fetch(ctx context.Context) (string, error) {
	if f.Password == "" {
		return "", errors.New("no static password configured")
	}
	return f.Password, nil
}

// Info is a diagnostic snapshot of the manager's state.
type Info struct {
	HasToken           bool       `json:"has_token"`
	IsValid            bool       `json:"is_valid"`
	LastRefresh        *time.Time `json:"last_refresh"`
	SinceRefreshSecs   int        `json:"time_since_refresh_seconds"`
	UntilExpirySecs    int        `json:"time_until_expiry_seconds"`
	RefreshIntervalSec int        `json:"refresh_interval_seconds"`
	TokenPreview       string     `json:"token_preview,omitempty"`
}

// Manager caches a write credential, refreshing it when its trust interval
// elapses. Safe for concurrent use from multiple ingestion jobs; a fetch
// never blocks the caller past the fetch timeout.
type Manager struct {
	mu          sync.Mutex
	fetcher     Fetcher
	interval    time.Duration
	fallback    string
	token       string
	lastRefresh time.Time
	now         func() time.Time
}

// NewManager builds a manager over the given fetcher. fallback, when not
// empty, is used as a static credential after a failed fetch.
func NewManager(fetcher Fetcher, interval time.Duration, fallback string) *Manager {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Manager{
		fetcher:  fetcher,
		interval: interval,
		fallback: fallback,
		now:      time.Now,
	}
}

// Ensure returns a valid credential, fetching a fresh one when the cached
// credential has aged past the refresh interval or force is set. On fetch
// failure the configured fallback is used if present; otherwise the call
// fails and the caller must treat the job as unauthenticated.
func (m *Manager) Ensure(ctx context.Context, force bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && m.token != "" && m.now().Sub(m.lastRefresh) < m.interval {
		return m.token, nil
	}

	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	tok, err := m.fetcher.Fetch(fctx)
	if err == nil {
		m.token = tok
		m.lastRefresh = m.now()
		log.Info("credential refreshed", "valid_until", m.lastRefresh.Add(m.interval).Format(time.RFC3339))
		return m.token, nil
	}

	if m.fallback != "" {
		log.Error(err, "credential fetch failed, using static fallback")
		m.token = m.fallback
		m.lastRefresh = m.now()
		return m.token, nil
	}

	return "", fmt.Errorf("%w: %v", ErrNoCredential, err)
}

// Valid reports whether the cached credential is still within its trust
// interval.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != "" && m.now().Sub(m.lastRefresh) < m.interval
}

// Info returns a diagnostic view of the cached credential.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		HasToken:           m.token != "",
		RefreshIntervalSec: int(m.interval.Seconds()),
	}
	if !m.lastRefresh.IsZero() {
		last := m.lastRefresh
		info.LastRefresh = &last
		since := m.now().Sub(m.lastRefresh)
		info.SinceRefreshSecs = int(since.Seconds())
		if until := m.interval - since; until > 0 {
			info.UntilExpirySecs = int(until.Seconds())
		}
	}
	info.IsValid = m.token != "" && m.now().Sub(m.lastRefresh) < m.interval
	if m.token != "" {
		preview := m.token
		if len(preview) > 20 {
			preview = preview[:20]
		}
		info.TokenPreview = preview + "..."
	}
	return info
}

// RunRefresher keeps the credential warm, refreshing it shortly before
// expiry until the context is cancelled. Owned by the server lifecycle, not
// a detached goroutine.
func (m *Manager) RunRefresher(ctx context.Context) {
	period := m.interval - time.Minute
	if period < time.Minute {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Ensure(ctx, true); err != nil {
				log.Error(err, "background credential refresh failed")
			}
		}
	}
}
