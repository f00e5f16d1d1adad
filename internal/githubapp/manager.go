package githubapp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"codemorph/pkg/domain"
)

// expiryMargin is how long before expiry a cached token stops being served.
const expiryMargin = 60 * time.Second

// TokenInfo is a per-installation access token with its expiry. It is held
// only in the manager's cache and never persisted.
type TokenInfo struct {
	Token     string
	ExpiresAt time.Time
}

type exchanger interface {
	exchange(ctx context.Context, installationID int64) (TokenInfo, error)
}

// TokenManager caches installation access tokens keyed by installation id.
// Concurrent refreshes for the same installation collapse into a single
// upstream exchange.
type TokenManager struct {
	exch exchanger
	now  func() time.Time

	mu    sync.Mutex
	cache map[int64]TokenInfo
	group singleflight.Group
}

// NewTokenManager builds a manager that exchanges app JWTs for installation
// tokens against baseURL (the public GitHub API when empty).
func NewTokenManager(signer *Signer, baseURL string) *TokenManager {
	return &TokenManager{
		exch:  &appExchanger{signer: signer, baseURL: baseURL},
		now:   time.Now,
		cache: make(map[int64]TokenInfo),
	}
}

// InstallationToken returns a currently valid token for the installation,
// refreshing transparently when none is cached or the cached one is within
// the expiry margin.
func (m *TokenManager) InstallationToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	if info, ok := m.cached(installationID); ok {
		return info.Token, info.ExpiresAt, nil
	}
	v, err, _ := m.group.Do(strconv.FormatInt(installationID, 10), func() (any, error) {
		// A concurrent caller may have refreshed while we waited on the flight.
		if info, ok := m.cached(installationID); ok {
			return info, nil
		}
		info, err := m.exch.exchange(ctx, installationID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cache[installationID] = info
		m.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	info := v.(TokenInfo)
	return info.Token, info.ExpiresAt, nil
}

func (m *TokenManager) cached(installationID int64) (TokenInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.cache[installationID]
	if !ok {
		return TokenInfo{}, false
	}
	if !m.now().Add(expiryMargin).Before(info.ExpiresAt) {
		return TokenInfo{}, false
	}
	return info, true
}

// appExchanger performs the JWT-for-token exchange against GitHub's
// installation token endpoint.
type appExchanger struct {
	signer  *Signer
	baseURL string
}

func (e *appExchanger) exchange(ctx context.Context, installationID int64) (TokenInfo, error) {
	appJWT, err := e.signer.AppJWT()
	if err != nil {
		return TokenInfo{}, err
	}
	client, err := NewAPIClient(appJWT, e.baseURL)
	if err != nil {
		return TokenInfo{}, err
	}
	// Request only the scopes the pipeline needs.
	opts := &github.InstallationTokenOptions{
		Permissions: &github.InstallationPermissions{
			Contents:     github.String("write"),
			PullRequests: github.String("write"),
			Metadata:     github.String("read"),
		},
	}
	tok, resp, err := client.Apps.CreateInstallationToken(ctx, installationID, opts)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound) {
			return TokenInfo{}, fmt.Errorf("%w: installation %d: %v", domain.ErrUpstreamAuth, installationID, err)
		}
		return TokenInfo{}, fmt.Errorf("create installation token: %w", err)
	}
	return TokenInfo{
		Token:     tok.GetToken(),
		ExpiresAt: tok.GetExpiresAt().Time,
	}, nil
}

// NewAPIClient builds a go-github client authenticated with token against
// baseURL. An empty baseURL targets api.github.com.
func NewAPIClient(token, baseURL string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	baseURL = strings.TrimSpace(baseURL)
	if baseURL != "" && baseURL != "https://api.github.com" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}
