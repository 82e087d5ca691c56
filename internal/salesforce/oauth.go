package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTokenURL is the production OAuth token endpoint.
	DefaultTokenURL = "https://login.salesforce.com/services/oauth2/token"

	// defaultTokenDuration is used because the token endpoint does not return an expiry.
	defaultTokenDuration = 60 * time.Minute

	// tokenExpiryBuffer is the time before expiry to trigger a refresh.
	tokenExpiryBuffer = 5 * time.Minute
)

// TokenStore provides access to OAuth refresh tokens.
type TokenStore interface {
	// RefreshToken returns the current refresh token.
	RefreshToken(ctx context.Context) (string, error)

	// SaveRefreshToken saves a new refresh token.
	SaveRefreshToken(ctx context.Context, token string) error
}

// tokenResponse represents the OAuth token endpoint response.
//
//nolint:tagliatelle // External API uses snake_case.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	InstanceURL  string `json:"instance_url"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// tokenManager handles OAuth token refresh and caching.
type tokenManager struct {
	// accessToken is the current cached access token.
	accessToken string

	// clientID is the connected app consumer key.
	clientID string

	// clientSecret is the connected app consumer secret.
	clientSecret string

	// expiresAt is when the current access token is considered expired.
	expiresAt time.Time

	// httpClient is the HTTP client for token requests.
	httpClient *http.Client

	// mu protects access token state.
	mu sync.RWMutex

	// tokenStore provides access to refresh tokens.
	tokenStore TokenStore

	// tokenURL is the OAuth token endpoint.
	tokenURL string
}

// AccessToken returns a valid access token, refreshing if necessary.
func (tm *tokenManager) AccessToken(ctx context.Context) (string, error) {
	if token, ok := tm.cachedToken(); ok {
		return token, nil
	}
	return tm.refreshAccessToken(ctx)
}

// Invalidate drops the cached access token so the next call refreshes it.
func (tm *tokenManager) Invalidate() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.accessToken = ""
	tm.expiresAt = time.Time{}
}

// cachedToken returns the cached access token if valid, or false if refresh is needed.
func (tm *tokenManager) cachedToken() (string, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if tm.isTokenValid() {
		return tm.accessToken, true
	}
	return "", false
}

// isTokenValid checks if the current access token is valid and not near expiry.
// Must be called with at least a read lock held.
func (tm *tokenManager) isTokenValid() bool {
	return tm.accessToken != "" && time.Now().Before(tm.expiresAt.Add(-tokenExpiryBuffer))
}

// refreshAccessToken fetches a new access token using the refresh token.
func (tm *tokenManager) refreshAccessToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Double-check after acquiring write lock.
	if tm.isTokenValid() {
		return tm.accessToken, nil
	}

	refreshToken, err := tm.tokenStore.RefreshToken(ctx)
	if err != nil {
		return "", fmt.Errorf("getting refresh token: %w", err)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", tm.clientID)
	data.Set("client_secret", tm.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: executing token request: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		// invalid_grant and bad client credentials come back as 400/401.
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("token refresh failed with status %d: %s: %w", resp.StatusCode, string(body), ErrUnauthorized)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return "", fmt.Errorf("token refresh failed with status %d: %s: %w", resp.StatusCode, string(body), ErrUnavailable)
		}
		return "", fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	// Refresh token rotation is optional for connected apps.
	if tokenResp.RefreshToken != "" && tokenResp.RefreshToken != refreshToken {
		if err := tm.tokenStore.SaveRefreshToken(ctx, tokenResp.RefreshToken); err != nil {
			return "", fmt.Errorf("saving refresh token: %w", err)
		}
	}

	tm.accessToken = tokenResp.AccessToken
	if tokenResp.ExpiresIn > 0 {
		tm.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else {
		tm.expiresAt = time.Now().Add(defaultTokenDuration)
	}

	return tm.accessToken, nil
}

// newTokenManager creates a new token manager for handling OAuth authentication.
func newTokenManager(
	clientID string,
	clientSecret string,
	tokenStore TokenStore,
	httpClient *http.Client,
	tokenURL string,
) *tokenManager {
	return &tokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		tokenStore:   tokenStore,
		tokenURL:     tokenURL,
	}
}
