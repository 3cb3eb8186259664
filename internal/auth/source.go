package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"pqi-go/internal/pqi"
)

// HTTPTokenSource obtains bearer tokens from the external token provider
// with a client-credentials grant, keeping one in memory and optionally one
// encrypted on disk so repeated CLI invocations don't re-authenticate.
type HTTPTokenSource struct {
	tokenURL   string
	clientID   string
	secretPath string
	client     *http.Client
	clock      pqi.Clock
	logger     pqi.Logger
	cache      *TokenCache // may be nil

	mu     sync.Mutex
	cached *pqi.Token
}

var _ pqi.TokenSource = (*HTTPTokenSource)(nil)

// NewHTTPTokenSource creates a token source. cache may be nil to skip the
// on-disk cache.
func NewHTTPTokenSource(tokenURL, clientID, secretPath string, cache *TokenCache, clock pqi.Clock, logger pqi.Logger) *HTTPTokenSource {
	return &HTTPTokenSource{
		tokenURL:   tokenURL,
		clientID:   clientID,
		secretPath: secretPath,
		client:     &http.Client{Timeout: 15 * time.Second},
		clock:      clock,
		logger:     logger,
		cache:      cache,
	}
}

// Token returns a valid token, consulting the in-memory copy, then the disk
// cache, then the token endpoint. Failures surface as *pqi.AuthError.
func (s *HTTPTokenSource) Token(ctx context.Context) (*pqi.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.cached.Expired(now) {
		return s.cached, nil
	}

	if s.cache != nil {
		token, err := s.cache.Load()
		if err != nil {
			// A corrupt cache is a cache miss, not a fatal error.
			s.logger.Debug("token cache unreadable, refreshing", "error", err)
		} else if !token.Expired(now) {
			s.cached = token
			return token, nil
		}
	}

	token, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	s.cached = token

	if s.cache != nil {
		if err := s.cache.Store(token); err != nil {
			s.logger.Warn("storing token cache failed", "error", err)
		}
	}
	return token, nil
}

// Invalidate drops both the in-memory token and the disk cache so the next
// Token call hits the endpoint.
func (s *HTTPTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	if s.cache != nil {
		if err := s.cache.Clear(); err != nil {
			s.logger.Warn("clearing token cache failed", "error", err)
		}
	}
}

func (s *HTTPTokenSource) refresh(ctx context.Context) (*pqi.Token, error) {
	secret, err := os.ReadFile(s.secretPath)
	if err != nil {
		return nil, &pqi.AuthError{Reason: "reading client secret", Err: err}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", strings.TrimSpace(string(secret)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &pqi.AuthError{Reason: "building token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &pqi.AuthError{Reason: "token endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pqi.AuthError{Reason: "reading token response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &pqi.AuthError{Reason: fmt.Sprintf("token endpoint returned %d", resp.StatusCode)}
	}

	var doc struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
		ExpiresIn   int64  `json:"expires_in"`
		ExpiresAt   int64  `json:"expires_at"` // epoch seconds, alternative shape
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &pqi.AuthError{Reason: "decoding token response", Err: err}
	}

	value := doc.AccessToken
	if value == "" {
		value = doc.Token
	}
	if value == "" {
		return nil, &pqi.AuthError{Reason: "token response carried no token"}
	}

	expiresAt := time.Time{}
	switch {
	case doc.ExpiresAt > 0:
		expiresAt = time.Unix(doc.ExpiresAt, 0)
	case doc.ExpiresIn > 0:
		expiresAt = s.clock.Now().Add(time.Duration(doc.ExpiresIn) * time.Second)
	default:
		return nil, &pqi.AuthError{Reason: "token response carried no expiry"}
	}

	s.logger.Debug("token refreshed", "expires_at", expiresAt)
	return &pqi.Token{Value: value, ExpiresAt: expiresAt}, nil
}

// StaticTokenSource returns one fixed token. For tests and dev setups.
type StaticTokenSource struct {
	token pqi.Token
}

var _ pqi.TokenSource = (*StaticTokenSource)(nil)

// NewStaticTokenSource wraps a raw token value; it never expires.
func NewStaticTokenSource(value string) *StaticTokenSource {
	return &StaticTokenSource{token: pqi.Token{
		Value:     value,
		ExpiresAt: time.Now().Add(100 * 365 * 24 * time.Hour),
	}}
}

func (s *StaticTokenSource) Token(context.Context) (*pqi.Token, error) {
	if s.token.Value == "" {
		return nil, &pqi.AuthError{Reason: "no static token configured"}
	}
	return &s.token, nil
}

func (s *StaticTokenSource) Invalidate() {}
