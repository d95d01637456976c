// Package oauth fetches and caches client-credentials access tokens.
package oauth

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

	"github.com/golang-jwt/jwt/v5"

	dErrors "issuant/pkg/domain-errors"
)

// tokenSkew is subtracted from a token's expiry so a token is never used
// right at its edge.
const tokenSkew = 30 * time.Second

const maxResponseBytes = 1 << 20

// HTTPDoer is the minimal HTTP client surface the token source needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenSource fetches client-credentials tokens with HTTP basic auth and
// caches them per (token URL, client id) until shortly before expiry. The
// expiry is read from the token's exp claim when it is a JWT, falling back
// to the expires_in field of the token response.
type TokenSource struct {
	client HTTPDoer
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]cachedToken
}

func NewTokenSource(client HTTPDoer) *TokenSource {
	return &TokenSource{
		client: client,
		now:    time.Now,
		tokens: make(map[string]cachedToken),
	}
}

func (s *TokenSource) Token(ctx context.Context, tokenURL, clientID, clientSecret string) (string, error) {
	key := tokenURL + "|" + clientID
	now := s.now()

	s.mu.Lock()
	cached, ok := s.tokens[key]
	s.mu.Unlock()
	if ok && cached.expiresAt.After(now) {
		return cached.value, nil
	}

	token, expiresAt, err := s.fetch(ctx, tokenURL, clientID, clientSecret)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.tokens[key] = cachedToken{value: token, expiresAt: expiresAt}
	s.mu.Unlock()
	return token, nil
}

func (s *TokenSource) fetch(ctx context.Context, tokenURL, clientID, clientSecret string) (string, time.Time, error) {
	form := url.Values{"grant_type": []string{"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, clientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", time.Time{}, dErrors.NewServiceFailure("token-post failed", true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", time.Time{}, dErrors.NewServiceFailure("token-post failed", true, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, dErrors.NewServiceFailure(
			fmt.Sprintf("token-post returned status %d", resp.StatusCode),
			resp.StatusCode >= http.StatusInternalServerError, nil)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeServiceFailure, "token response is not valid JSON")
	}
	if payload.AccessToken == "" {
		return "", time.Time{}, dErrors.New(dErrors.CodeConflict, "token response must contain an access token")
	}

	expiresAt := s.expiry(payload.AccessToken, payload.ExpiresIn)
	return payload.AccessToken, expiresAt, nil
}

// expiry prefers the exp claim of a JWT access token; opaque tokens use the
// advertised expires_in. A token with neither is never cached.
func (s *TokenSource) expiry(token string, expiresIn int) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.Add(-tokenSkew)
		}
	}
	if expiresIn > 0 {
		return s.now().Add(time.Duration(expiresIn)*time.Second - tokenSkew)
	}
	return s.now()
}
