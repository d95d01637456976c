// Package callbackclient posts the final outcome of an issuance back to the
// URL the requesting system registered with the credential request.
package callbackclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"issuant/internal/platform/oauth"
	dErrors "issuant/pkg/domain-errors"
)

const defaultTimeout = 10 * time.Second

// HTTPDoer is the minimal HTTP client surface the callback client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config carries the token endpoint used to authenticate callback posts.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient HTTPDoer
}

// Client posts issuer responses to per-request callback URLs.
type Client struct {
	cfg    Config
	http   HTTPDoer
	tokens *oauth.TokenSource
}

func New(cfg Config) (*Client, error) {
	if cfg.TokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("callback token endpoint and client credentials must be set")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		tokens: oauth.NewTokenSource(httpClient),
	}, nil
}

type issuerResponse struct {
	Bpn     string `json:"bpn"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TriggerCallback posts the issuance outcome for the holder to callbackURL.
func (c *Client) TriggerCallback(ctx context.Context, callbackURL, holderBpn, status, message string) error {
	token, err := c.tokens.Token(ctx, c.cfg.TokenURL, c.cfg.ClientID, c.cfg.ClientSecret)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(issuerResponse{Bpn: holderBpn, Status: status, Message: message})
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.NewServiceFailure("callback failed", true, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16)) //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return dErrors.NewServiceFailure(
			fmt.Sprintf("callback returned status %d", resp.StatusCode),
			resp.StatusCode >= http.StatusInternalServerError, nil)
	}
	return nil
}
