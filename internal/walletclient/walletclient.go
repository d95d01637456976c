// Package walletclient talks to the external wallet that signs, stores and
// delivers verifiable credentials. The issuer wallet is addressed with a
// service-account token; holder deliveries authenticate against the holder's
// own wallet with the credentials the holder handed over at request time.
package walletclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	credmodels "issuant/internal/credential/models"
	"issuant/internal/platform/oauth"
	dErrors "issuant/pkg/domain-errors"
)

const (
	credentialsPath = "/api/v2.0.0/credentials"
	requestsPath    = "/api/v2.0.0/requests"

	// applicationName tags every wallet write with the issuing application.
	applicationName = "issuant"

	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
)

// HTTPDoer is the minimal HTTP client surface the wallet client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config wires the client to the issuer wallet and its token endpoint.
type Config struct {
	// BaseURL of the issuer wallet, without trailing slash.
	BaseURL string
	// TokenURL issues client-credentials tokens for the issuer wallet.
	TokenURL     string
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient HTTPDoer
}

// Client implements the signing, revocation and holder-delivery surface of
// the wallet.
type Client struct {
	cfg    Config
	http   HTTPDoer
	tokens *oauth.TokenSource
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("wallet base URL must be set")
	}
	if cfg.TokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("wallet token endpoint and client credentials must be set")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		tokens: oauth.NewTokenSource(httpClient),
	}, nil
}

type createCredentialRequest struct {
	Application string          `json:"application"`
	Payload     json.RawMessage `json:"payload"`
}

type createCredentialResponse struct {
	ID string `json:"id"`
}

// SignCredential creates the credential in the issuer wallet and requests an
// externally provable JWT signature for it. The returned id is the wallet's
// handle for all later operations on the credential.
func (c *Client) SignCredential(ctx context.Context, schema []byte) (string, error) {
	token, err := c.issuerToken(ctx)
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+credentialsPath, token,
		createCredentialRequest{Application: applicationName, Payload: schema}, "credential-post")
	if err != nil {
		return "", err
	}
	var created createCredentialResponse
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return "", dErrors.New(dErrors.CodeConflict, "credential-post response must contain a valid id")
	}

	sign := map[string]any{
		"id": created.ID,
		"payload": map[string]any{
			"sign": map[string]string{
				"proofMechanism": "external",
				"proofType":      "jwt",
			},
		},
	}
	if _, err := c.do(ctx, http.MethodPatch, c.credentialURL(created.ID), token, sign, "credential-sign"); err != nil {
		return "", err
	}
	return created.ID, nil
}

// FetchSignedCredential returns the signed credential document as the wallet
// serves it.
func (c *Client) FetchSignedCredential(ctx context.Context, externalCredentialID string) ([]byte, error) {
	token, err := c.issuerToken(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, c.credentialURL(externalCredentialID), token, nil, "credential-get")
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, dErrors.New(dErrors.CodeConflict, "credential-get response must be a JSON document")
	}
	return body, nil
}

// RevokeCredential marks the credential revoked in the issuer wallet, which
// flips the credential's entry on the status list.
func (c *Client) RevokeCredential(ctx context.Context, externalCredentialID string) error {
	token, err := c.issuerToken(ctx)
	if err != nil {
		return err
	}
	revoke := map[string]any{
		"id":      externalCredentialID,
		"payload": map[string]bool{"revoke": true},
	}
	_, err = c.do(ctx, http.MethodPatch, c.credentialURL(externalCredentialID), token, revoke, "credential-revoke")
	return err
}

// DeliverCredential pushes the signed credential into the holder's wallet,
// authenticating with the holder-supplied client credentials. The returned id
// identifies the holder wallet's acceptance request.
func (c *Client) DeliverCredential(ctx context.Context, walletURL, clientID, clientSecret string, credential []byte) (string, error) {
	walletURL = strings.TrimRight(walletURL, "/")
	token, err := c.tokens.Token(ctx, walletURL+"/oauth/token", clientID, clientSecret)
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, http.MethodPost, walletURL+credentialsPath, token,
		createCredentialRequest{Application: applicationName, Payload: credential}, "holder-credential-post")
	if err != nil {
		return "", err
	}
	var created createCredentialResponse
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return "", dErrors.New(dErrors.CodeConflict, "holder-credential-post response must contain a valid id")
	}
	return created.ID, nil
}

// PollDeliveryStatus reads the state of a holder delivery request.
func (c *Client) PollDeliveryStatus(ctx context.Context, walletRequestID string) (credmodels.WalletRequestStatus, error) {
	token, err := c.issuerToken(ctx)
	if err != nil {
		return credmodels.WalletRequestNone, err
	}
	body, err := c.do(ctx, http.MethodGet, c.requestURL(walletRequestID), token, nil, "request-get")
	if err != nil {
		return credmodels.WalletRequestNone, err
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Status == "" {
		return credmodels.WalletRequestNone, dErrors.New(dErrors.CodeConflict, "request-get response must contain a status")
	}
	return credmodels.WalletRequestStatus(payload.Status), nil
}

// ApproveDelivery confirms a received delivery request on the holder's
// behalf.
func (c *Client) ApproveDelivery(ctx context.Context, walletRequestID string) error {
	token, err := c.issuerToken(ctx)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.requestURL(walletRequestID)+"/approval", token, nil, "request-approve")
	return err
}

func (c *Client) issuerToken(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx, c.cfg.TokenURL, c.cfg.ClientID, c.cfg.ClientSecret)
}

func (c *Client) credentialURL(externalCredentialID string) string {
	return c.cfg.BaseURL + credentialsPath + "/" + externalCredentialID
}

func (c *Client) requestURL(walletRequestID string) string {
	return c.cfg.BaseURL + requestsPath + "/" + walletRequestID
}

// do sends one authenticated request and returns the response body. Failed
// requests come back as service failures; only transport errors and 5xx
// answers are recoverable.
func (c *Client) do(ctx context.Context, method, url, token string, payload any, op string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, dErrors.NewServiceFailure(op+" failed", true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, dErrors.NewServiceFailure(op+" failed", true, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, dErrors.NewServiceFailure(
			fmt.Sprintf("%s returned status %d", op, resp.StatusCode),
			resp.StatusCode >= http.StatusInternalServerError, nil)
	}
	return body, nil
}
