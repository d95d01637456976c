// Package portalclient delivers holder-facing notifications and templated
// mails through the portal backend.
package portalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"issuant/internal/platform/oauth"
	dErrors "issuant/pkg/domain-errors"
)

const (
	notificationPath = "/api/notifications/management"
	mailPath         = "/api/administration/mail"

	defaultTimeout = 10 * time.Second
)

// HTTPDoer is the minimal HTTP client surface the portal client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config wires the client to the portal backend and its token endpoint.
type Config struct {
	// BaseURL of the portal backend, without trailing slash.
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient HTTPDoer
}

// Client implements the notification and mail surface of the portal.
type Client struct {
	cfg    Config
	http   HTTPDoer
	tokens *oauth.TokenSource
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("portal base URL must be set")
	}
	if cfg.TokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("portal token endpoint and client credentials must be set")
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

type notificationRequest struct {
	Requester          string `json:"requester"`
	Content            string `json:"content"`
	NotificationTypeID string `json:"notificationTypeId"`
}

type mailParameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mailRequest struct {
	Requester  string          `json:"requester"`
	Template   string          `json:"template"`
	Parameters []mailParameter `json:"mailParameters"`
}

// AddNotification posts an in-portal notification to the holder company.
func (c *Client) AddNotification(ctx context.Context, recipientBpn, content, notificationType string) error {
	payload := notificationRequest{
		Requester:          recipientBpn,
		Content:            content,
		NotificationTypeID: notificationType,
	}
	return c.post(ctx, c.cfg.BaseURL+notificationPath, payload, "notification-post")
}

// TriggerMail asks the portal to render and send the named mail template to
// the holder company. Parameters are sorted by key so the request body is
// deterministic.
func (c *Client) TriggerMail(ctx context.Context, recipientBpn, template string, parameters map[string]string) error {
	keys := make([]string, 0, len(parameters))
	for key := range parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	mailParameters := make([]mailParameter, 0, len(keys))
	for _, key := range keys {
		mailParameters = append(mailParameters, mailParameter{Key: key, Value: parameters[key]})
	}
	payload := mailRequest{Requester: recipientBpn, Template: template, Parameters: mailParameters}
	return c.post(ctx, c.cfg.BaseURL+mailPath, payload, "mail-post")
}

func (c *Client) post(ctx context.Context, url string, payload any, op string) error {
	token, err := c.tokens.Token(ctx, c.cfg.TokenURL, c.cfg.ClientID, c.cfg.ClientSecret)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.NewServiceFailure(op+" failed", true, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16)) //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return dErrors.NewServiceFailure(
			fmt.Sprintf("%s returned status %d", op, resp.StatusCode),
			resp.StatusCode >= http.StatusInternalServerError, nil)
	}
	return nil
}
