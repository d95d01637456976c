// Package didresolver fetches DID documents from holder-supplied locations
// and extracts the holder DID.
package didresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	dErrors "issuant/pkg/domain-errors"
)

// urlPathInvalidChars rejects characters that are never valid in a DID
// document path and hint at request smuggling.
var urlPathInvalidChars = regexp.MustCompile("[\"<>#%{}|\\\\^~\\[\\]`]+")

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Document is the subset of a DID document the issuer needs.
type Document struct {
	ID string `json:"id"`
}

// Resolver downloads DID documents over HTTPS.
type Resolver struct {
	client HTTPDoer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client HTTPDoer) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// New creates a DID resolver with a timeout-bounded default client.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ValidateLocation checks that a DID document location is an absolute HTTPS
// URL without query, fragment, or unsafe path characters.
func ValidateLocation(location string) error {
	u, err := url.Parse(location)
	if err != nil || !u.IsAbs() || u.Scheme != "https" || u.Host == "" ||
		u.RawQuery != "" || u.Fragment != "" || urlPathInvalidChars.MatchString(u.Path) {
		return dErrors.NewWithParameters(dErrors.CodeInvalidInput, "invalid did document location", map[string]string{
			"didDocumentLocation": location,
		})
	}
	return nil
}

// Resolve downloads the DID document at location and returns its id.
func (r *Resolver) Resolve(ctx context.Context, location string) (string, error) {
	if err := ValidateLocation(location); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("create did document request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", dErrors.NewServiceFailure("get-did-document failed", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		recoverable := resp.StatusCode >= http.StatusInternalServerError
		return "", dErrors.NewServiceFailure(
			fmt.Sprintf("get-did-document returned status %d", resp.StatusCode), recoverable, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", dErrors.NewServiceFailure("read did document response", true, err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeConflict, "did document is not valid json")
	}
	if doc.ID == "" {
		return "", dErrors.New(dErrors.CodeConflict, "did document has no id")
	}
	return doc.ID, nil
}
