package didresolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "issuant/pkg/domain-errors"
)

func TestValidateLocation(t *testing.T) {
	valid := []string{
		"https://wallet.example.com/did.json",
		"https://wallet.example.com/BPNL000000000001/did.json",
	}
	for _, location := range valid {
		assert.NoError(t, ValidateLocation(location), location)
	}

	invalid := []string{
		"",
		"not a url",
		"http://wallet.example.com/did.json",
		"ftp://wallet.example.com/did.json",
		"https://wallet.example.com/did.json?version=1",
		"https://wallet.example.com/did.json#key-1",
		"https://wallet.example.com/%7Bdid%7D.json",
		"https://wallet.example.com/did[1].json",
		"https://wallet.example.com/did`.json",
		"/relative/did.json",
	}
	for _, location := range invalid {
		err := ValidateLocation(location)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), location)
	}
}

func TestResolve(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/did.json":
			w.Write([]byte(`{"id": "did:web:wallet.example.com:BPNL000000000001", "verificationMethod": []}`))
		case "/empty.json":
			w.Write([]byte(`{}`))
		case "/broken.json":
			w.Write([]byte(`{`))
		case "/missing.json":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	// the test server only speaks on 127.0.0.1; rewrite requests to it while
	// keeping https locations for validation
	client := srv.Client()
	resolver := New(WithHTTPClient(doerFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Host = srv.Listener.Addr().String()
		return client.Do(req)
	})))

	ctx := context.Background()

	did, err := resolver.Resolve(ctx, "https://wallet.example.com/did.json")
	require.NoError(t, err)
	assert.Equal(t, "did:web:wallet.example.com:BPNL000000000001", did)

	_, err = resolver.Resolve(ctx, "https://wallet.example.com/empty.json")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = resolver.Resolve(ctx, "https://wallet.example.com/broken.json")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = resolver.Resolve(ctx, "https://wallet.example.com/missing.json")
	require.True(t, dErrors.HasCode(err, dErrors.CodeServiceFailure))
	assert.False(t, dErrors.IsRecoverable(err))

	_, err = resolver.Resolve(ctx, "https://wallet.example.com/error")
	require.True(t, dErrors.HasCode(err, dErrors.CodeServiceFailure))
	assert.True(t, dErrors.IsRecoverable(err))

	_, err = resolver.Resolve(ctx, "https://wallet.example.com/did.json?x=1")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }
