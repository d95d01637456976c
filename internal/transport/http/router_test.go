package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuant/internal/cipher"
	credmodels "issuant/internal/credential/models"
	"issuant/internal/credential/service"
	credstore "issuant/internal/credential/store"
	"issuant/internal/platform/database"
	processstore "issuant/internal/process/store"
	id "issuant/pkg/domain"
)

const (
	testSigningKey = "test-signing-key"
	testHolderBpn  = "BPNL000000000001"
	testIssuerBpn  = "BPNL00000000OPERATOR"
	testCipherKey  = "0011223344556677889900112233445566778899001122334455667788990011"
)

type fakeResolver struct{ did string }

func (r fakeResolver) Resolve(context.Context, string) (string, error) { return r.did, nil }

type fakeWallet struct{}

func (fakeWallet) RevokeCredential(context.Context, string) error { return nil }

type fakeNotifier struct{}

func (fakeNotifier) AddNotification(context.Context, string, string, string) error { return nil }
func (fakeNotifier) TriggerMail(context.Context, string, string, map[string]string) error {
	return nil
}

type routerFixture struct {
	server *httptest.Server
	store  *credstore.InMemory
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	cfg, err := cipher.NewConfigFromHexKey(1, testCipherKey)
	require.NoError(t, err)
	registry, err := cipher.NewRegistry(1, cfg)
	require.NoError(t, err)

	st := credstore.NewInMemory()
	svc := service.New(st, processstore.NewInMemory(), database.NewInMemoryTx(), registry,
		fakeResolver{did: "did:web:holder.example.com"}, fakeWallet{}, fakeNotifier{},
		service.Settings{
			IssuerDid:     "did:web:issuer.example.com",
			IssuerBpn:     testIssuerBpn,
			StatusListURL: "https://issuer.example.com/status/1",
			MaxPageSize:   100,
		})

	logger := slog.New(slog.DiscardHandler)
	router := NewRouter(NewHandler(svc, logger), testSigningKey, logger)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &routerFixture{server: server, store: st}
}

func bearerToken(t *testing.T, bpn string, serviceAccount bool) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":             uuid.New().String(),
		"bpn":             bpn,
		"service_account": serviceAccount,
		"exp":             time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return token
}

func (f *routerFixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(encoded)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reqBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthIsPublic(t *testing.T) {
	f := newRouterFixture(t)
	resp := f.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.request(t, http.MethodGet, "/api/issuer/owned-credentials", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.New().String(), "bpn": testHolderBpn,
	}).SignedString([]byte("wrong-key"))
	require.NoError(t, err)
	resp = f.request(t, http.MethodGet, "/api/issuer/owned-credentials", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitBpnCredential(t *testing.T) {
	f := newRouterFixture(t)
	token := bearerToken(t, testHolderBpn, false)

	resp := f.request(t, http.MethodPost, "/api/issuer/bpn", token, map[string]any{
		"holderBpn":         testHolderBpn,
		"holderDidLocation": "https://holder.example.com/did.json",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeBody(t, resp)
	credentialID, err := uuid.Parse(created["id"].(string))
	require.NoError(t, err)

	stored, err := f.store.FindRequest(context.Background(), id.CredentialID(credentialID))
	require.NoError(t, err)
	assert.Equal(t, credmodels.StatusActive, stored.Status)
}

func TestSubmitFrameworkCredentialValidation(t *testing.T) {
	f := newRouterFixture(t)
	token := bearerToken(t, testHolderBpn, false)

	resp := f.request(t, http.MethodPost, "/api/issuer/framework", token, map[string]any{
		"holderBpn":       testHolderBpn,
		"credentialType":  "FrameworkAgreement",
		"detailVersionId": "not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// unknown version id passes parsing but fails in the service
	resp = f.request(t, http.MethodPost, "/api/issuer/framework", token, map[string]any{
		"holderBpn":         testHolderBpn,
		"credentialType":    "FrameworkAgreement",
		"detailVersionId":   uuid.New().String(),
		"holderDidLocation": "https://holder.example.com/did.json",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", decodeBody(t, resp)["error"])
}

func TestApprovalFlow(t *testing.T) {
	f := newRouterFixture(t)
	holder := bearerToken(t, testHolderBpn, false)
	operator := bearerToken(t, testIssuerBpn, false)
	technical := bearerToken(t, testIssuerBpn, true)

	version := &credmodels.ExternalTypeDetailVersion{
		ID:             id.NewDetailVersionID(),
		ExternalTypeID: "traceability",
		CredentialType: credmodels.TypeFrameworkAgreement,
		Version:        "1.0",
		Template:       "https://example.com/template.pdf",
		ValidFrom:      time.Now().Add(-time.Hour),
		Expiry:         time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, f.store.CreateDetailVersion(context.Background(), version))

	resp := f.request(t, http.MethodPost, "/api/issuer/framework", holder, map[string]any{
		"holderBpn":         testHolderBpn,
		"credentialType":    "FrameworkAgreement",
		"detailVersionId":   version.ID.String(),
		"holderDidLocation": "https://holder.example.com/did.json",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	credentialID := decodeBody(t, resp)["id"].(string)

	// technical users cannot decide
	resp = f.request(t, http.MethodPut, "/api/issuer/"+credentialID+"/approval", technical, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.request(t, http.MethodPut, "/api/issuer/"+credentialID+"/approval", operator, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// approval is not re-entrant
	resp = f.request(t, http.MethodPut, "/api/issuer/"+credentialID+"/approval", operator, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListCredentialsPaging(t *testing.T) {
	f := newRouterFixture(t)
	token := bearerToken(t, testHolderBpn, false)

	for range 3 {
		resp := f.request(t, http.MethodPost, "/api/issuer/membership", token, map[string]any{
			"holderBpn":         "BPNL0000000000" + uuid.New().String()[:2],
			"holderDidLocation": "https://holder.example.com/did.json",
			"memberOf":          "Catena-X",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := f.request(t, http.MethodGet, "/api/issuer/?page=0&size=2", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(3), meta["totalElements"])
	assert.Equal(t, float64(2), meta["totalPages"])
	assert.Len(t, body["content"].([]any), 2)
}

func TestCredentialDocumentRoutes(t *testing.T) {
	f := newRouterFixture(t)
	token := bearerToken(t, testHolderBpn, false)

	resp := f.request(t, http.MethodGet, "/api/credential/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/credential/"+uuid.New().String(), token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRevocationRequiresExistingCredential(t *testing.T) {
	f := newRouterFixture(t)
	operator := bearerToken(t, testIssuerBpn, false)

	resp := f.request(t, http.MethodPost, "/api/revocation/issuer/credentials/"+uuid.New().String(), operator, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
