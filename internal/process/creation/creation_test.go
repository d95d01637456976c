package creation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuant/internal/cipher"
	credmodels "issuant/internal/credential/models"
	credstore "issuant/internal/credential/store"
	"issuant/internal/process/models"
	processstore "issuant/internal/process/store"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

const (
	holderBpn = "BPNL000000000001"
	issuerBpn = "BPNL00000000OPERATOR"
	cipherKey = "5c7e9b3d1f4a6c8e0b2d4f6a8c0e2f4a6b8d0f2a4c6e8a0c2e4f6a8b0d2f4a6c"
)

type fakeWallet struct {
	externalID    string
	signed        []byte
	walletRequest string
	status        credmodels.WalletRequestStatus

	signedSchemas []([]byte)
	delivered     []string
	approved      []string
	polled        []string
	err           error
}

func (f *fakeWallet) SignCredential(_ context.Context, schema []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.signedSchemas = append(f.signedSchemas, schema)
	return f.externalID, nil
}

func (f *fakeWallet) FetchSignedCredential(_ context.Context, externalCredentialID string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.signed, nil
}

func (f *fakeWallet) DeliverCredential(_ context.Context, walletURL, clientID, clientSecret string, credential []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.delivered = append(f.delivered, clientSecret)
	return f.walletRequest, nil
}

func (f *fakeWallet) PollDeliveryStatus(_ context.Context, walletRequestID string) (credmodels.WalletRequestStatus, error) {
	if f.err != nil {
		return "", f.err
	}
	f.polled = append(f.polled, walletRequestID)
	return f.status, nil
}

func (f *fakeWallet) ApproveDelivery(_ context.Context, walletRequestID string) error {
	if f.err != nil {
		return f.err
	}
	f.approved = append(f.approved, walletRequestID)
	return nil
}

type callbackCall struct {
	url     string
	bpn     string
	status  string
	message string
}

type fakeCallback struct {
	calls []callbackCall
}

func (f *fakeCallback) TriggerCallback(_ context.Context, callbackURL, holderBpn, status, message string) error {
	f.calls = append(f.calls, callbackCall{url: callbackURL, bpn: holderBpn, status: status, message: message})
	return nil
}

type fixture struct {
	executor  *Executor
	store     *credstore.InMemory
	processes *processstore.InMemory
	wallet    *fakeWallet
	callback  *fakeCallback
	registry  *cipher.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := cipher.NewConfigFromHexKey(1, cipherKey)
	require.NoError(t, err)
	registry, err := cipher.NewRegistry(1, cfg)
	require.NoError(t, err)

	f := &fixture{
		store:     credstore.NewInMemory(),
		processes: processstore.NewInMemory(),
		wallet: &fakeWallet{
			externalID:    "urn:uuid:7d3f2a9e-5b1c-4f8a-9d6e-2c4b8a0f1e3d",
			signed:        []byte(`{"proof":{}}`),
			walletRequest: "req-42",
			status:        credmodels.WalletRequestDelivered,
		},
		callback: &fakeCallback{},
		registry: registry,
	}
	f.executor = New(f.store, f.processes, f.wallet, f.callback, registry)
	return f
}

type requestOptions struct {
	withWallet   bool
	withCallback bool
	holderBpn    string
	signed       []byte
	externalID   *string
	reissuedFrom *id.CredentialID
}

func (f *fixture) seedRequest(t *testing.T, opts requestOptions) *credmodels.CredentialRequest {
	t.Helper()
	ctx := context.Background()
	holder := opts.holderBpn
	if holder == "" {
		holder = holderBpn
	}
	req, err := credmodels.NewCredentialRequest(id.NewCredentialID(), holder, issuerBpn,
		credmodels.TypeBusinessPartnerNumber, credmodels.KindBpn, id.NewIdentityID(), time.Now().UTC())
	require.NoError(t, err)
	processID := id.NewProcessID()
	req.ProcessID = &processID
	req.SignedCredential = opts.signed
	req.ExternalCredentialID = opts.externalID
	req.ReissuedFromID = opts.reissuedFrom
	require.NoError(t, f.store.CreateRequest(ctx, req))

	detail := &credmodels.ProcessDetailData{
		CredentialID: req.ID,
		Schema:       []byte(`{"type":["VerifiableCredential"]}`),
	}
	if opts.withWallet {
		index := f.registry.ActiveIndex()
		encrypted, iv, err := f.registry.Encrypt("wallet-secret", index)
		require.NoError(t, err)
		detail.HolderWalletURL = "https://wallet.example.com"
		detail.ClientID = "sa-credential"
		detail.EncryptedSecret = encrypted
		detail.IV = iv
		detail.CipherIndex = &index
	}
	if opts.withCallback {
		detail.CallbackURL = "https://portal.example.com/callback"
	}
	require.NoError(t, f.store.CreateDetailData(ctx, detail))
	return req
}

func TestResolveCredentialID(t *testing.T) {
	f := newFixture(t)
	req := f.seedRequest(t, requestOptions{})

	got, err := f.executor.ResolveCredentialID(context.Background(), *req.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got)

	_, err = f.executor.ResolveCredentialID(context.Background(), id.NewProcessID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnexpectedCondition))
}

func TestCreateSignedCredential(t *testing.T) {
	f := newFixture(t)
	req := f.seedRequest(t, requestOptions{})

	result, err := f.executor.Execute(context.Background(), req.ID, models.StepCreateSignedCredential)
	require.NoError(t, err)
	assert.Equal(t, []models.StepType{models.StepSaveCredentialDocument}, result.NextSteps)
	assert.True(t, result.Modified)

	got, err := f.store.FindRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExternalCredentialID)
	assert.Equal(t, f.wallet.externalID, *got.ExternalCredentialID)
	require.Len(t, f.wallet.signedSchemas, 1)
}

func TestCreateSignedCredentialRoutesRenewalToRevocation(t *testing.T) {
	f := newFixture(t)
	predecessor := f.seedRequest(t, requestOptions{})
	req := f.seedRequest(t, requestOptions{reissuedFrom: &predecessor.ID})

	result, err := f.executor.Execute(context.Background(), req.ID, models.StepCreateSignedCredential)
	require.NoError(t, err)
	assert.Equal(t, []models.StepType{models.StepRevokeReissuedCredential}, result.NextSteps)
}

func TestRevokeReissuedCredential(t *testing.T) {
	t.Run("spawns the decline process of the superseded credential", func(t *testing.T) {
		f := newFixture(t)
		predecessor := f.seedRequest(t, requestOptions{})
		creationProcessID := *predecessor.ProcessID
		req := f.seedRequest(t, requestOptions{reissuedFrom: &predecessor.ID})

		result, err := f.executor.Execute(context.Background(), req.ID, models.StepRevokeReissuedCredential)
		require.NoError(t, err)
		assert.Equal(t, []models.StepType{models.StepSaveCredentialDocument}, result.NextSteps)
		assert.True(t, result.Modified)

		got, err := f.store.FindRequest(context.Background(), predecessor.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ProcessID)
		assert.NotEqual(t, creationProcessID, *got.ProcessID)

		decline, err := f.processes.FindProcess(context.Background(), *got.ProcessID)
		require.NoError(t, err)
		assert.Equal(t, models.ProcessDeclineCredential, decline.Type)

		steps, err := f.processes.StepsByProcess(context.Background(), decline.ID)
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Equal(t, models.StepRevokeCredential, steps[0].Type)
		assert.Equal(t, models.StepStatusTodo, steps[0].Status)
	})

	t.Run("missing back reference is fatal", func(t *testing.T) {
		f := newFixture(t)
		req := f.seedRequest(t, requestOptions{})
		_, err := f.executor.Execute(context.Background(), req.ID, models.StepRevokeReissuedCredential)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func TestSaveCredentialDocument(t *testing.T) {
	f := newFixture(t)

	t.Run("requires external credential id", func(t *testing.T) {
		req := f.seedRequest(t, requestOptions{})
		_, err := f.executor.Execute(context.Background(), req.ID, models.StepSaveCredentialDocument)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("stores the signed payload", func(t *testing.T) {
		external := f.wallet.externalID
		req := f.seedRequest(t, requestOptions{externalID: &external})

		result, err := f.executor.Execute(context.Background(), req.ID, models.StepSaveCredentialDocument)
		require.NoError(t, err)
		assert.Equal(t, []models.StepType{models.StepRequestCredentialForHolder}, result.NextSteps)

		got, err := f.store.FindRequest(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, f.wallet.signed, got.SignedCredential)

		docs, err := f.store.DocumentsByCredential(context.Background(), req.ID)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, signedCredentialDocument, docs[0].Name)
		assert.Equal(t, credmodels.DocumentTypeVerifiedCredential, docs[0].Type)
	})
}

func TestRequestCredentialForHolderDelivers(t *testing.T) {
	f := newFixture(t)
	req := f.seedRequest(t, requestOptions{withWallet: true, withCallback: true, signed: []byte(`{"proof":{}}`)})

	result, err := f.executor.Execute(context.Background(), req.ID, models.StepRequestCredentialForHolder)
	require.NoError(t, err)
	assert.Equal(t, []models.StepType{models.StepRequestCredentialStatusCheck}, result.NextSteps)
	assert.True(t, result.Modified)

	// the stored secret was decrypted before delivery
	require.Len(t, f.wallet.delivered, 1)
	assert.Equal(t, "wallet-secret", f.wallet.delivered[0])

	got, err := f.store.FindRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WalletRequestID)
	assert.Equal(t, "req-42", *got.WalletRequestID)
	assert.Equal(t, credmodels.WalletRequestReceived, got.WalletRequestStatus)
}

func TestRequestCredentialForHolderSkips(t *testing.T) {
	f := newFixture(t)

	t.Run("holder is the issuer", func(t *testing.T) {
		req := f.seedRequest(t, requestOptions{holderBpn: issuerBpn, withWallet: true, withCallback: true})
		result, err := f.executor.Execute(context.Background(), req.ID, models.StepRequestCredentialForHolder)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusSkipped, result.Status)
		assert.Equal(t, []models.StepType{models.StepTriggerCallback}, result.NextSteps)
		assert.NotContains(t, result.NextSteps, models.StepRequestCredentialStatusCheck)
	})

	t.Run("holder brought their own wallet", func(t *testing.T) {
		req := f.seedRequest(t, requestOptions{withCallback: true})
		result, err := f.executor.Execute(context.Background(), req.ID, models.StepRequestCredentialForHolder)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusSkipped, result.Status)
		assert.Equal(t, []models.StepType{models.StepTriggerCallback}, result.NextSteps)
	})

	t.Run("no callback registered ends the pipeline", func(t *testing.T) {
		req := f.seedRequest(t, requestOptions{})
		result, err := f.executor.Execute(context.Background(), req.ID, models.StepRequestCredentialForHolder)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusSkipped, result.Status)
		assert.Empty(t, result.NextSteps)
	})

	assert.Empty(t, f.wallet.delivered)
}

func TestStatusCheck(t *testing.T) {
	walletRequest := "req-42"

	seed := func(t *testing.T, f *fixture) *credmodels.CredentialRequest {
		req := f.seedRequest(t, requestOptions{withWallet: true, withCallback: true})
		req.WalletRequestID = &walletRequest
		req.WalletRequestStatus = credmodels.WalletRequestReceived
		require.NoError(t, f.store.UpdateRequest(context.Background(), req))
		return req
	}

	t.Run("received schedules auto approve", func(t *testing.T) {
		f := newFixture(t)
		f.wallet.status = credmodels.WalletRequestReceived
		req := seed(t, f)
		result, err := f.executor.Execute(context.Background(), req.ID, models.StepRequestCredentialStatusCheck)
		require.NoError(t, err)
		assert.Equal(t, []models.StepType{models.StepRequestCredentialAutoApprove}, result.NextSteps)
	})

	t.Run("approved stays todo", func(t *testing.T) {
		f := newFixture(t)
		f.wallet.status = credmodels.WalletRequestApproved
		req := seed(t, f)
		result, err := f.executor.Execute(context.Background(), req.ID, models.StepRequestCredentialStatusCheck)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusTodo, result.Status)
		assert.Empty(t, result.NextSteps)
	})

	t.Run("delivered schedules callback", func(t *testing.T) {
		f := newFixture(t)
		f.wallet.status = credmodels.WalletRequestDelivered
		req := seed(t, f)
		result, err := f.executor.Execute(context.Background(), req.ID, models.StepRequestCredentialStatusCheck)
		require.NoError(t, err)
		assert.Equal(t, []models.StepType{models.StepTriggerCallback}, result.NextSteps)

		got, err := f.store.FindRequest(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, credmodels.WalletRequestDelivered, got.WalletRequestStatus)
	})

	t.Run("missing wallet request id is fatal", func(t *testing.T) {
		f := newFixture(t)
		req := f.seedRequest(t, requestOptions{})
		_, err := f.executor.Execute(context.Background(), req.ID, models.StepRequestCredentialStatusCheck)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func TestAutoApprove(t *testing.T) {
	f := newFixture(t)
	walletRequest := "req-42"
	req := f.seedRequest(t, requestOptions{withWallet: true})
	req.WalletRequestID = &walletRequest
	require.NoError(t, f.store.UpdateRequest(context.Background(), req))

	result, err := f.executor.Execute(context.Background(), req.ID, models.StepRequestCredentialAutoApprove)
	require.NoError(t, err)
	assert.Equal(t, []models.StepType{models.StepRequestCredentialStatusCheck}, result.NextSteps)
	assert.Equal(t, []string{walletRequest}, f.wallet.approved)

	got, err := f.store.FindRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, credmodels.WalletRequestApproved, got.WalletRequestStatus)
}

func TestTriggerCallback(t *testing.T) {
	f := newFixture(t)

	t.Run("requires callback url", func(t *testing.T) {
		req := f.seedRequest(t, requestOptions{})
		_, err := f.executor.Execute(context.Background(), req.ID, models.StepTriggerCallback)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("posts the issuer response", func(t *testing.T) {
		req := f.seedRequest(t, requestOptions{withCallback: true})
		result, err := f.executor.Execute(context.Background(), req.ID, models.StepTriggerCallback)
		require.NoError(t, err)
		assert.Empty(t, result.NextSteps)

		require.Len(t, f.callback.calls, 1)
		call := f.callback.calls[0]
		assert.Equal(t, "https://portal.example.com/callback", call.url)
		assert.Equal(t, holderBpn, call.bpn)
		assert.Equal(t, "SUCCESSFUL", call.status)
		assert.Equal(t, "Successfully created Credential", call.message)
	})
}

func TestRetriggerStepsRunTheirTarget(t *testing.T) {
	f := newFixture(t)
	req := f.seedRequest(t, requestOptions{})

	result, err := f.executor.Execute(context.Background(), req.ID, models.StepRetriggerCreateSignedCredential)
	require.NoError(t, err)
	assert.Equal(t, []models.StepType{models.StepSaveCredentialDocument}, result.NextSteps)
}
