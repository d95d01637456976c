// Package creation executes the credential creation pipeline: sign the
// schema, store the signed document, deliver to the holder wallet and report
// back over the callback URL.
package creation

import (
	"context"
	"crypto/sha512"
	"time"

	"issuant/internal/cipher"
	credmodels "issuant/internal/credential/models"
	"issuant/internal/process/engine"
	"issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// signedCredentialDocument is the stored name of the fetched signed payload.
const signedCredentialDocument = "credential.json"

// Store is the slice of the credential store the pipeline needs.
type Store interface {
	FindRequest(ctx context.Context, credentialID id.CredentialID) (*credmodels.CredentialRequest, error)
	FindRequestByProcessID(ctx context.Context, processID id.ProcessID) (*credmodels.CredentialRequest, error)
	UpdateRequest(ctx context.Context, req *credmodels.CredentialRequest) error
	FindDetailData(ctx context.Context, credentialID id.CredentialID) (*credmodels.ProcessDetailData, error)
	CreateDocument(ctx context.Context, doc *credmodels.Document) error
}

// WalletClient is the signing and delivery surface of the external wallet.
type WalletClient interface {
	SignCredential(ctx context.Context, schema []byte) (externalCredentialID string, err error)
	FetchSignedCredential(ctx context.Context, externalCredentialID string) ([]byte, error)
	DeliverCredential(ctx context.Context, walletURL, clientID, clientSecret string, credential []byte) (walletRequestID string, err error)
	PollDeliveryStatus(ctx context.Context, walletRequestID string) (credmodels.WalletRequestStatus, error)
	ApproveDelivery(ctx context.Context, walletRequestID string) error
}

// CallbackClient posts the final issuer response to the requester's callback
// URL.
type CallbackClient interface {
	TriggerCallback(ctx context.Context, callbackURL, holderBpn, status, message string) error
}

// ProcessStore creates the decline process spawned for a superseded
// credential.
type ProcessStore interface {
	CreateProcess(ctx context.Context, process *models.ProcessRun) error
	CreateSteps(ctx context.Context, steps ...*models.ProcessStep) error
}

// Executor runs the CREATE_CREDENTIAL pipeline.
type Executor struct {
	store     Store
	processes ProcessStore
	wallet    WalletClient
	callback  CallbackClient
	cipher    *cipher.Registry
	now       func() time.Time
}

func New(store Store, processes ProcessStore, wallet WalletClient, callback CallbackClient, cipherRegistry *cipher.Registry) *Executor {
	return &Executor{
		store:     store,
		processes: processes,
		wallet:    wallet,
		callback:  callback,
		cipher:    cipherRegistry,
		now:       time.Now,
	}
}

func (e *Executor) ProcessType() models.ProcessType { return models.ProcessCreateCredential }

func (e *Executor) StepTypes() []models.StepType { return models.CreationStepTypes() }

// IsLockRequested: every creation step mutates the credential aggregate, so
// the whole pipeline runs under the process lock.
func (e *Executor) IsLockRequested(models.StepType) bool { return true }

func (e *Executor) ResolveCredentialID(ctx context.Context, processID id.ProcessID) (id.CredentialID, error) {
	req, err := e.store.FindRequestByProcessID(ctx, processID)
	if err != nil {
		return id.CredentialID{}, dErrors.Wrap(err, dErrors.CodeUnexpectedCondition, "credential id should never be empty here")
	}
	return req.ID, nil
}

func (e *Executor) Execute(ctx context.Context, credentialID id.CredentialID, step models.StepType) (engine.StepResult, error) {
	switch step.Target() {
	case models.StepCreateSignedCredential:
		return e.createSignedCredential(ctx, credentialID)
	case models.StepSaveCredentialDocument:
		return e.saveCredentialDocument(ctx, credentialID)
	case models.StepRequestCredentialForHolder:
		return e.requestCredentialForHolder(ctx, credentialID)
	case models.StepRequestCredentialAutoApprove:
		return e.autoApprove(ctx, credentialID)
	case models.StepRequestCredentialStatusCheck:
		return e.statusCheck(ctx, credentialID)
	case models.StepTriggerCallback:
		return e.triggerCallback(ctx, credentialID)
	case models.StepRevokeReissuedCredential:
		return e.revokeReissuedCredential(ctx, credentialID)
	default:
		return engine.StepResult{}, dErrors.NewWithParameters(dErrors.CodeUnexpectedCondition, "step type not part of the creation pipeline", map[string]string{
			"stepType": string(step),
		})
	}
}

// createSignedCredential submits the schema document to the external signer
// and records the assigned external credential id.
func (e *Executor) createSignedCredential(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	detail, err := e.store.FindDetailData(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	externalID, err := e.wallet.SignCredential(ctx, detail.Schema)
	if err != nil {
		return engine.StepResult{}, err
	}

	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	req.ExternalCredentialID = &externalID
	if err := e.store.UpdateRequest(ctx, req); err != nil {
		return engine.StepResult{}, err
	}
	next := models.StepSaveCredentialDocument
	if req.ReissuedFromID != nil {
		next = models.StepRevokeReissuedCredential
	}
	return engine.StepResult{
		NextSteps: []models.StepType{next},
		Modified:  true,
	}, nil
}

// revokeReissuedCredential spawns the decline process of the credential this
// request supersedes and relinks the superseded request to it, then resumes
// the creation pipeline.
func (e *Executor) revokeReissuedCredential(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	if req.ReissuedFromID == nil {
		return engine.StepResult{}, dErrors.New(dErrors.CodeConflict, "id of the credential to revoke should always be set here")
	}
	predecessor, err := e.store.FindRequest(ctx, *req.ReissuedFromID)
	if err != nil {
		return engine.StepResult{}, err
	}

	now := e.now().UTC()
	decline := models.NewProcessRun(id.NewProcessID(), models.ProcessDeclineCredential)
	revoke := models.NewProcessStep(id.NewProcessStepID(), decline.ID, models.StepRevokeCredential, now)
	if err := e.processes.CreateProcess(ctx, decline); err != nil {
		return engine.StepResult{}, err
	}
	if err := e.processes.CreateSteps(ctx, revoke); err != nil {
		return engine.StepResult{}, err
	}

	predecessor.ProcessID = &decline.ID
	if err := e.store.UpdateRequest(ctx, predecessor); err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{
		NextSteps: []models.StepType{models.StepSaveCredentialDocument},
		Modified:  true,
	}, nil
}

// saveCredentialDocument fetches the signed payload back from the signer and
// stores it on the request and as a document.
func (e *Executor) saveCredentialDocument(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	if req.ExternalCredentialID == nil {
		return engine.StepResult{}, dErrors.NewWithParameters(dErrors.CodeConflict, "external credential id must be set here", map[string]string{
			"credentialId": credentialID.String(),
		})
	}

	signed, err := e.wallet.FetchSignedCredential(ctx, *req.ExternalCredentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	req.SignedCredential = signed
	if err := e.store.UpdateRequest(ctx, req); err != nil {
		return engine.StepResult{}, err
	}

	hash := sha512.Sum512(signed)
	doc := &credmodels.Document{
		ID:           id.NewDocumentID(),
		CredentialID: credentialID,
		Name:         signedCredentialDocument,
		Content:      signed,
		Hash:         hash[:],
		MediaType:    "application/json",
		Type:         credmodels.DocumentTypeVerifiedCredential,
		Status:       credmodels.DocumentStatusActive,
		CreatedAt:    e.now().UTC(),
		CreatorID:    req.CreatorID,
	}
	if err := e.store.CreateDocument(ctx, doc); err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{
		NextSteps: []models.StepType{models.StepRequestCredentialForHolder},
		Modified:  true,
	}, nil
}

// requestCredentialForHolder delivers the signed credential into the
// holder's managed wallet. Holders without a managed wallet, and the issuer
// itself, skip straight to the callback.
func (e *Executor) requestCredentialForHolder(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	detail, err := e.store.FindDetailData(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}

	if req.HolderBpn == req.IssuerBpn {
		return engine.StepResult{
			NextSteps: callbackOrNothing(detail),
			Status:    models.StepStatusSkipped,
			Message:   "step skipped because the holder is the issuer",
		}, nil
	}
	if !detail.HasHolderWallet() || !detail.HasEncryptionData() {
		return engine.StepResult{
			NextSteps: callbackOrNothing(detail),
			Status:    models.StepStatusSkipped,
			Message:   "step skipped because the holder brought their own wallet",
		}, nil
	}
	if len(req.SignedCredential) == 0 {
		return engine.StepResult{}, dErrors.New(dErrors.CodeConflict, "signed credential must be set here")
	}

	secret, err := e.cipher.Decrypt(detail.EncryptedSecret, detail.IV, *detail.CipherIndex)
	if err != nil {
		return engine.StepResult{}, err
	}
	walletRequestID, err := e.wallet.DeliverCredential(ctx, detail.HolderWalletURL, detail.ClientID, secret, req.SignedCredential)
	if err != nil {
		return engine.StepResult{}, err
	}

	req.WalletRequestID = &walletRequestID
	req.WalletRequestStatus = credmodels.WalletRequestReceived
	if err := e.store.UpdateRequest(ctx, req); err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{
		NextSteps: []models.StepType{models.StepRequestCredentialStatusCheck},
		Modified:  true,
	}, nil
}

// statusCheck polls the delivery status. A delivery still awaiting holder
// approval schedules the auto-approve step; an unfinished one leaves the
// step TODO for the next pass.
func (e *Executor) statusCheck(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	if req.WalletRequestID == nil {
		return engine.StepResult{}, dErrors.New(dErrors.CodeConflict, "wallet request id must be set here")
	}

	status, err := e.wallet.PollDeliveryStatus(ctx, *req.WalletRequestID)
	if err != nil {
		return engine.StepResult{}, err
	}
	if status != req.WalletRequestStatus {
		req.WalletRequestStatus = status
		if err := e.store.UpdateRequest(ctx, req); err != nil {
			return engine.StepResult{}, err
		}
	}

	switch status {
	case credmodels.WalletRequestReceived:
		return engine.StepResult{
			NextSteps: []models.StepType{models.StepRequestCredentialAutoApprove},
			Modified:  true,
		}, nil
	case credmodels.WalletRequestApproved:
		return engine.StepResult{
			Status:  models.StepStatusTodo,
			Message: "credential delivery still pending",
		}, nil
	case credmodels.WalletRequestDelivered:
		detail, err := e.store.FindDetailData(ctx, credentialID)
		if err != nil {
			return engine.StepResult{}, err
		}
		return engine.StepResult{
			NextSteps: callbackOrNothing(detail),
			Modified:  true,
		}, nil
	default:
		return engine.StepResult{}, dErrors.NewWithParameters(dErrors.CodeUnexpectedCondition, "unknown wallet request status", map[string]string{
			"status": string(status),
		})
	}
}

// autoApprove confirms the delivery on the holder's behalf and hands back to
// the status check.
func (e *Executor) autoApprove(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	if req.WalletRequestID == nil {
		return engine.StepResult{}, dErrors.New(dErrors.CodeConflict, "wallet request id must be set here")
	}
	if err := e.wallet.ApproveDelivery(ctx, *req.WalletRequestID); err != nil {
		return engine.StepResult{}, err
	}
	req.WalletRequestStatus = credmodels.WalletRequestApproved
	if err := e.store.UpdateRequest(ctx, req); err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{
		NextSteps: []models.StepType{models.StepRequestCredentialStatusCheck},
		Modified:  true,
	}, nil
}

// triggerCallback posts the final issuer response. Terminal.
func (e *Executor) triggerCallback(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	detail, err := e.store.FindDetailData(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	if detail.CallbackURL == "" {
		return engine.StepResult{}, dErrors.New(dErrors.CodeConflict, "callback url must be set here")
	}
	if err := e.callback.TriggerCallback(ctx, detail.CallbackURL, req.HolderBpn, "SUCCESSFUL", "Successfully created Credential"); err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{}, nil
}

// callbackOrNothing schedules the callback step only when the requester
// registered a callback URL; otherwise the pipeline ends here.
func callbackOrNothing(detail *credmodels.ProcessDetailData) []models.StepType {
	if detail.CallbackURL == "" {
		return nil
	}
	return []models.StepType{models.StepTriggerCallback}
}
