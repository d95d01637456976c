// Package decline executes the expiry/decline pipeline: revoke a superseded
// credential in the wallet, then notify and mail the original requester.
package decline

import (
	"context"
	"encoding/json"
	"time"

	credmodels "issuant/internal/credential/models"
	"issuant/internal/process/engine"
	"issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

const (
	notificationCredentialRejected = "CREDENTIAL_REJECTED"
	notificationCredentialRenewal  = "CREDENTIAL_RENEWAL"

	mailTemplateRejected = "CredentialRejected"
	mailTemplateRenewal  = "CredentialRenewal"

	reasonExpired  = "The credential is already expired"
	reasonReissued = "The credential about to expire is revoked and a new credential was reissued"
)

// Store is the slice of the credential store the pipeline needs.
type Store interface {
	FindRequest(ctx context.Context, credentialID id.CredentialID) (*credmodels.CredentialRequest, error)
	FindRequestByProcessID(ctx context.Context, processID id.ProcessID) (*credmodels.CredentialRequest, error)
	UpdateRequest(ctx context.Context, req *credmodels.CredentialRequest) error
	HasReissuedSuccessor(ctx context.Context, credentialID id.CredentialID) (bool, error)
	SetDocumentStatusByCredential(ctx context.Context, credentialID id.CredentialID, status credmodels.DocumentStatus) error
}

// WalletClient revokes credentials in the external wallet.
type WalletClient interface {
	RevokeCredential(ctx context.Context, externalCredentialID string) error
}

// Notifier delivers lifecycle notifications and templated mails.
type Notifier interface {
	AddNotification(ctx context.Context, recipientBpn, content, notificationType string) error
	TriggerMail(ctx context.Context, recipientBpn, template string, parameters map[string]string) error
}

// Executor runs the DECLINE_CREDENTIAL pipeline.
type Executor struct {
	store    Store
	wallet   WalletClient
	notifier Notifier
	now      func() time.Time
}

func New(store Store, wallet WalletClient, notifier Notifier) *Executor {
	return &Executor{store: store, wallet: wallet, notifier: notifier, now: time.Now}
}

func (e *Executor) ProcessType() models.ProcessType { return models.ProcessDeclineCredential }

func (e *Executor) StepTypes() []models.StepType { return models.DeclineStepTypes() }

// IsLockRequested: only the revocation step mutates the aggregate.
func (e *Executor) IsLockRequested(step models.StepType) bool {
	return step.Target() == models.StepRevokeCredential
}

func (e *Executor) ResolveCredentialID(ctx context.Context, processID id.ProcessID) (id.CredentialID, error) {
	req, err := e.store.FindRequestByProcessID(ctx, processID)
	if err != nil {
		return id.CredentialID{}, dErrors.Wrap(err, dErrors.CodeUnexpectedCondition, "credential id should never be empty here")
	}
	return req.ID, nil
}

func (e *Executor) Execute(ctx context.Context, credentialID id.CredentialID, step models.StepType) (engine.StepResult, error) {
	switch step.Target() {
	case models.StepRevokeCredential:
		return e.revokeCredential(ctx, credentialID)
	case models.StepTriggerNotification:
		return e.triggerNotification(ctx, credentialID)
	case models.StepTriggerMail:
		return e.triggerMail(ctx, credentialID)
	default:
		return engine.StepResult{}, dErrors.NewWithParameters(dErrors.CodeUnexpectedCondition, "step type not part of the decline pipeline", map[string]string{
			"stepType": string(step),
		})
	}
}

// revokeCredential revokes the wallet credential and cascades document
// inactivation. A credential that was not superseded by a reissue succeeds
// as a no-op, so a retried pipeline never double-revokes.
func (e *Executor) revokeCredential(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	reissued, err := e.store.HasReissuedSuccessor(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	if !reissued {
		return engine.StepResult{
			NextSteps: []models.StepType{models.StepTriggerNotification},
		}, nil
	}

	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	if req.ExternalCredentialID == nil {
		return engine.StepResult{}, dErrors.NewWithParameters(dErrors.CodeConflict, "external credential id must be set here", map[string]string{
			"credentialId": credentialID.String(),
		})
	}
	if err := e.wallet.RevokeCredential(ctx, *req.ExternalCredentialID); err != nil {
		return engine.StepResult{}, err
	}

	now := e.now().UTC()
	if err := req.Transition(credmodels.StatusRevoked, now); err != nil {
		return engine.StepResult{}, err
	}
	if err := e.store.SetDocumentStatusByCredential(ctx, credentialID, credmodels.DocumentStatusInactive); err != nil {
		return engine.StepResult{}, err
	}
	if err := e.store.UpdateRequest(ctx, req); err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{
		NextSteps: []models.StepType{models.StepTriggerNotification},
		Modified:  true,
	}, nil
}

func (e *Executor) triggerNotification(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	reissued, err := e.store.HasReissuedSuccessor(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	notificationType := notificationCredentialRejected
	if reissued {
		notificationType = notificationCredentialRenewal
	}

	content, err := json.Marshal(struct {
		Type         credmodels.CredentialType `json:"type"`
		CredentialID string                    `json:"credentialId"`
	}{Type: req.Type, CredentialID: req.ID.String()})
	if err != nil {
		return engine.StepResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not marshal notification content")
	}
	if err := e.notifier.AddNotification(ctx, req.HolderBpn, string(content), notificationType); err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{
		NextSteps: []models.StepType{models.StepTriggerMail},
	}, nil
}

func (e *Executor) triggerMail(ctx context.Context, credentialID id.CredentialID) (engine.StepResult, error) {
	req, err := e.store.FindRequest(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}
	reissued, err := e.store.HasReissuedSuccessor(ctx, credentialID)
	if err != nil {
		return engine.StepResult{}, err
	}

	template, reason := mailTemplateRejected, reasonExpired
	if reissued {
		template, reason = mailTemplateRenewal, reasonReissued
	}
	err = e.notifier.TriggerMail(ctx, req.HolderBpn, template, map[string]string{
		"requestName": string(req.Type),
		"reason":      reason,
	})
	if err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{}, nil
}
