package service

import (
	"context"
	"encoding/json"
	"time"

	"issuant/internal/credential/models"
	processmodels "issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
	"issuant/pkg/platform/audit"
)

const (
	notificationCredentialApproval = "CREDENTIAL_APPROVAL"
	notificationCredentialRejected = "CREDENTIAL_REJECTED"

	mailTemplateApproval = "CredentialApproval"
	mailTemplateRejected = "CredentialRejected"

	declineReasonOperator = "Declined by the Operator"
)

// notificationContent is the JSON payload attached to lifecycle
// notifications.
type notificationContent struct {
	Type         models.CredentialType `json:"type"`
	CredentialID string                `json:"credentialId"`
}

// ApproveCredential moves a PENDING request to ACTIVE, stamps the issuance
// date into the stored schema, attaches the creation pipeline and informs
// the requester. Only human operators may approve.
func (s *Service) ApproveCredential(ctx context.Context, credentialID id.CredentialID) error {
	actor, err := s.requireHuman(ctx)
	if err != nil {
		return err
	}

	req, err := s.store.FindRequest(ctx, credentialID)
	if err != nil {
		return err
	}
	if req.Status != models.StatusPending {
		return dErrors.NewWithParameters(dErrors.CodeConflict, "credential request is not pending", map[string]string{
			"credentialId": credentialID.String(),
			"status":       string(req.Status),
		})
	}
	if req.HolderBpn == "" {
		return dErrors.New(dErrors.CodeUnexpectedCondition, "approved request has no holder BPN")
	}
	if req.ProcessID != nil {
		return dErrors.New(dErrors.CodeConflict, "credential request already has a process linked")
	}

	var requestedExpiry *time.Time
	if req.Kind == models.KindFramework {
		if req.DetailVersionID == nil {
			return dErrors.New(dErrors.CodeConflict, "framework request has no detail version attached")
		}
		detail, err := s.store.FindDetailVersion(ctx, *req.DetailVersionID)
		if err != nil {
			return err
		}
		if detail.Version == "" {
			return dErrors.New(dErrors.CodeConflict, "framework detail version is empty")
		}
		expiry := detail.Expiry
		requestedExpiry = &expiry
	}

	detailData, err := s.store.FindDetailData(ctx, credentialID)
	if err != nil {
		return err
	}
	if len(detailData.Schema) == 0 {
		return dErrors.New(dErrors.CodeConflict, "credential request has no schema document")
	}

	now := s.now().UTC()
	expiry, err := clampExpiry(requestedExpiry, now)
	if err != nil {
		return err
	}

	schema, err := models.ParseSchema(detailData.Schema)
	if err != nil {
		return err
	}
	patched, err := models.EncodeSchema(schema.WithIssuanceDate(now))
	if err != nil {
		return err
	}
	detailData.Schema = patched

	if err := req.Transition(models.StatusActive, now); err != nil {
		return err
	}
	req.ExpiryDate = &expiry
	req.ExpiryCheckMarker = models.MarkerNone

	process := processmodels.NewProcessRun(id.NewProcessID(), processmodels.ProcessCreateCredential)
	firstStep := processmodels.NewProcessStep(id.NewProcessStepID(), process.ID, processmodels.StepCreateSignedCredential, now)
	req.ProcessID = &process.ID

	// the requester is informed before the transaction commits; a failing
	// commit can leave a stray mail
	if err := s.notifyRequester(ctx, req, notificationCredentialApproval, mailTemplateApproval, map[string]string{
		"requestName":    string(req.Type),
		"credentialType": string(req.Type),
		"expiryDate":     expiry.Format(time.RFC3339),
	}); err != nil {
		return err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.processes.CreateProcess(ctx, process); err != nil {
			return err
		}
		if err := s.processes.CreateSteps(ctx, firstStep); err != nil {
			return err
		}
		if err := s.store.UpdateDetailData(ctx, detailData); err != nil {
			return err
		}
		return s.store.UpdateRequest(ctx, req)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, audit.EventCredentialApproved, actor, credentialID,
		"holder_bpn", req.HolderBpn, "expiry", expiry.Format(time.RFC3339))
	if s.metrics != nil {
		s.metrics.RequestsApproved.Inc()
	}
	return nil
}

// RejectCredential moves a PENDING request to INACTIVE, abandons a linked
// process by skipping its outstanding TODO steps and informs the requester.
// Only human operators may reject.
func (s *Service) RejectCredential(ctx context.Context, credentialID id.CredentialID) error {
	actor, err := s.requireHuman(ctx)
	if err != nil {
		return err
	}

	req, err := s.store.FindRequest(ctx, credentialID)
	if err != nil {
		return err
	}
	if req.Status != models.StatusPending {
		return dErrors.NewWithParameters(dErrors.CodeConflict, "credential request is not pending", map[string]string{
			"credentialId": credentialID.String(),
			"status":       string(req.Status),
		})
	}

	now := s.now().UTC()
	if err := s.notifyRequester(ctx, req, notificationCredentialRejected, mailTemplateRejected, map[string]string{
		"requestName": string(req.Type),
		"reason":      declineReasonOperator,
	}); err != nil {
		return err
	}

	if err := req.Transition(models.StatusInactive, now); err != nil {
		return err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if req.ProcessID != nil {
			todo, err := s.processes.TodoSteps(ctx, *req.ProcessID, processmodels.CreationStepTypes())
			if err != nil {
				return err
			}
			for _, step := range todo {
				if err := step.Transition(processmodels.StepStatusSkipped, "", now); err != nil {
					return err
				}
				if err := s.processes.UpdateStep(ctx, step); err != nil {
					return err
				}
			}
		}
		return s.store.UpdateRequest(ctx, req)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, audit.EventCredentialDeclined, actor, credentialID, "holder_bpn", req.HolderBpn)
	if s.metrics != nil {
		s.metrics.RequestsDeclined.Inc()
	}
	return nil
}

// notifyRequester sends the lifecycle notification and templated mail to the
// holder company.
func (s *Service) notifyRequester(ctx context.Context, req *models.CredentialRequest, notificationType, mailTemplate string, mailParameters map[string]string) error {
	if s.notifier == nil {
		return nil
	}
	content, err := json.Marshal(notificationContent{Type: req.Type, CredentialID: req.ID.String()})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not marshal notification content")
	}
	if err := s.notifier.AddNotification(ctx, req.HolderBpn, string(content), notificationType); err != nil {
		return err
	}
	return s.notifier.TriggerMail(ctx, req.HolderBpn, mailTemplate, mailParameters)
}
