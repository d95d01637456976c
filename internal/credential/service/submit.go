package service

import (
	"context"
	"crypto/sha512"
	"time"

	"issuant/internal/credential/models"
	processmodels "issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
	"issuant/pkg/platform/audit"
	"issuant/pkg/requestcontext"
)

// TechnicalUserDetails identifies the holder's managed-wallet technical user.
// The client secret is encrypted with the active cipher key before it is
// stored.
type TechnicalUserDetails struct {
	WalletURL    string
	ClientID     string
	ClientSecret string
}

// FrameworkCredentialRequest is the submission input for a use-case
// framework credential.
type FrameworkCredentialRequest struct {
	HolderBpn            string
	CredentialType       models.CredentialType
	DetailVersionID      id.DetailVersionID
	HolderDidLocation    string
	TechnicalUserDetails *TechnicalUserDetails
	CallbackURL          string
}

// SimpleCredentialRequest is the submission input for the BPN and membership
// credentials, which need no template version.
type SimpleCredentialRequest struct {
	HolderBpn            string
	HolderDidLocation    string
	MemberOf             string
	TechnicalUserDetails *TechnicalUserDetails
	CallbackURL          string
}

// SubmitFrameworkCredential validates the detail version, resolves the
// holder DID and creates a PENDING framework credential request awaiting
// operator approval.
func (s *Service) SubmitFrameworkCredential(ctx context.Context, req FrameworkCredentialRequest) (id.CredentialID, error) {
	actor, err := s.identity(ctx)
	if err != nil {
		return id.CredentialID{}, err
	}

	if !req.CredentialType.IsValid() {
		return id.CredentialID{}, dErrors.NewWithParameters(dErrors.CodeInvalidInput, "unknown credential type", map[string]string{
			"credentialType": string(req.CredentialType),
		})
	}

	detail, err := s.store.FindDetailVersion(ctx, req.DetailVersionID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return id.CredentialID{}, dErrors.NewWithParameters(dErrors.CodeInvalidInput, "external type detail version does not exist", map[string]string{
				"detailVersionId": req.DetailVersionID.String(),
			})
		}
		return id.CredentialID{}, err
	}
	if detail.Version == "" || detail.Template == "" {
		return id.CredentialID{}, dErrors.New(dErrors.CodeInvalidInput, "detail version has no version or template")
	}
	if detail.CredentialType != req.CredentialType {
		return id.CredentialID{}, dErrors.NewWithParameters(dErrors.CodeInvalidInput, "credential type is not assigned to this detail version", map[string]string{
			"credentialType": string(req.CredentialType),
			"externalTypeId": detail.ExternalTypeID,
		})
	}

	now := s.now().UTC()
	if !detail.Expiry.After(now) {
		return id.CredentialID{}, dErrors.NewWithParameters(dErrors.CodeInvalidInput, "detail version is expired", map[string]string{
			"expiry": detail.Expiry.Format(time.RFC3339),
		})
	}

	if _, count, err := s.store.FindDetailVersionForType(ctx, detail.ExternalTypeID, detail.Version); err != nil {
		return id.CredentialID{}, err
	} else if count != 1 {
		return id.CredentialID{}, dErrors.NewWithParameters(dErrors.CodeInvalidInput, "version maps to multiple external types", map[string]string{
			"version": detail.Version,
		})
	}

	pending, err := s.store.HasPendingRequest(ctx, req.HolderBpn, req.DetailVersionID)
	if err != nil {
		return id.CredentialID{}, err
	}
	if pending {
		return id.CredentialID{}, dErrors.NewWithParameters(dErrors.CodeConflict, "a pending request already exists for this framework", map[string]string{
			"holderBpn":       req.HolderBpn,
			"detailVersionId": req.DetailVersionID.String(),
		})
	}

	holderDid, err := s.resolver.Resolve(ctx, req.HolderDidLocation)
	if err != nil {
		return id.CredentialID{}, err
	}

	schema, err := models.BuildFrameworkCredential(s.schemaParams(), holderDid, req.HolderBpn, detail.ExternalTypeID, *detail, now)
	if err != nil {
		return id.CredentialID{}, err
	}

	versionID := req.DetailVersionID
	return s.createRequest(ctx, actorInput{
		actor:           actor,
		holderBpn:       req.HolderBpn,
		credentialType:  req.CredentialType,
		kind:            models.KindFramework,
		schema:          schema,
		detailVersionID: &versionID,
		technicalUser:   req.TechnicalUserDetails,
		callbackURL:     req.CallbackURL,
	}, now)
}

// SubmitBpnCredential creates a BPN credential request. No approval is
// required, so the request starts ACTIVE with the creation pipeline already
// attached.
func (s *Service) SubmitBpnCredential(ctx context.Context, req SimpleCredentialRequest) (id.CredentialID, error) {
	actor, err := s.identity(ctx)
	if err != nil {
		return id.CredentialID{}, err
	}

	holderDid, err := s.resolver.Resolve(ctx, req.HolderDidLocation)
	if err != nil {
		return id.CredentialID{}, err
	}

	now := s.now().UTC()
	schema, err := models.BuildBpnCredential(s.schemaParams(), holderDid, req.HolderBpn, now)
	if err != nil {
		return id.CredentialID{}, err
	}

	return s.createRequest(ctx, actorInput{
		actor:          actor,
		holderBpn:      req.HolderBpn,
		credentialType: models.TypeBusinessPartnerNumber,
		kind:           models.KindBpn,
		schema:         schema,
		technicalUser:  req.TechnicalUserDetails,
		callbackURL:    req.CallbackURL,
	}, now)
}

// SubmitMembershipCredential creates a membership credential request,
// starting ACTIVE like the BPN credential.
func (s *Service) SubmitMembershipCredential(ctx context.Context, req SimpleCredentialRequest) (id.CredentialID, error) {
	actor, err := s.identity(ctx)
	if err != nil {
		return id.CredentialID{}, err
	}

	holderDid, err := s.resolver.Resolve(ctx, req.HolderDidLocation)
	if err != nil {
		return id.CredentialID{}, err
	}

	now := s.now().UTC()
	schema, err := models.BuildMembershipCredential(s.schemaParams(), holderDid, req.HolderBpn, req.MemberOf, now)
	if err != nil {
		return id.CredentialID{}, err
	}

	return s.createRequest(ctx, actorInput{
		actor:          actor,
		holderBpn:      req.HolderBpn,
		credentialType: models.TypeMembership,
		kind:           models.KindMembership,
		schema:         schema,
		technicalUser:  req.TechnicalUserDetails,
		callbackURL:    req.CallbackURL,
	}, now)
}

func (s *Service) schemaParams() models.SchemaParams {
	return models.SchemaParams{IssuerDid: s.settings.IssuerDid, StatusListURL: s.settings.StatusListURL}
}

type actorInput struct {
	actor           requestcontext.Identity
	holderBpn       string
	credentialType  models.CredentialType
	kind            models.CredentialKind
	schema          models.VerifiableCredential
	detailVersionID *id.DetailVersionID
	technicalUser   *TechnicalUserDetails
	callbackURL     string
}

// createRequest persists the request, its schema document and detail data as
// one unit. Non-FRAMEWORK kinds get the creation process attached
// immediately.
func (s *Service) createRequest(ctx context.Context, in actorInput, now time.Time) (id.CredentialID, error) {
	raw, err := models.EncodeSchema(in.schema)
	if err != nil {
		return id.CredentialID{}, err
	}

	req, err := models.NewCredentialRequest(id.NewCredentialID(), in.holderBpn, s.settings.IssuerBpn, in.credentialType, in.kind, in.actor.ID, now)
	if err != nil {
		return id.CredentialID{}, err
	}
	req.DetailVersionID = in.detailVersionID

	var process *processmodels.ProcessRun
	var firstStep *processmodels.ProcessStep
	if !in.kind.RequiresApproval() {
		process = processmodels.NewProcessRun(id.NewProcessID(), processmodels.ProcessCreateCredential)
		firstStep = processmodels.NewProcessStep(id.NewProcessStepID(), process.ID, processmodels.StepCreateSignedCredential, now)
		req.ProcessID = &process.ID
		expiry := in.schema.ExpirationDate
		req.ExpiryDate = &expiry
	}

	detailData := &models.ProcessDetailData{
		CredentialID: req.ID,
		Schema:       raw,
		CallbackURL:  in.callbackURL,
	}
	if in.technicalUser != nil {
		index := s.cipher.ActiveIndex()
		secret, iv, err := s.cipher.Encrypt(in.technicalUser.ClientSecret, index)
		if err != nil {
			return id.CredentialID{}, err
		}
		detailData.HolderWalletURL = in.technicalUser.WalletURL
		detailData.ClientID = in.technicalUser.ClientID
		detailData.EncryptedSecret = secret
		detailData.IV = iv
		detailData.CipherIndex = &index
	}

	hash := sha512.Sum512(raw)
	doc := &models.Document{
		ID:           id.NewDocumentID(),
		CredentialID: req.ID,
		Name:         "schema.json",
		Content:      raw,
		Hash:         hash[:],
		MediaType:    "application/json",
		Type:         models.DocumentTypePresentation,
		Status:       models.DocumentStatusActive,
		CreatedAt:    now,
		CreatorID:    in.actor.ID,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if process != nil {
			if err := s.processes.CreateProcess(ctx, process); err != nil {
				return err
			}
			if err := s.processes.CreateSteps(ctx, firstStep); err != nil {
				return err
			}
		}
		if err := s.store.CreateRequest(ctx, req); err != nil {
			return err
		}
		if err := s.store.CreateDetailData(ctx, detailData); err != nil {
			return err
		}
		return s.store.CreateDocument(ctx, doc)
	})
	if err != nil {
		return id.CredentialID{}, err
	}

	s.logAudit(ctx, audit.EventCredentialRequested, in.actor, req.ID,
		"holder_bpn", req.HolderBpn, "credential_type", string(req.Type), "kind", string(req.Kind))
	if s.metrics != nil {
		s.metrics.IncrementSubmitted(string(in.kind))
	}

	return req.ID, nil
}
