package service

import (
	"context"

	"issuant/internal/credential/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
	"issuant/pkg/platform/audit"
)

// RevokeCredential revokes an ACTIVE credential in the external wallet,
// deactivates its documents and transitions it to REVOKED. Holders revoke
// their own credentials; the issuer may revoke any.
//
// A request that is not ACTIVE is left untouched: revocation of an already
// inactive or revoked credential is a silent no-op.
func (s *Service) RevokeCredential(ctx context.Context, credentialID id.CredentialID, asIssuer bool) error {
	actor, err := s.identity(ctx)
	if err != nil {
		return err
	}

	req, err := s.store.FindRequest(ctx, credentialID)
	if err != nil {
		return err
	}
	if !asIssuer && req.HolderBpn != actor.Bpn {
		return dErrors.NewWithParameters(dErrors.CodeForbidden, "credential is held by another company", map[string]string{
			"credentialId": credentialID.String(),
		})
	}
	if req.ExternalCredentialID == nil {
		return dErrors.New(dErrors.CodeConflict, "credential has no external credential id")
	}
	if req.Status != models.StatusActive {
		return nil
	}

	if err := s.wallet.RevokeCredential(ctx, *req.ExternalCredentialID); err != nil {
		return err
	}

	now := s.now().UTC()
	if err := req.Transition(models.StatusRevoked, now); err != nil {
		return err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.SetDocumentStatusByCredential(ctx, credentialID, models.DocumentStatusInactive); err != nil {
			return err
		}
		return s.store.UpdateRequest(ctx, req)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, audit.EventCredentialRevoked, actor, credentialID,
		"holder_bpn", req.HolderBpn, "as_issuer", asIssuer)
	if s.metrics != nil {
		s.metrics.RequestsRevoked.Inc()
	}
	return nil
}
