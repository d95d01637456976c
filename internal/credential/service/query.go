package service

import (
	"context"

	"issuant/internal/credential/models"
	"issuant/internal/credential/store"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// GetCredentials returns one page of credential requests. The page size is
// clamped to the configured maximum.
func (s *Service) GetCredentials(ctx context.Context, filter store.ListFilter) ([]*models.CredentialRequest, int, error) {
	if _, err := s.identity(ctx); err != nil {
		return nil, 0, err
	}
	if filter.Offset < 0 {
		return nil, 0, dErrors.New(dErrors.CodeInvalidInput, "offset cannot be negative")
	}
	if filter.Limit <= 0 || filter.Limit > s.settings.MaxPageSize {
		filter.Limit = s.settings.MaxPageSize
	}
	return s.store.ListRequests(ctx, filter)
}

// GetOwnCredentials returns every credential request held by the caller's
// company.
func (s *Service) GetOwnCredentials(ctx context.Context) ([]*models.CredentialRequest, error) {
	actor, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.OwnRequests(ctx, actor.Bpn)
}

// GetCredentialDocument returns the signed credential document of a request.
// Only the holder may fetch it.
func (s *Service) GetCredentialDocument(ctx context.Context, credentialID id.CredentialID) (*models.Document, error) {
	actor, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.store.FindRequest(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if req.HolderBpn != actor.Bpn {
		return nil, dErrors.NewWithParameters(dErrors.CodeForbidden, "credential is held by another company", map[string]string{
			"credentialId": credentialID.String(),
		})
	}

	docs, err := s.store.DocumentsByCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if doc.Type == models.DocumentTypeVerifiedCredential {
			return doc, nil
		}
	}
	return nil, dErrors.NewWithParameters(dErrors.CodeNotFound, "credential has no signed document yet", map[string]string{
		"credentialId": credentialID.String(),
	})
}

// GetDocument returns a stored document by id, holder only.
func (s *Service) GetDocument(ctx context.Context, documentID id.DocumentID) (*models.Document, error) {
	actor, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := s.store.FindDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	req, err := s.store.FindRequest(ctx, doc.CredentialID)
	if err != nil {
		return nil, err
	}
	if req.HolderBpn != actor.Bpn {
		return nil, dErrors.NewWithParameters(dErrors.CodeForbidden, "document belongs to another company", map[string]string{
			"documentId": documentID.String(),
		})
	}
	return doc, nil
}
