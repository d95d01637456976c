// Package store persists credential requests and their companion data. The
// memory variant backs unit tests and the demo wiring; the postgres variant
// is production.
package store

import (
	"context"
	"time"

	"issuant/internal/credential/models"
	id "issuant/pkg/domain"
)

// ApprovalFilter narrows a listing to manually approved requests (FRAMEWORK
// kind) or automatically activated ones (everything else).
type ApprovalFilter string

const (
	ApprovalAny       ApprovalFilter = ""
	ApprovalManual    ApprovalFilter = "MANUAL"
	ApprovalAutomatic ApprovalFilter = "AUTOMATIC"
)

// ListFilter selects and pages a credential-request listing. Limit must be
// clamped by the caller before it reaches the store.
type ListFilter struct {
	Status   *models.CredentialStatus
	Type     *models.CredentialType
	Approval ApprovalFilter
	Offset   int
	Limit    int
}

// ExpiryRow is one classifier result: the request, the expiry and version
// string of its linked detail version, and the windows it matched.
type ExpiryRow struct {
	Request       *models.CredentialRequest
	DetailExpiry  *time.Time
	DetailVersion string
	Schedule      models.ScheduleFlags
}

// RequestStore persists credential requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *models.CredentialRequest) error
	FindRequest(ctx context.Context, credentialID id.CredentialID) (*models.CredentialRequest, error)
	// FindRequestByProcessID resolves the credential a process works on.
	FindRequestByProcessID(ctx context.Context, processID id.ProcessID) (*models.CredentialRequest, error)
	UpdateRequest(ctx context.Context, req *models.CredentialRequest) error
	// HasReissuedSuccessor reports whether another request supersedes this
	// credential via its reissued-from back-reference.
	HasReissuedSuccessor(ctx context.Context, credentialID id.CredentialID) (bool, error)
	// DeleteRequest physically removes the row and its companion data. Only
	// the expiry run calls it; every other removal is a status transition.
	DeleteRequest(ctx context.Context, credentialID id.CredentialID) error
	HasPendingRequest(ctx context.Context, holderBpn string, versionID id.DetailVersionID) (bool, error)
	ListRequests(ctx context.Context, filter ListFilter) ([]*models.CredentialRequest, int, error)
	OwnRequests(ctx context.Context, holderBpn string) ([]*models.CredentialRequest, error)
	GetExpiryData(ctx context.Context, now, inactiveCutoff, expiredCutoff time.Time) ([]ExpiryRow, error)
	// GetRenewalCandidates returns the ACTIVE non-framework credentials
	// expiring by the cutoff that no other request supersedes yet.
	GetRenewalCandidates(ctx context.Context, expiresBy time.Time) ([]*models.CredentialRequest, error)
}

// DetailStore persists the 1:1 process detail data and the versioned
// external-type templates.
type DetailStore interface {
	CreateDetailData(ctx context.Context, data *models.ProcessDetailData) error
	FindDetailData(ctx context.Context, credentialID id.CredentialID) (*models.ProcessDetailData, error)
	UpdateDetailData(ctx context.Context, data *models.ProcessDetailData) error
	CreateDetailVersion(ctx context.Context, version *models.ExternalTypeDetailVersion) error
	FindDetailVersion(ctx context.Context, versionID id.DetailVersionID) (*models.ExternalTypeDetailVersion, error)
	// FindDetailVersionForType resolves (externalTypeID, version) and reports
	// how many external types carry that version string; callers reject
	// counts other than one as ambiguous or unknown input.
	FindDetailVersionForType(ctx context.Context, externalTypeID, version string) (*models.ExternalTypeDetailVersion, int, error)
}

// DocumentStore persists stored documents attached to credential requests.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	FindDocument(ctx context.Context, documentID id.DocumentID) (*models.Document, error)
	DocumentsByCredential(ctx context.Context, credentialID id.CredentialID) ([]*models.Document, error)
	// SetDocumentStatusByCredential cascades a credential status change onto
	// every attached document.
	SetDocumentStatusByCredential(ctx context.Context, credentialID id.CredentialID, status models.DocumentStatus) error
}

// Store is the full credential persistence surface.
type Store interface {
	RequestStore
	DetailStore
	DocumentStore
}
