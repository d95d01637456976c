// Package models holds the credential-request entity set and its status
// machine. Requests are soft-deleted via status transitions; physical removal
// happens only through the expiry run.
package models

import (
	"time"

	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// CredentialStatus is the lifecycle status of a credential request.
type CredentialStatus string

const (
	StatusPending  CredentialStatus = "PENDING"
	StatusActive   CredentialStatus = "ACTIVE"
	StatusInactive CredentialStatus = "INACTIVE"
	StatusRevoked  CredentialStatus = "REVOKED"
)

// CanTransitionTo enforces the monotone status machine:
// PENDING -> {ACTIVE, INACTIVE}, ACTIVE -> {REVOKED}, never backwards.
func (s CredentialStatus) CanTransitionTo(next CredentialStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusInactive
	case StatusActive:
		return next == StatusRevoked
	default:
		return false
	}
}

// CredentialKind is the coarse credential category. FRAMEWORK requests need a
// human approval; MEMBERSHIP and BPN go straight to ACTIVE with a process
// already attached.
type CredentialKind string

const (
	KindFramework  CredentialKind = "FRAMEWORK"
	KindMembership CredentialKind = "MEMBERSHIP"
	KindBpn        CredentialKind = "BPN"
)

// RequiresApproval reports whether requests of this kind wait in PENDING for
// an operator decision.
func (k CredentialKind) RequiresApproval() bool {
	return k == KindFramework
}

// CredentialType identifies the concrete credential being issued.
type CredentialType string

const (
	TypeBusinessPartnerNumber CredentialType = "BusinessPartnerNumber"
	TypeMembership            CredentialType = "Membership"
	TypeFrameworkAgreement    CredentialType = "FrameworkAgreement"
	TypeDismantlerCertificate CredentialType = "DismantlerCertificate"
)

// IsValid reports whether t is one of the known credential types.
func (t CredentialType) IsValid() bool {
	switch t {
	case TypeBusinessPartnerNumber, TypeMembership, TypeFrameworkAgreement, TypeDismantlerCertificate:
		return true
	}
	return false
}

// ExpiryCheckMarker records which expiry notification has already been sent so
// later classifier passes do not resend. It only ever advances:
// "" -> ONE_MONTH -> TWO_WEEKS -> ONE_DAY.
type ExpiryCheckMarker string

const (
	MarkerNone     ExpiryCheckMarker = ""
	MarkerOneMonth ExpiryCheckMarker = "ONE_MONTH"
	MarkerTwoWeeks ExpiryCheckMarker = "TWO_WEEKS"
	MarkerOneDay   ExpiryCheckMarker = "ONE_DAY"
)

// CanAdvanceTo reports whether the marker may move to next without skipping
// backwards.
func (m ExpiryCheckMarker) CanAdvanceTo(next ExpiryCheckMarker) bool {
	rank := map[ExpiryCheckMarker]int{MarkerNone: 0, MarkerOneMonth: 1, MarkerTwoWeeks: 2, MarkerOneDay: 3}
	return rank[next] > rank[m]
}

// WalletRequestStatus mirrors the out-of-band holder-wallet request state.
type WalletRequestStatus string

const (
	WalletRequestNone      WalletRequestStatus = ""
	WalletRequestReceived  WalletRequestStatus = "RECEIVED"
	WalletRequestApproved  WalletRequestStatus = "APPROVED"
	WalletRequestDelivered WalletRequestStatus = "DELIVERED"
)

// CredentialRequest is the aggregate root of the issuance lifecycle.
type CredentialRequest struct {
	ID        id.CredentialID
	HolderBpn string
	IssuerBpn string
	Type      CredentialType
	Kind      CredentialKind
	Status    CredentialStatus
	CreatedAt time.Time
	ChangedAt time.Time
	CreatorID id.IdentityID

	ExpiryDate        *time.Time
	ExpiryCheckMarker ExpiryCheckMarker

	DetailVersionID *id.DetailVersionID
	ProcessID       *id.ProcessID

	// ExternalCredentialID is assigned by the wallet once the credential is
	// created there.
	ExternalCredentialID *string
	// SignedCredential is the raw signed credential payload fetched back from
	// the signer.
	SignedCredential []byte

	// ReissuedFromID links a request that supersedes an earlier credential.
	// The chain is a linked list resolved by id lookup, never a cycle.
	ReissuedFromID *id.CredentialID

	WalletRequestID     *string
	WalletRequestStatus WalletRequestStatus
}

// NewCredentialRequest validates the submission-time invariants and returns a
// request in the kind's initial status.
func NewCredentialRequest(credentialID id.CredentialID, holderBpn, issuerBpn string, credentialType CredentialType, kind CredentialKind, creator id.IdentityID, now time.Time) (*CredentialRequest, error) {
	if holderBpn == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder BPN cannot be empty")
	}
	if issuerBpn == "" {
		return nil, dErrors.New(dErrors.CodeUnexpectedCondition, "issuer BPN is not configured")
	}
	status := StatusPending
	if !kind.RequiresApproval() {
		status = StatusActive
	}
	return &CredentialRequest{
		ID:        credentialID,
		HolderBpn: holderBpn,
		IssuerBpn: issuerBpn,
		Type:      credentialType,
		Kind:      kind,
		Status:    status,
		CreatedAt: now,
		ChangedAt: now,
		CreatorID: creator,
	}, nil
}

// Transition moves the request to next, enforcing the monotone status machine.
func (c *CredentialRequest) Transition(next CredentialStatus, now time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return dErrors.NewWithParameters(dErrors.CodeConflict, "invalid status transition", map[string]string{
			"credentialId": c.ID.String(),
			"from":         string(c.Status),
			"to":           string(next),
		})
	}
	c.Status = next
	c.ChangedAt = now
	return nil
}

// ProcessDetailData is the 1:1 mutable companion of a CredentialRequest: the
// schema document plus the holder-wallet coordinates needed for delivery.
type ProcessDetailData struct {
	CredentialID id.CredentialID
	// Schema is the credential JSON document handed to the signer. It is
	// replaced wholesale, never patched in place.
	Schema []byte

	HolderWalletURL string
	ClientID        string
	// EncryptedSecret, IV and CipherIndex protect the technical-user client
	// secret; CipherIndex selects the key that encrypted it.
	EncryptedSecret []byte
	IV              []byte
	CipherIndex     *int

	CallbackURL string
}

// HasEncryptionData reports whether a stored wallet secret can be decrypted.
func (d *ProcessDetailData) HasEncryptionData() bool {
	return len(d.EncryptedSecret) > 0 && len(d.IV) > 0 && d.CipherIndex != nil
}

// HasHolderWallet reports whether the holder registered their own managed
// wallet for delivery.
func (d *ProcessDetailData) HasHolderWallet() bool {
	return d.HolderWalletURL != "" && d.ClientID != ""
}

// ExternalTypeDetailVersion is a versioned template for an external credential
// type. Many credential requests reference one version.
type ExternalTypeDetailVersion struct {
	ID             id.DetailVersionID
	ExternalTypeID string
	// CredentialType is the credential type this template is registered
	// for. A submission naming a different type is rejected.
	CredentialType CredentialType
	Version        string
	Template       string
	ValidFrom      time.Time
	Expiry         time.Time
}

// DocumentStatus tracks a stored document's lifecycle.
type DocumentStatus string

const (
	DocumentStatusActive   DocumentStatus = "ACTIVE"
	DocumentStatusInactive DocumentStatus = "INACTIVE"
	DocumentStatusPending  DocumentStatus = "PENDING"
)

// DocumentType distinguishes the schema document from the signed credential.
type DocumentType string

const (
	DocumentTypePresentation       DocumentType = "PRESENTATION"
	DocumentTypeVerifiedCredential DocumentType = "VERIFIED_CREDENTIAL"
)

// Document is an immutable stored artifact attached to a credential request.
type Document struct {
	ID           id.DocumentID
	CredentialID id.CredentialID
	Name         string
	Content      []byte
	Hash         []byte
	MediaType    string
	Type         DocumentType
	Status       DocumentStatus
	CreatedAt    time.Time
	CreatorID    id.IdentityID
}
