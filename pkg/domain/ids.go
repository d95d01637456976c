// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "issuant/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a CredentialID where a ProcessID is expected.
type (
	CredentialID    uuid.UUID
	ProcessID       uuid.UUID
	ProcessStepID   uuid.UUID
	DocumentID      uuid.UUID
	DetailVersionID uuid.UUID
	IdentityID      uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseCredentialID(s string) (CredentialID, error) {
	id, err := parseUUID(s, "credential ID")
	return CredentialID(id), err
}

func ParseProcessID(s string) (ProcessID, error) {
	id, err := parseUUID(s, "process ID")
	return ProcessID(id), err
}

func ParseDocumentID(s string) (DocumentID, error) {
	id, err := parseUUID(s, "document ID")
	return DocumentID(id), err
}

func ParseDetailVersionID(s string) (DetailVersionID, error) {
	id, err := parseUUID(s, "detail version ID")
	return DetailVersionID(id), err
}

func ParseIdentityID(s string) (IdentityID, error) {
	id, err := parseUUID(s, "identity ID")
	return IdentityID(id), err
}

// New functions - for freshly created aggregates.

func NewCredentialID() CredentialID       { return CredentialID(uuid.New()) }
func NewProcessID() ProcessID             { return ProcessID(uuid.New()) }
func NewProcessStepID() ProcessStepID     { return ProcessStepID(uuid.New()) }
func NewDocumentID() DocumentID           { return DocumentID(uuid.New()) }
func NewDetailVersionID() DetailVersionID { return DetailVersionID(uuid.New()) }
func NewIdentityID() IdentityID           { return IdentityID(uuid.New()) }

// String methods - for logging and debugging.

func (id CredentialID) String() string    { return uuid.UUID(id).String() }
func (id ProcessID) String() string       { return uuid.UUID(id).String() }
func (id ProcessStepID) String() string   { return uuid.UUID(id).String() }
func (id DocumentID) String() string      { return uuid.UUID(id).String() }
func (id DetailVersionID) String() string { return uuid.UUID(id).String() }
func (id IdentityID) String() string      { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id CredentialID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ProcessID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ProcessStepID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id DetailVersionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id IdentityID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be the nil UUID")
	}
	return parsed, nil
}
