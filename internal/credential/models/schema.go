package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	dErrors "issuant/pkg/domain-errors"
)

// DefaultContext is the JSON-LD context attached to every issued credential.
var DefaultContext = []string{
	"https://www.w3.org/2018/credentials/v1",
	"https://w3id.org/catenax/credentials/v1.0.0",
}

// StatusListType is the revocation mechanism referenced from every credential.
const StatusListType = "StatusList2021Entry"

// CredentialStatusRef points at the externally hosted revocation bitmap.
type CredentialStatusRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// VerifiableCredential is the immutable credential document submitted to the
// signer. Mutations go through the With* transforms, which copy.
type VerifiableCredential struct {
	ID                string              `json:"id"`
	Context           []string            `json:"@context"`
	Type              []string            `json:"type"`
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	IssuanceDate      time.Time           `json:"issuanceDate"`
	ExpirationDate    time.Time           `json:"expirationDate"`
	Issuer            string              `json:"issuer"`
	CredentialSubject json.RawMessage     `json:"credentialSubject"`
	CredentialStatus  CredentialStatusRef `json:"credentialStatus"`
}

// WithIssuanceDate returns a copy with the issuance timestamp replaced.
// The receiver is left untouched.
func (v VerifiableCredential) WithIssuanceDate(issuedAt time.Time) VerifiableCredential {
	v.IssuanceDate = issuedAt
	return v
}

// WithRenewal returns a copy reissued under a fresh id with the validity
// window moved forward. The receiver is left untouched.
func (v VerifiableCredential) WithRenewal(issuedAt, expires time.Time) VerifiableCredential {
	v.ID = uuid.NewString()
	v.IssuanceDate = issuedAt
	v.ExpirationDate = expires
	return v
}

// BpnCredentialSubject asserts a holder's business partner number.
type BpnCredentialSubject struct {
	ID               string `json:"id"`
	HolderIdentifier string `json:"holderIdentifier"`
	Bpn              string `json:"bpn"`
}

// MembershipCredentialSubject asserts membership in a data-space organisation.
type MembershipCredentialSubject struct {
	ID               string `json:"id"`
	HolderIdentifier string `json:"holderIdentifier"`
	MemberOf         string `json:"memberOf"`
}

// FrameworkCredentialSubject asserts participation in a use-case framework.
type FrameworkCredentialSubject struct {
	ID               string `json:"id"`
	HolderIdentifier string `json:"holderIdentifier"`
	Group            string `json:"group"`
	UseCase          string `json:"useCase"`
	ContractTemplate string `json:"contractTemplate"`
	ContractVersion  string `json:"contractVersion"`
}

// SchemaParams carries the issuer-side constants shared by all builders.
type SchemaParams struct {
	IssuerDid     string
	StatusListURL string
}

// BuildBpnCredential assembles the BPN credential document.
func BuildBpnCredential(p SchemaParams, holderDid, holderBpn string, now time.Time) (VerifiableCredential, error) {
	subject, err := json.Marshal(BpnCredentialSubject{ID: holderDid, HolderIdentifier: holderBpn, Bpn: holderBpn})
	if err != nil {
		return VerifiableCredential{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not marshal credential subject")
	}
	return VerifiableCredential{
		ID:                uuid.NewString(),
		Context:           DefaultContext,
		Type:              []string{"VerifiableCredential", "BpnCredential"},
		Name:              "BpnCredential",
		Description:       "Bpn Credential",
		IssuanceDate:      now,
		ExpirationDate:    now.AddDate(0, 12, 0),
		Issuer:            p.IssuerDid,
		CredentialSubject: subject,
		CredentialStatus:  CredentialStatusRef{ID: p.StatusListURL, Type: StatusListType},
	}, nil
}

// BuildMembershipCredential assembles the membership credential document.
func BuildMembershipCredential(p SchemaParams, holderDid, holderBpn, memberOf string, now time.Time) (VerifiableCredential, error) {
	subject, err := json.Marshal(MembershipCredentialSubject{ID: holderDid, HolderIdentifier: holderBpn, MemberOf: memberOf})
	if err != nil {
		return VerifiableCredential{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not marshal credential subject")
	}
	return VerifiableCredential{
		ID:                uuid.NewString(),
		Context:           DefaultContext,
		Type:              []string{"VerifiableCredential", "MembershipCredential"},
		Name:              "MembershipCredential",
		Description:       "Membership Credential",
		IssuanceDate:      now,
		ExpirationDate:    now.AddDate(0, 12, 0),
		Issuer:            p.IssuerDid,
		CredentialSubject: subject,
		CredentialStatus:  CredentialStatusRef{ID: p.StatusListURL, Type: StatusListType},
	}, nil
}

// BuildFrameworkCredential assembles a framework credential from the resolved
// external type and its versioned template.
func BuildFrameworkCredential(p SchemaParams, holderDid, holderBpn, externalTypeID string, detail ExternalTypeDetailVersion, now time.Time) (VerifiableCredential, error) {
	subject, err := json.Marshal(FrameworkCredentialSubject{
		ID:               holderDid,
		HolderIdentifier: holderBpn,
		Group:            "UseCaseFramework",
		UseCase:          externalTypeID,
		ContractTemplate: detail.Template,
		ContractVersion:  detail.Version,
	})
	if err != nil {
		return VerifiableCredential{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not marshal credential subject")
	}
	return VerifiableCredential{
		ID:                uuid.NewString(),
		Context:           DefaultContext,
		Type:              []string{"VerifiableCredential", externalTypeID},
		Name:              externalTypeID,
		Description:       "Framework Credential for UseCase " + externalTypeID,
		IssuanceDate:      now,
		ExpirationDate:    detail.Expiry,
		Issuer:            p.IssuerDid,
		CredentialSubject: subject,
		CredentialStatus:  CredentialStatusRef{ID: p.StatusListURL, Type: StatusListType},
	}, nil
}

// ParseSchema decodes a stored schema document back into a credential value.
func ParseSchema(raw []byte) (VerifiableCredential, error) {
	var vc VerifiableCredential
	if err := json.Unmarshal(raw, &vc); err != nil {
		return VerifiableCredential{}, dErrors.Wrap(err, dErrors.CodeUnexpectedCondition, "stored schema document is not a credential")
	}
	return vc, nil
}

// EncodeSchema serializes a credential value for document storage.
func EncodeSchema(vc VerifiableCredential) ([]byte, error) {
	raw, err := json.Marshal(vc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not marshal credential schema")
	}
	return raw, nil
}
