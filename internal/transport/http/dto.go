package httptransport

import (
	"time"

	"issuant/internal/credential/models"
	"issuant/internal/credential/service"
)

type technicalUserDetails struct {
	WalletURL    string `json:"walletUrl"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

func (d *technicalUserDetails) toService() *service.TechnicalUserDetails {
	if d == nil {
		return nil
	}
	return &service.TechnicalUserDetails{
		WalletURL:    d.WalletURL,
		ClientID:     d.ClientID,
		ClientSecret: d.ClientSecret,
	}
}

type frameworkCredentialRequest struct {
	HolderBpn            string                `json:"holderBpn"`
	CredentialType       string                `json:"credentialType"`
	DetailVersionID      string                `json:"detailVersionId"`
	HolderDidLocation    string                `json:"holderDidLocation"`
	TechnicalUserDetails *technicalUserDetails `json:"technicalUserDetails,omitempty"`
	CallbackURL          string                `json:"callbackUrl,omitempty"`
}

type simpleCredentialRequest struct {
	HolderBpn            string                `json:"holderBpn"`
	HolderDidLocation    string                `json:"holderDidLocation"`
	MemberOf             string                `json:"memberOf,omitempty"`
	TechnicalUserDetails *technicalUserDetails `json:"technicalUserDetails,omitempty"`
	CallbackURL          string                `json:"callbackUrl,omitempty"`
}

type createdResponse struct {
	ID string `json:"id"`
}

type credentialResponse struct {
	ID                   string     `json:"id"`
	HolderBpn            string     `json:"holderBpn"`
	CredentialType       string     `json:"credentialType"`
	Status               string     `json:"status"`
	CreatedAt            time.Time  `json:"createdAt"`
	ChangedAt            time.Time  `json:"changedAt"`
	ExpiryDate           *time.Time `json:"expiryDate,omitempty"`
	ExternalCredentialID *string    `json:"externalCredentialId,omitempty"`
}

func toCredentialResponse(req *models.CredentialRequest) credentialResponse {
	return credentialResponse{
		ID:                   req.ID.String(),
		HolderBpn:            req.HolderBpn,
		CredentialType:       string(req.Type),
		Status:               string(req.Status),
		CreatedAt:            req.CreatedAt,
		ChangedAt:            req.ChangedAt,
		ExpiryDate:           req.ExpiryDate,
		ExternalCredentialID: req.ExternalCredentialID,
	}
}

func toCredentialResponses(reqs []*models.CredentialRequest) []credentialResponse {
	responses := make([]credentialResponse, 0, len(reqs))
	for _, req := range reqs {
		responses = append(responses, toCredentialResponse(req))
	}
	return responses
}

type pageMeta struct {
	Page          int `json:"page"`
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
}

type pagedResponse struct {
	Content []credentialResponse `json:"content"`
	Meta    pageMeta             `json:"meta"`
}
