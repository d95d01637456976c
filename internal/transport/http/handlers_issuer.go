package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"issuant/internal/credential/models"
	"issuant/internal/credential/service"
	"issuant/internal/credential/store"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

const defaultPageSize = 15

func (h *Handler) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := intQuery(query.Get("page"), 0)
	size := intQuery(query.Get("size"), defaultPageSize)
	if page < 0 || size <= 0 {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "page and size must be positive"))
		return
	}

	filter := store.ListFilter{
		Approval: store.ApprovalFilter(query.Get("approvalType")),
		Offset:   page * size,
		Limit:    size,
	}
	if status := query.Get("status"); status != "" {
		credentialStatus := models.CredentialStatus(status)
		filter.Status = &credentialStatus
	}
	if credentialType := query.Get("credentialType"); credentialType != "" {
		parsed := models.CredentialType(credentialType)
		filter.Type = &parsed
	}

	requests, total, err := h.credentials.GetCredentials(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	totalPages := total / size
	if total%size != 0 {
		totalPages++
	}
	writeJSON(w, http.StatusOK, pagedResponse{
		Content: toCredentialResponses(requests),
		Meta:    pageMeta{Page: page, Size: size, TotalElements: total, TotalPages: totalPages},
	})
}

func (h *Handler) handleOwnCredentials(w http.ResponseWriter, r *http.Request) {
	requests, err := h.credentials.GetOwnCredentials(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCredentialResponses(requests))
}

func (h *Handler) handleSubmitFramework(w http.ResponseWriter, r *http.Request) {
	var body frameworkCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "request body is not valid JSON"))
		return
	}
	versionID, err := id.ParseDetailVersionID(body.DetailVersionID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "detailVersionId is not a valid UUID"))
		return
	}

	credentialID, err := h.credentials.SubmitFrameworkCredential(r.Context(), service.FrameworkCredentialRequest{
		HolderBpn:            body.HolderBpn,
		CredentialType:       models.CredentialType(body.CredentialType),
		DetailVersionID:      versionID,
		HolderDidLocation:    body.HolderDidLocation,
		TechnicalUserDetails: body.TechnicalUserDetails.toService(),
		CallbackURL:          body.CallbackURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: credentialID.String()})
}

func (h *Handler) handleSubmitBpn(w http.ResponseWriter, r *http.Request) {
	h.submitSimple(w, r, h.credentials.SubmitBpnCredential)
}

func (h *Handler) handleSubmitMembership(w http.ResponseWriter, r *http.Request) {
	h.submitSimple(w, r, h.credentials.SubmitMembershipCredential)
}

func (h *Handler) submitSimple(w http.ResponseWriter, r *http.Request, submit func(ctx context.Context, req service.SimpleCredentialRequest) (id.CredentialID, error)) {
	var body simpleCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "request body is not valid JSON"))
		return
	}

	credentialID, err := submit(r.Context(), service.SimpleCredentialRequest{
		HolderBpn:            body.HolderBpn,
		HolderDidLocation:    body.HolderDidLocation,
		MemberOf:             body.MemberOf,
		TechnicalUserDetails: body.TechnicalUserDetails.toService(),
		CallbackURL:          body.CallbackURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: credentialID.String()})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.credentials.ApproveCredential)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.credentials.RejectCredential)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, credentialID id.CredentialID) error) {
	credentialID, ok := credentialIDFromRoute(w, r)
	if !ok {
		return
	}
	if err := decide(r.Context(), credentialID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intQuery(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return parsed
}
