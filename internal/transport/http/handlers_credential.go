package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// handleCredentialDocument serves the signed credential document of a
// request; holder only.
func (h *Handler) handleCredentialDocument(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := credentialIDFromRoute(w, r)
	if !ok {
		return
	}
	doc, err := h.credentials.GetCredentialDocument(r.Context(), credentialID)
	if err != nil {
		writeError(w, err)
		return
	}
	serveDocument(w, doc.Name, doc.MediaType, doc.Content)
}

// handleDocument serves any stored document by id; holder only.
func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	documentID, err := id.ParseDocumentID(chi.URLParam(r, "documentId"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "documentId is not a valid UUID"))
		return
	}
	doc, err := h.credentials.GetDocument(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	serveDocument(w, doc.Name, doc.MediaType, doc.Content)
}

func serveDocument(w http.ResponseWriter, name, mediaType string, content []byte) {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

func credentialIDFromRoute(w http.ResponseWriter, r *http.Request) (id.CredentialID, bool) {
	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "credentialId"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "credentialId is not a valid UUID"))
		return id.CredentialID{}, false
	}
	return credentialID, true
}
