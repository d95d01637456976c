package httptransport

import (
	"net/http"
)

// handleIssuerRevoke revokes any active credential; operator action.
func (h *Handler) handleIssuerRevoke(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, true)
}

// handleHolderRevoke revokes a credential the caller's company holds.
func (h *Handler) handleHolderRevoke(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, false)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request, asIssuer bool) {
	credentialID, ok := credentialIDFromRoute(w, r)
	if !ok {
		return
	}
	if err := h.credentials.RevokeCredential(r.Context(), credentialID, asIssuer); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
