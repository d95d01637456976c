package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "issuant/pkg/domain-errors"
)

func writeJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// best-effort fallback; don't override status for the caller
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writeError centralizes domain error translation to HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]any{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		if len(domainErr.Parameters) > 0 {
			response["parameters"] = domainErr.Parameters
		}
		writeJSON(w, codeToStatus(domainErr.Code), response)
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": string(dErrors.CodeInternal),
	})
}

func codeToStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeServiceFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
