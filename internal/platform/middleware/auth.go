package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "issuant/pkg/domain"
	"issuant/pkg/requestcontext"
)

// identityClaims are the token claims the service relies on. The identity
// provider issues sub as the stable account id and bpn as the company the
// account acts for.
type identityClaims struct {
	Bpn              string `json:"bpn"`
	IsServiceAccount bool   `json:"service_account"`
	jwt.RegisteredClaims
}

// RequireIdentity validates the bearer token and attaches the authenticated
// actor to the request context. Requests without a valid token get a 401.
func RequireIdentity(signingKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(signingKey), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found {
				unauthorized(w, "missing bearer token")
				return
			}

			claims := &identityClaims{}
			if _, err := jwt.ParseWithClaims(raw, claims, keyFunc); err != nil {
				logger.WarnContext(r.Context(), "rejected bearer token",
					"error", err,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				unauthorized(w, "invalid or expired token")
				return
			}

			identityID, err := uuid.Parse(claims.Subject)
			if err != nil || claims.Bpn == "" {
				unauthorized(w, "token is missing sub or bpn")
				return
			}

			ctx := requestcontext.WithIdentity(r.Context(), requestcontext.Identity{
				ID:               id.IdentityID(identityID),
				Bpn:              claims.Bpn,
				IsServiceAccount: claims.IsServiceAccount,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
