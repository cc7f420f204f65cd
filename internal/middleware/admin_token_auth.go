package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"soqlrestore/internal/observability"
)

// AdminTokenHeader carries the shared admin token.
const AdminTokenHeader = "X-Admin-Token"

// AdminTokenAuthConfig controls shared-token authentication for admin endpoints.
type AdminTokenAuthConfig struct {
	Token      string
	HeaderName string
	Metrics    *observability.AdminMetrics
}

// AdminTokenAuthMiddleware validates a shared admin token from request headers.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig) (func(http.Handler) http.Handler, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("admin auth token is required")
	}
	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = AdminTokenHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get(headerName))
			outcome := observability.AuthSuccess
			switch {
			case provided == "":
				outcome = "missing_token"
			case !constantTimeTokenMatch(provided, token):
				outcome = "invalid_token"
			}
			if cfg.Metrics != nil {
				cfg.Metrics.RecordAuth(r.Context(), observability.AuthMethodAdminToken, r.URL.Path, outcome)
			}
			if outcome != observability.AuthSuccess {
				WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := WithAuthContext(r.Context(), AuthContext{
				Subject: observability.AuthMethodAdminToken,
				Issuer:  observability.AuthMethodAdminToken,
				Claims: map[string]interface{}{
					"auth_method": observability.AuthMethodAdminToken,
				},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func constantTimeTokenMatch(provided string, expected string) bool {
	providedDigest := sha256.Sum256([]byte(provided))
	expectedDigest := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(providedDigest[:], expectedDigest[:]) == 1
}
