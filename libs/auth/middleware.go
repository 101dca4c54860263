package auth

import (
	"encoding/json"
	"net/http"
)

const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-Role"
)

// RequireBearer rejects requests without a valid token and forwards the
// token's identity as X-User-Id and X-Role. Client-supplied identity headers
// are always replaced.
func RequireBearer(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(HeaderUserID)
			r.Header.Del(HeaderRole)

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := Parse(cfg, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			r.Header.Set(HeaderUserID, claims.Subject)
			r.Header.Set(HeaderRole, claims.Role)
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Identity picks how callers are authenticated. A configured secret means
// bearer tokens are verified. Without one, requests are only let through
// when trustGateway is set, in which case X-User-Id and X-Role are taken as
// set by an upstream gateway; otherwise every request is rejected with 401.
func Identity(cfg Config, trustGateway bool) func(http.Handler) http.Handler {
	if cfg.Secret == "" && trustGateway {
		return func(next http.Handler) http.Handler { return next }
	}
	return RequireBearer(cfg)
}
