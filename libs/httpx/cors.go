package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nexaledger/platform/libs/config"
)

// The query API is read-only and authenticates with bearer tokens, so the
// policy never allows credentials or write methods.
const (
	corsMethods       = "GET, OPTIONS"
	corsAllowHeaders  = "Authorization, Content-Type, " + RequestIDHeader
	corsExposeHeaders = RequestIDHeader + ", Retry-After"
)

// CORSPolicy lists the browser origins allowed to call the API. "*" allows
// any origin.
type CORSPolicy struct {
	AllowedOrigins []string
	MaxAge         time.Duration
}

// CORSFromEnv reads CORS_ALLOWED_ORIGINS (comma separated) and CORS_MAX_AGE.
func CORSFromEnv() (CORSPolicy, error) {
	maxAge, err := config.Duration("CORS_MAX_AGE", 10*time.Minute)
	if err != nil {
		return CORSPolicy{}, err
	}
	var origins []string
	for _, o := range strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return CORSPolicy{AllowedOrigins: origins, MaxAge: maxAge}, nil
}

// WithCORS answers preflights and tags responses for allowed origins. With no
// origins configured it is a no-op.
func WithCORS(p CORSPolicy) Middleware {
	if len(p.AllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	anyOrigin := false
	allowed := map[string]struct{}{}
	for _, o := range p.AllowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	maxAge := strconv.Itoa(int(p.MaxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, listed := allowed[strings.ToLower(origin)]
			if !listed && !anyOrigin {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			if listed {
				h.Set("Access-Control-Allow-Origin", origin)
			} else {
				h.Set("Access-Control-Allow-Origin", "*")
			}
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Header.Get("Access-Control-Request-Method") {
			case http.MethodGet, http.MethodOptions:
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			if p.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
