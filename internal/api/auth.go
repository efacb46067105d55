package api

import (
	"crypto/subtle"
	"net/http"

	"nestsync/internal/config"
)

// HTTPAuth guards the control surface with static API keys. Key comparison is
// constant time.
type HTTPAuth struct {
	cfg config.APIAuthConfig
}

func NewHTTPAuth(cfg config.APIAuthConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg}
}

// ClientName resolves the configured name for the presented key, or "" when
// the key is unknown.
func (a *HTTPAuth) ClientName(r *http.Request) string {
	presented := r.Header.Get(a.cfg.HeaderAPIKey)
	if presented == "" {
		return ""
	}
	for _, key := range a.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key.Key)) == 1 {
			if key.Name != "" {
				return key.Name
			}
			return "default"
		}
	}
	return ""
}

// Wrap rejects requests without a valid key. /healthz and /metrics stay open
// for probes and scrapers.
func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if a.ClientName(r) == "" {
			writeError(w, http.StatusUnauthorized, "invalid or missing api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
