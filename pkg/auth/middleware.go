package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rhuss/pysandbox/pkg/debug"
	"github.com/rhuss/pysandbox/pkg/observability"
	"github.com/rhuss/pysandbox/pkg/storage"
)

// DefaultBypassPaths are served without authentication.
var DefaultBypassPaths = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request outside bypass with chain and
// enforces limiter when it is non-nil.
func Middleware(chain *Chain, limiter RateLimiter, bypass []string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(bypass))
	for _, p := range bypass {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err,
				)
				observability.AuthFailuresTotal.WithLabelValues("rejected").Inc()
				writeError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
				return
			}

			id := res.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity without subject")
				observability.AuthFailuresTotal.WithLabelValues("empty_subject").Inc()
				writeError(w, http.StatusInternalServerError, "internal authentication error")
				return
			}

			if limiter != nil {
				if err := limiter.Allow(id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.Tier)
					observability.RateLimitRejectedTotal.WithLabelValues(tierLabel(id)).Inc()
					w.Header().Set("Retry-After", "60")
					writeError(w, http.StatusTooManyRequests, err.Error())
					return
				}
			}

			debug.Log("auth", "authenticated", "subject", id.Subject, "path", r.URL.Path)

			ctx := WithIdentity(r.Context(), id)
			if id.Tenant != "" {
				ctx = storage.SetTenant(ctx, id.Tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tierLabel(id *Identity) string {
	if id.Tier == "" {
		return "default"
	}
	return id.Tier
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
