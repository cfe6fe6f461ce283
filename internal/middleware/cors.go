package middleware

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Cors allows browser requests only from the configured origins.
// Requests without an Origin header (curl, server to server) pass through untouched.
func Cors(allowedOrigins []string) func(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	allowAny := false
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			allowAny = true
			continue
		}
		if origin != "" {
			allowed[origin] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !allowAny && !allowed[origin] {
				log.Warnf("CORS: origin not allowed for path [%s] and origin [%s]", r.URL.Path, origin)
				w.WriteHeader(http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers",
				"Accept, Content-Type, Content-Length, Accept-Encoding, Authorization",
			)
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT")

			next.ServeHTTP(w, r)
		})
	}
}
