package middleware

import (
	"mime"
	"net/http"

	"github.com/neboloop/pagerelay/internal/httputil"
)

// SameOrigin refuses browser requests sent from any page other than the
// trusted origin or a localhost page. Requests without an Origin header
// (the CLI, the native host, the bridge) pass through.
func SameOrigin(trusted string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && origin != trusted && !IsLocalhostOrigin(origin) {
				httputil.ErrorWithCode(w, http.StatusForbidden, "origin not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON refuses request bodies that are not application/json. A
// cross-origin JSON post always needs a preflight, which CORS denies.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				httputil.ErrorWithCode(w, http.StatusUnsupportedMediaType, "content type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
