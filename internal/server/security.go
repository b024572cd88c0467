package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// The service only serves JSON, so nothing may be loaded or framed.
const contentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"

const bearerPrefix = "Bearer "

func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Security-Policy", contentSecurityPolicy)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("X-Robots-Tag", "noindex, nofollow")
}

// bearerMatches reports whether the Authorization header carries secret as a
// bearer token. An empty secret never matches.
func bearerMatches(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
