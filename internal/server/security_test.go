package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	for _, endpoint := range []string{pathHealth, pathStats, "/nope"} {
		t.Run(endpoint, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, endpoint, nil))

			want := map[string]string{
				"Content-Security-Policy": contentSecurityPolicy,
				"X-Content-Type-Options":  "nosniff",
				"X-Frame-Options":         "DENY",
				"Referrer-Policy":         "strict-origin-when-cross-origin",
				"X-Robots-Tag":            "noindex, nofollow",
			}
			for header, value := range want {
				if got := w.Header().Get(header); got != value {
					t.Errorf("%s = %q, want %q", header, got, value)
				}
			}
		})
	}
}

func TestBearerMatches(t *testing.T) {
	tests := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{"exact", "Bearer s3cret", "s3cret", true},
		{"lowercase scheme", "bearer s3cret", "s3cret", true},
		{"wrong token", "Bearer nope", "s3cret", false},
		{"prefix of secret", "Bearer s3c", "s3cret", false},
		{"missing scheme", "s3cret", "s3cret", false},
		{"basic scheme", "Basic czNjcmV0", "s3cret", false},
		{"no header", "", "s3cret", false},
		{"unset secret", "Bearer ", "", false},
		{"unset secret with token", "Bearer anything", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, pathStats, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if got := bearerMatches(r, tc.secret); got != tc.want {
				t.Errorf("bearerMatches(%q) = %v, want %v", tc.header, got, tc.want)
			}
		})
	}
}
