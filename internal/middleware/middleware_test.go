package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsLocalhostOrigin(t *testing.T) {
	tests := map[string]bool{
		"http://localhost:5173":     true,
		"http://LOCALHOST":          true,
		"http://127.0.0.1:27480":    true,
		"http://[::1]:8080":         true,
		"https://shop.example.com":  false,
		"http://localhost.evil.com": false,
		"localhost":                 false,
		"":                          false,
	}
	for origin, want := range tests {
		if got := IsLocalhostOrigin(origin); got != want {
			t.Errorf("IsLocalhostOrigin(%q) = %v, want %v", origin, got, want)
		}
	}
}

func TestCORS(t *testing.T) {
	var reached bool
	h := CORS("https://shop.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/capture", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || reached {
		t.Errorf("preflight: code %d, reached %v", rec.Code, reached)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://shop.example.com" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !reached {
		t.Error("GET did not reach the handler")
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "" {
		t.Errorf("untrusted origin got allow-origin %q", v)
	}
}

func TestNoStore(t *testing.T) {
	rec := httptest.NewRecorder()
	NoStore(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
}

func TestSameOrigin(t *testing.T) {
	h := SameOrigin("https://shop.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := map[string]int{
		"":                         http.StatusNoContent,
		"https://shop.example.com": http.StatusNoContent,
		"http://localhost:5173":    http.StatusNoContent,
		"https://evil.example.net": http.StatusForbidden,
		"null":                     http.StatusForbidden,
	}
	for origin, want := range tests {
		req := httptest.NewRequest(http.MethodPost, "/relay/message", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("origin %q: code %d, want %d", origin, rec.Code, want)
		}
	}
}

func TestRequireJSON(t *testing.T) {
	h := RequireJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		method, contentType string
		want                int
	}{
		{http.MethodPost, "application/json", http.StatusNoContent},
		{http.MethodPost, "application/json; charset=utf-8", http.StatusNoContent},
		{http.MethodPost, "text/plain", http.StatusUnsupportedMediaType},
		{http.MethodPost, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{http.MethodPost, "", http.StatusUnsupportedMediaType},
		{http.MethodGet, "", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/relay/message", nil)
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %q: code %d, want %d", tt.method, tt.contentType, rec.Code, tt.want)
		}
	}
}
