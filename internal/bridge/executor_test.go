package bridge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neboloop/pagerelay/internal/protocol"
)

func TestHTTPExecutorSendsMethodBodyAndHeaders(t *testing.T) {
	var gotMethod, gotBody, gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotUA = r.UserAgent()
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	exec, err := NewHTTPExecutor(srv.URL, WithUserAgent("pagerelay-test"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := exec.Execute(context.Background(), "/items", protocol.RequestInit{
		Method:  "put",
		Headers: map[string]string{"Accept": "text/plain"},
		Body:    "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != http.StatusCreated || resp.StatusText != "Created" {
		t.Errorf("resp = %+v", resp)
	}
	if gotMethod != http.MethodPut || gotBody != "hello" || gotAccept != "text/plain" || gotUA != "pagerelay-test" {
		t.Errorf("request = %s %q accept=%q ua=%q", gotMethod, gotBody, gotAccept, gotUA)
	}
}

func TestHTTPExecutorSameOriginCredentials(t *testing.T) {
	var sawCookie bool
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := r.Cookie("session")
		sawCookie = err == nil
	}))
	defer other.Close()

	exec, err := NewHTTPExecutor("https://shop.example.com")
	if err != nil {
		t.Fatal(err)
	}
	exec.SetCookies([]*http.Cookie{{Name: "session", Value: "abc", Path: "/"}})
	if len(exec.Cookies()) != 1 {
		t.Fatalf("cookies = %v", exec.Cookies())
	}

	if _, err := exec.Execute(context.Background(), other.URL, protocol.RequestInit{Credentials: protocol.CredentialsSameOrigin}); err != nil {
		t.Fatal(err)
	}
	if sawCookie {
		t.Error("cross-origin request carried the page cookie")
	}
}

func TestHTTPExecutorRateLimitHonorsContext(t *testing.T) {
	exec, err := NewHTTPExecutor("https://shop.example.com", WithRateLimit(0.001, 1))
	if err != nil {
		t.Fatal(err)
	}
	exec.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := exec.Execute(ctx, "/x", protocol.RequestInit{}); err == nil {
		t.Fatal("expected limiter to refuse a canceled context")
	}
}
