package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/neboloop/pagerelay/internal/bus"
	"github.com/neboloop/pagerelay/internal/metrics"
	"github.com/neboloop/pagerelay/internal/protocol"
)

func TestIsJWTShape(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"abc.def.ghi", true},
		{"eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig-_sig", true},
		{"not-a-token", false},
		{"abc.def", false},
		{"abc.def.ghi.jkl", false},
		{"abc..ghi", false},
		{"abc.d+f.ghi", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsJWTShape(tt.in); got != tt.want {
			t.Errorf("IsJWTShape(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBearerValue(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc.def.ghi", "abc.def.ghi", true},
		{"BEARER  abc.def.ghi ", "abc.def.ghi", true},
		{"Basic dXNlcg==", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerValue(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("BearerValue(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func makeJWT(t *testing.T, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." + enc.EncodeToString([]byte(payload)) + ".c2ln"
}

func TestDecodeClaimsAndExpiry(t *testing.T) {
	tok := makeJWT(t, `{"sub":"42","exp":1900000000}`)
	claims, err := DecodeClaims(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims["sub"] != "42" {
		t.Errorf("claims = %v", claims)
	}
	got := newToken(tok, pageOrigin, SourceHeader, time.Now())
	if want := time.Unix(1900000000, 0); !got.ExpiresAt().Equal(want) {
		t.Errorf("expires = %v, want %v", got.ExpiresAt(), want)
	}

	if _, err := DecodeClaims("abc.def.ghi"); err == nil {
		t.Error("expected opaque token to fail decoding")
	}
	if !newToken("abc.def.ghi", pageOrigin, SourceHeader, time.Now()).ExpiresAt().IsZero() {
		t.Error("opaque token should have no expiry")
	}
}

func TestScanStorage(t *testing.T) {
	local := []StorageEntry{
		{Key: "theme", Value: "dark"},
		{Key: "session", Value: `{"user":"ada","idToken":"id.tok.en"}`},
		{Key: "raw", Value: "raw.tok.en"},
	}
	session := []StorageEntry{{Key: "t", Value: "ses.sion.jwt"}}

	if tok, ok := ScanStorage(local, session); !ok || tok != "id.tok.en" {
		t.Errorf("got %q, %v", tok, ok)
	}
	if tok, ok := ScanStorage(local[:1], session); !ok || tok != "ses.sion.jwt" {
		t.Errorf("fallback got %q, %v", tok, ok)
	}
	if _, ok := ScanStorage([]StorageEntry{{Key: "x", Value: `{"token":"nope"}`}}); ok {
		t.Error("non-JWT field should not match")
	}
}

type memSink struct {
	mu   sync.Mutex
	toks []Token
	err  error
}

func (s *memSink) Put(_ context.Context, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.toks = append(s.toks, tok)
	return nil
}

func (s *memSink) all() []Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Token(nil), s.toks...)
}

// waitFor returns the stored tokens once at least n have arrived.
func (s *memSink) waitFor(t *testing.T, n int) []Token {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := s.all()
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListenerSameOriginOnly(t *testing.T) {
	sink := &memSink{}
	page := bus.NewWindow(pageOrigin, nil)
	defer page.Close()
	evil := bus.NewWindow("https://evil.example.net", nil)
	defer evil.Close()

	l := NewListener(pageOrigin, sink)
	detach := l.Attach(context.Background(), page)
	defer detach()

	page.PostMessage(protocol.CaptureToken{Token: "abc.def.ghi"}, pageOrigin, evil)
	page.PostMessage(protocol.CaptureToken{Token: "not-a-token"}, pageOrigin, page)
	page.PostMessage(protocol.Ping{}, pageOrigin, page)
	page.PostMessage(protocol.CaptureToken{Token: "own.page.jwt"}, pageOrigin, page)

	got := sink.waitFor(t, 1)
	if len(got) != 1 {
		t.Fatalf("stored %d tokens: %+v", len(got), got)
	}
	if got[0].Value != "own.page.jwt" || got[0].Origin != pageOrigin || got[0].Source != SourceHeader {
		t.Errorf("token = %+v", got[0])
	}
}

func TestListenerKeepsHookSource(t *testing.T) {
	sink := &memSink{}
	page := bus.NewWindow(pageOrigin, nil)
	defer page.Close()

	l := NewListener(pageOrigin, sink)
	detach := l.Attach(context.Background(), page)
	defer detach()

	page.PostMessage(protocol.CaptureToken{Token: "sto.red.jwt", Source: "storage"}, pageOrigin, page)
	page.PostMessage(protocol.CaptureToken{Token: "hea.der.jwt", Source: "bogus"}, pageOrigin, page)

	got := sink.waitFor(t, 2)
	if len(got) != 2 {
		t.Fatalf("stored %d tokens: %+v", len(got), got)
	}
	if got[0].Source != SourceStorage || got[1].Source != SourceHeader {
		t.Errorf("sources = %q, %q", got[0].Source, got[1].Source)
	}
}

func TestParseSource(t *testing.T) {
	tests := map[string]Source{
		"header":    SourceHeader,
		"storage":   SourceStorage,
		"transport": SourceTransport,
		"cdp":       SourceCDP,
		"page":      SourceHeader,
		"":          SourceHeader,
	}
	for in, want := range tests {
		if got := ParseSource(in, SourceHeader); got != want {
			t.Errorf("ParseSource(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListenerSwallowsSinkErrors(t *testing.T) {
	m := metrics.New()
	l := NewListener(pageOrigin, &memSink{err: errors.New("disk full")}, WithMetrics(m))
	l.Report(context.Background(), "abc.def.ghi", SourceStorage)

	panicky := NewListener(pageOrigin, SinkFunc(func(context.Context, Token) error { panic("boom") }), WithMetrics(m))
	panicky.Report(context.Background(), "abc.def.ghi", SourceStorage)
}

func TestTransportReportsAndDelegates(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := &memSink{err: errors.New("store down")}
	client := &http.Client{Transport: NewTransport(nil, NewListener(pageOrigin, sink))}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("capture failure leaked into the request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || gotAuth != "Bearer abc.def.ghi" {
		t.Errorf("status = %d auth = %q", resp.StatusCode, gotAuth)
	}

	sink.err = nil
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := sink.all(); len(got) != 1 || got[0].Source != SourceTransport {
		t.Errorf("tokens = %+v", got)
	}
}

func TestAuthorizationBearer(t *testing.T) {
	tok, ok := authorizationBearer(network.Headers{"accept": "*/*", "authorization": "Bearer abc.def.ghi"})
	if !ok || tok != "abc.def.ghi" {
		t.Errorf("got %q, %v", tok, ok)
	}
	if _, ok := authorizationBearer(network.Headers{"Authorization": 42}); ok {
		t.Error("non-string header should not match")
	}
}
