package capture

import (
	"net/http"
)

// Transport observes the Authorization header of outgoing requests and
// reports bearer tokens to a Listener. Requests pass to Base unchanged.
type Transport struct {
	Base     http.RoundTripper
	Listener *Listener
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, l *Listener) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Listener: l}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.observe(req)
	return t.Base.RoundTrip(req)
}

func (t *Transport) observe(req *http.Request) {
	defer func() { recover() }()
	if t.Listener == nil {
		return
	}
	if tok, ok := BearerValue(req.Header.Get("Authorization")); ok {
		t.Listener.Report(req.Context(), tok, SourceTransport)
	}
}
