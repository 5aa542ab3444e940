package protocol

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Status texts of responses synthesized by the relay rather than received
// from the network.
const (
	StatusTextNoFrame    = "no-frame"
	StatusTextTimeout    = "timeout"
	StatusTextBadRequest = "bad-request"
	StatusTextCanceled   = "canceled"
)

// RelayResponse is the uniform result of a relayed call. Relay failures are
// reported as values with OK=false, never as errors. Headers and BodyText
// are always on the wire; responses built here carry an empty header map.
type RelayResponse struct {
	OK         bool              `json:"ok"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	BodyText   string            `json:"bodyText"`
}

func synthetic(ok bool, status int, text string) RelayResponse {
	return RelayResponse{OK: ok, Status: status, StatusText: text, Headers: map[string]string{}}
}

// NoFrame reports that the bridge did not answer a liveness check.
func NoFrame() RelayResponse {
	return synthetic(false, 0, StatusTextNoFrame)
}

// Timeout reports that no result arrived within the fetch timeout.
func Timeout() RelayResponse {
	return synthetic(false, 0, StatusTextTimeout)
}

// Canceled reports that the caller gave up before a result arrived.
func Canceled() RelayResponse {
	return synthetic(false, 0, StatusTextCanceled)
}

// BadRequest reports a caller message the relay does not understand.
func BadRequest() RelayResponse {
	return synthetic(false, http.StatusBadRequest, StatusTextBadRequest)
}

// Failure reports an unexpected error, either in the relay or in the
// bridge's network call.
func Failure(err error) RelayResponse {
	text := "unknown error"
	if err != nil {
		text = err.Error()
	}
	return synthetic(false, http.StatusInternalServerError, text)
}

// Alive is what a caller gets for a successful liveness check.
func Alive() RelayResponse {
	return synthetic(true, http.StatusOK, "OK")
}

// Recovered turns a recovered panic value into a Failure.
func Recovered(v any) RelayResponse {
	if err, ok := v.(error); ok {
		return Failure(err)
	}
	return Failure(fmt.Errorf("%v", v))
}

// HeaderMap flattens h into a map with lower-case keys. Multiple values of
// one header are joined with ", " the way a fetch Headers object exposes
// them; keys differing only in case collapse with the last one winning.
func HeaderMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[strings.ToLower(k)] = strings.Join(h[k], ", ")
	}
	return out
}

// StatusText extracts the reason phrase from a status line such as
// "404 Not Found", falling back to the standard text for code.
func StatusText(code int, status string) string {
	text := strings.TrimSpace(strings.TrimPrefix(status, fmt.Sprint(code)))
	if text == "" {
		text = http.StatusText(code)
	}
	return text
}
