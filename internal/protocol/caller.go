package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Credentials mirrors the fetch credentials mode.
type Credentials string

const (
	CredentialsInclude    Credentials = "include"
	CredentialsSameOrigin Credentials = "same-origin"
	CredentialsOmit       Credentials = "omit"
)

// RequestInit is the subset of fetch options the relay forwards. Mode and
// Cache are carried for callers that set them; executors that cannot honour
// them ignore them.
type RequestInit struct {
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	Credentials Credentials       `json:"credentials,omitempty"`
	Mode        string            `json:"mode,omitempty"`
	Cache       string            `json:"cache,omitempty"`
}

// Clone returns a deep copy. A nil receiver yields the zero value.
func (i *RequestInit) Clone() RequestInit {
	if i == nil {
		return RequestInit{}
	}
	out := *i
	if i.Headers != nil {
		out.Headers = make(map[string]string, len(i.Headers))
		for k, v := range i.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// CallerMessage is what other extension components send to the relay.
type CallerMessage struct {
	Type    Kind          `json:"type"`
	Payload *FetchPayload `json:"payload,omitempty"`
}

// FetchPayload is the payload of a WS_RELAY_FETCH caller message.
type FetchPayload struct {
	URL  string       `json:"url"`
	Init *RequestInit `json:"init,omitempty"`
}

// Wildcard is the target origin that matches any receiver.
const Wildcard = "*"

// TargetMatches reports whether a message addressed to target may be
// delivered to a receiver whose origin is origin.
func TargetMatches(target, origin string) bool {
	return target == Wildcard || target == origin
}

// NormalizeOrigin reduces raw to scheme://host[:port] in lower case.
func NormalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("origin needs a scheme and a host")
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}
