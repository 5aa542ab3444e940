// Package protocol defines the messages exchanged between the relay
// orchestrator, the page bridge and the in-page token capture hook.
//
// Every message is a JSON object discriminated by its "type" field. Decode
// is the only way inbound bytes become a Message, so a value of one of the
// concrete types below has already passed shape validation.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the value of a message's "type" field.
type Kind string

const (
	KindPing         Kind = "WS_PING"
	KindPingAck      Kind = "WS_PING_ACK"
	KindFetch        Kind = "WS_RELAY_FETCH"
	KindFetchResult  Kind = "WS_RELAY_FETCH_RESULT"
	KindCaptureToken Kind = "CAPTURE_TOKEN"
)

var (
	ErrMalformed   = errors.New("protocol: malformed message")
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Message is one of Ping, PingAck, FetchRequest, FetchResult or CaptureToken.
type Message interface {
	Kind() Kind
}

// Ping asks the bridge whether it is alive.
type Ping struct{}

// PingAck answers a Ping.
type PingAck struct{}

// FetchRequest asks the bridge to perform an HTTP request with the page's
// ambient credentials.
type FetchRequest struct {
	ReqID string       `json:"reqId"`
	URL   string       `json:"url"`
	Init  *RequestInit `json:"init,omitempty"`
}

// FetchResult carries the bridge's answer for the request with the same ReqID.
type FetchResult struct {
	ReqID string `json:"reqId"`
	RelayResponse
}

// CaptureToken is posted by the in-page hook when it sees a bearer token.
// Source is "header" or "storage" when the hook knows where it looked.
type CaptureToken struct {
	Token  string `json:"token"`
	Source string `json:"source,omitempty"`
}

func (Ping) Kind() Kind         { return KindPing }
func (PingAck) Kind() Kind      { return KindPingAck }
func (FetchRequest) Kind() Kind { return KindFetch }
func (FetchResult) Kind() Kind  { return KindFetchResult }
func (CaptureToken) Kind() Kind { return KindCaptureToken }

func (m Ping) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind `json:"type"`
	}{KindPing})
}

func (m PingAck) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind `json:"type"`
	}{KindPingAck})
}

func (m FetchRequest) MarshalJSON() ([]byte, error) {
	type plain FetchRequest
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindFetch, plain(m)})
}

func (m FetchResult) MarshalJSON() ([]byte, error) {
	// headers and bodyText are always present on the wire for results.
	headers := m.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return json.Marshal(struct {
		Type       Kind              `json:"type"`
		ReqID      string            `json:"reqId"`
		OK         bool              `json:"ok"`
		Status     int               `json:"status"`
		StatusText string            `json:"statusText"`
		Headers    map[string]string `json:"headers"`
		BodyText   string            `json:"bodyText"`
	}{KindFetchResult, m.ReqID, m.OK, m.Status, m.StatusText, headers, m.BodyText})
}

func (m CaptureToken) MarshalJSON() ([]byte, error) {
	type plain CaptureToken
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindCaptureToken, plain(m)})
}

// Decode validates raw and returns the concrete message it encodes.
// The returned error wraps ErrMalformed or ErrUnknownType.
func Decode(raw []byte) (Message, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch head.Type {
	case KindPing:
		return Ping{}, nil
	case KindPingAck:
		return PingAck{}, nil
	case KindFetch:
		var m FetchRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.ReqID == "" || m.URL == "" {
			return nil, fmt.Errorf("%w: fetch request needs reqId and url", ErrMalformed)
		}
		return m, nil
	case KindFetchResult:
		var m FetchResult
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.ReqID == "" {
			return nil, fmt.Errorf("%w: fetch result without reqId", ErrMalformed)
		}
		return m, nil
	case KindCaptureToken:
		var m CaptureToken
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.Token == "" {
			return nil, fmt.Errorf("%w: capture without token", ErrMalformed)
		}
		return m, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}

// Envelope frames a message on a socket transport. It carries what
// window.postMessage carries implicitly: the sender's origin and the
// origin the sender expects the receiver to have.
type Envelope struct {
	Origin       string          `json:"origin,omitempty"`
	TargetOrigin string          `json:"targetOrigin"`
	Data         json.RawMessage `json:"data"`
}
