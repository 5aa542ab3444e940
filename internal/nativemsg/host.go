package nativemsg

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/neboloop/pagerelay/internal/protocol"
)

// Handler answers caller messages. *relay.Orchestrator and *client.Client
// both satisfy it.
type Handler interface {
	HandleMessage(ctx context.Context, msg protocol.CallerMessage) protocol.RelayResponse
}

// Request is a caller message tagged with the id the extension uses to
// match the reply.
type Request struct {
	RequestID string `json:"requestId,omitempty"`
	protocol.CallerMessage
}

// Response echoes the request id next to the relay response.
type Response struct {
	RequestID string `json:"requestId,omitempty"`
	protocol.RelayResponse
}

// Host serves caller messages over a native messaging stream.
type Host struct {
	handler Handler
	logger  *slog.Logger

	writeMu sync.Mutex
}

// NewHost creates a host that forwards requests to h.
func NewHost(h Handler, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{handler: h, logger: logger.With("component", "nativemsg")}
}

// Serve reads requests from r until it ends, answering each on w as soon
// as it completes. Replies can arrive out of request order. Serve returns
// nil on a clean end of input, after every reply is written.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		raw, err := Read(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			h.logger.Debug("undecodable request", "error", err)
			h.reply(w, Response{RelayResponse: protocol.BadRequest()})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := h.handler.HandleMessage(ctx, req.CallerMessage)
			h.reply(w, Response{RequestID: req.RequestID, RelayResponse: resp})
		}()
	}
}

func (h *Host) reply(w io.Writer, resp Response) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	err := Write(w, resp)
	if errors.Is(err, ErrTooLarge) {
		h.logger.Warn("reply too large, sending failure instead", "request_id", resp.RequestID, "error", err)
		err = Write(w, Response{
			RequestID:     resp.RequestID,
			RelayResponse: protocol.Failure(errors.New("response too large")),
		})
	}
	if err != nil {
		h.logger.Warn("reply not written", "request_id", resp.RequestID, "error", err)
	}
}
