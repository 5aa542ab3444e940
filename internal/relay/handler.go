package relay

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/neboloop/pagerelay/internal/httputil"
	"github.com/neboloop/pagerelay/internal/protocol"
)

// Handler returns the caller-facing HTTP routes. Relay outcomes, failures
// included, are always written as a RelayResponse with status 200; only a
// body that is not JSON at all is answered with a bad-request value.
func (o *Orchestrator) Handler() http.Handler {
	router := chi.NewRouter()
	router.Post("/message", o.HandleCallerMessage)
	router.Get("/status", o.HandleStatus)
	return router
}

// HandleCallerMessage decodes a caller message and relays it.
func (o *Orchestrator) HandleCallerMessage(w http.ResponseWriter, r *http.Request) {
	var msg protocol.CallerMessage
	if err := httputil.DecodeJSON(r, &msg); err != nil {
		if !errors.Is(err, io.EOF) {
			o.logger.Debug("undecodable caller message", "error", err)
		}
		httputil.OkJSON(w, protocol.BadRequest())
		return
	}
	httputil.OkJSON(w, o.HandleMessage(r.Context(), msg))
}

// HandleStatus reports the orchestrator's state.
func (o *Orchestrator) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.OkJSON(w, o.Status())
}
