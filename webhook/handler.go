package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/voiceloop/voiceloop/core"
	"github.com/voiceloop/voiceloop/obs"
)

const maxBodyBytes = 1 << 20

// Handler is the HTTP boundary for the webhook endpoint. Authentication
// runs before parsing; parsing before dispatch; and every authenticated,
// well-formed event is acknowledged with 200 even when processing failed
// internally, so the provider never redelivers a partially-applied event.
type Handler struct {
	router *Router
	secret string
	apiKey string
}

// NewHandler builds the boundary around a router and the shared webhook
// credentials.
func NewHandler(router *Router, secret, apiKey string) *Handler {
	return &Handler{router: router, secret: secret, apiKey: apiKey}
}

// Mux returns the service routes: the webhook endpoint and a liveness
// probe.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", h.handleEvent)
	mux.HandleFunc("GET /healthz", handleHealthz)
	return mux
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	_, rec := obs.StartRequest(r.Context(), "webhook.event")
	var reqErr error
	defer func() { rec.End(reqErr) }()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		reqErr = err
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	if err := VerifyAPIKey(h.apiKey, r.Header.Get("X-Api-Key")); err != nil {
		reqErr = err
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := VerifySignature(h.secret, r.Header.Get("X-Signature"), body); err != nil {
		reqErr = err
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	evt, err := ParseEvent(body)
	if err != nil {
		reqErr = err
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack := h.dispatch(w, r, evt)
	if ack == "" {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": ack})
}

// dispatch routes the event, converting a panic from downstream
// processing into an acknowledgment rather than a 500. It returns ""
// when the response was already written.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, evt Event) (ack string) {
	defer func() {
		if v := recover(); v != nil {
			slog.ErrorContext(r.Context(), "panic during event dispatch", "type", evt.Type, "panic", v)
			ack = AckOK
		}
	}()

	ack, err := h.router.Route(r.Context(), evt)
	if err != nil {
		var oe *core.OrchError
		if errors.As(err, &oe) && core.IsValidation(err) {
			writeError(w, http.StatusBadRequest, oe.Message)
			return ""
		}
		// The router contract reserves errors for validation; anything
		// else is logged and acknowledged.
		slog.ErrorContext(r.Context(), "event dispatch failed", "type", evt.Type, "error", err)
		return AckOK
	}
	return ack
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
