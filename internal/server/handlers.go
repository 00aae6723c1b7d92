package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/pkg/gateway"
)

// maxRequestBytes bounds the JSON request body.
const maxRequestBytes = 8 << 20

// Service is the inbound contract the handlers serve.
type Service interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.DispatchOutcome, error)
	GenerateStream(ctx context.Context, req domain.GenerationRequest) *gateway.Stream
	Resolve(alias string) gateway.Resolution
	ListAvailableProviders() map[string]domain.ProviderStatus
}

type handlers struct {
	svc    Service
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func decodeRequest(r *http.Request) (domain.GenerationRequest, error) {
	var req domain.GenerationRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		return req, domain.ErrInvalidRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return req, domain.ErrInvalidRequest("message is required")
	}
	return req, nil
}

func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}
	AddLogField(r.Context(), "provider_alias", req.ProviderAlias)

	outcome, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}
	AddLogField(r.Context(), "provider", outcome.Provider)
	AddLogField(r.Context(), "model", outcome.UsedModel)
	writeJSON(w, outcome)
}

// streamDone is the payload of the terminal done event.
type streamDone struct {
	Provider  domain.ProviderIdentity `json:"provider"`
	Citations []domain.CitationEntry  `json:"citations,omitempty"`
}

func (h *handlers) generateStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}
	AddLogField(r.Context(), "provider_alias", req.ProviderAlias)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.ErrServer("streaming not supported"))
		return
	}

	stream := h.svc.GenerateStream(r.Context(), req)
	AddLogField(r.Context(), "provider", string(stream.Provider))

	sse := newSSEWriter(w, flusher)
	started := false
	for frag, err := range stream.Fragments {
		if err != nil {
			AddError(r.Context(), err)
			if !started {
				// Nothing has been sent yet, so the status can still carry the error.
				writeError(w, err)
				return
			}
			if r.Context().Err() == nil {
				_ = sse.event("error", errorBody{Error: detailOf(toAPIError(err))})
			}
			return
		}
		if !started {
			sse.start()
			started = true
		}
		if err := sse.data(frag); err != nil {
			// Client went away; returning stops the iteration and cancels
			// the provider call.
			return
		}
	}

	if !started {
		sse.start()
	}
	_ = sse.event("done", streamDone{Provider: stream.Provider, Citations: stream.Citations})
}

func (h *handlers) providers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.svc.ListAvailableProviders())
}

func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	alias := r.URL.Query().Get("alias")
	res := h.svc.Resolve(alias)
	AddLogField(r.Context(), "provider", string(res.Provider))
	writeJSON(w, res)
}

// sseWriter frames server-sent events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter, flusher http.Flusher) *sseWriter {
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) start() {
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

func (s *sseWriter) data(payload any) error {
	return s.write("", payload)
}

func (s *sseWriter) event(name string, payload any) error {
	return s.write(name, payload)
}

func (s *sseWriter) write(name string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
