package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsconductor/opsconductor/internal/auditctx"
	"github.com/rs/zerolog/log"
)

// WebhookServer is the single HTTP ingress multiplexing every
// webhook-mode connector under /webhook/{connector_type}. Payloads may
// be JSON or form-encoded. An accepted-but-dropped payload still gets
// a 2xx; 4xx is reserved for malformed syntax.
type WebhookServer struct {
	processor Processor

	mu       sync.RWMutex
	handlers map[string]WebhookHandler
	srv      *http.Server
}

func NewWebhookServer(processor Processor) *WebhookServer {
	return &WebhookServer{
		processor: processor,
		handlers:  map[string]WebhookHandler{},
	}
}

// Mount registers a webhook-mode connector under its type.
func (s *WebhookServer) Mount(h WebhookHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[h.Type()] = h
}

// Handler returns the HTTP handler, exposed for tests and for
// embedding into an existing mux.
func (s *WebhookServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/", s.handleWebhook)
	return mux
}

// Start binds addr and serves until ctx is cancelled.
func (s *WebhookServer) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webhook listener %s: %w", addr, err)
	}

	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Webhook server shutdown failed")
		}
	}()
	go func() {
		log.Info().Str("addr", addr).Msg("Webhook ingress listening")
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Webhook server stopped unexpectedly")
		}
	}()
	return nil
}

func (s *WebhookServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"code":"method_not_allowed","message":"POST required"}`, http.StatusMethodNotAllowed)
		return
	}

	connectorType := strings.TrimPrefix(r.URL.Path, "/webhook/")
	s.mu.RLock()
	handler, ok := s.handlers[connectorType]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, `{"code":"unknown_connector","message":"no such connector"}`, http.StatusNotFound)
		return
	}

	payload, err := decodePayload(r)
	if err != nil {
		http.Error(w, `{"code":"bad_payload","message":"malformed payload"}`, http.StatusBadRequest)
		return
	}

	ctx := auditctx.With(r.Context(), auditctx.Identity{
		RequestID: uuid.NewString(),
		IP:        remoteIP(r),
	})

	alert, err := handler.HandleWebhook(ctx, payload)
	if err != nil {
		log.Warn().Err(err).Str("connector_type", connectorType).Msg("Webhook handling failed")
		http.Error(w, `{"code":"bad_payload","message":"unrecognized payload"}`, http.StatusBadRequest)
		return
	}

	accepted := false
	if alert != nil {
		if err := s.processor.ProcessAlert(ctx, *alert); err != nil {
			// The payload itself was fine; an internal write failure is
			// not the sender's problem to retry differently.
			log.Error().Err(err).Str("fingerprint", alert.Fingerprint).Msg("Failed to process webhook alert")
		} else {
			accepted = true
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "accepted": accepted})
}

func decodePayload(r *http.Request) (map[string]any, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return nil, err
		}
		return payload, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			payload[k] = vs[0]
		}
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	return payload, nil
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
