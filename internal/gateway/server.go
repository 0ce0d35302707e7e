// Package gateway is the inbound edge of AtenBot: it receives Evolution
// API message events over webhook (and optionally websocket), filters
// and deduplicates them, and enqueues jobs for the worker pool.
//
// The webhook endpoint always answers 200 once a request is
// authenticated — redelivery is the queue's job, not the HTTP
// caller's.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/atenlabs/atenbot/internal/config"
	"github.com/atenlabs/atenbot/internal/dedup"
	"github.com/atenlabs/atenbot/internal/queue"
)

// maxWebhookBody bounds webhook request bodies. Inline base64 audio is
// the largest legitimate payload.
const maxWebhookBody = 20 << 20

// Server is the webhook ingestion server.
type Server struct {
	cfg         *config.Config
	queue       queue.Queue
	cache       *dedup.Cache
	rateLimiter *WebhookRateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the ingestion edge over the shared queue and dedup
// cache.
func NewServer(cfg *config.Config, q queue.Queue, cache *dedup.Cache) *Server {
	return &Server{
		cfg:         cfg,
		queue:       q,
		cache:       cache,
		rateLimiter: NewWebhookRateLimiter(cfg.Server.RateLimitRPM),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux = mux
	return mux
}

// Start begins serving and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := s.cfg.Server.Addr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebhook ingests one Evolution API event delivery.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimiter.Allow(remoteKey(r)) {
		slog.Warn("gateway.rate_limited", "remote", r.RemoteAddr)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if !s.authorized(r) {
		slog.Warn("gateway.unauthorized", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeStatus(w, StatusErrorHandled)
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		slog.Debug("gateway.invalid_payload", "error", err)
		writeStatus(w, StatusIgnoredInvalid)
		return
	}

	writeStatus(w, s.ingest(r.Context(), &ev))
}

// ingest classifies, deduplicates, and enqueues one event. Shared by
// the webhook handler and the websocket consumer.
func (s *Server) ingest(ctx context.Context, ev *Event) Status {
	job, status := Normalize(ev, s.cfg.Evolution.Instance)
	if status != StatusQueued {
		if status != StatusIgnoredFromMe {
			slog.Debug("gateway.ignored", "status", status, "event", ev.EventName())
		}
		return status
	}

	if s.cache.SeenOrMark(job.MessageID) {
		slog.Debug("gateway.duplicate", "message_id", job.MessageID)
		return StatusIgnoredDuplicate
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		// The sender already got its webhook slot consumed; report the
		// failure locally instead of provoking a gateway-side retry
		// storm.
		slog.Error("gateway.enqueue_failed", "message_id", job.MessageID, "error", err)
		return StatusErrorHandled
	}

	slog.Info("gateway.queued",
		"message_id", job.MessageID,
		"sender", job.Sender,
		"kind", job.Kind)
	return StatusQueued
}

// authorized checks the shared webhook secret when enabled. The secret
// arrives in the apikey or x-api-key header, matching Evolution API
// conventions.
func (s *Server) authorized(r *http.Request) bool {
	if !s.cfg.Server.WebhookSecretEnabled {
		return true
	}
	secret := s.cfg.Server.WebhookSecret
	if secret == "" {
		return true
	}

	got := r.Header.Get("apikey")
	if got == "" {
		got = r.Header.Get("x-api-key")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func writeStatus(w http.ResponseWriter, status Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]Status{"status": status})
}

// remoteKey extracts the rate-limit key for a request: the remote host
// without the ephemeral port.
func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
