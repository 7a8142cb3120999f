// Package api provides the HTTP surface of the Biotecza bot: provider webhooks,
// a simulation endpoint for local testing and a health check.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sebashdez96/biotecza-bot/internal/messaging"
	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/sebashdez96/biotecza-bot/internal/store"
)

// Server timeouts
const (
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	// MaxWebhookBodyBytes caps provider webhook bodies.
	MaxWebhookBodyBytes = 1 << 20
)

// InboundProcessor handles one inbound message; messaging.InboundHandler implements it.
type InboundProcessor interface {
	Process(ctx context.Context, msg models.InboundMessage) error
}

// Compile-time check that messaging.InboundHandler implements InboundProcessor.
var _ InboundProcessor = (*messaging.InboundHandler)(nil)

// Server is the HTTP API server.
type Server struct {
	sessions   store.SessionStore
	dispatcher messaging.Dispatcher

	cloudInbound InboundProcessor
	verifyToken  string

	twilioInbound    InboundProcessor
	twilioAuthToken  string
	twilioWebhookURL string

	simulate bool
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithCloudAPIWebhook mounts GET and POST /webhook for the Meta Cloud API.
func WithCloudAPIWebhook(p InboundProcessor, verifyToken string) Option {
	return func(s *Server) {
		s.cloudInbound = p
		s.verifyToken = verifyToken
	}
}

// WithTwilioWebhook mounts POST /twilio/webhook. When authToken and publicURL
// are both set, requests must carry a valid X-Twilio-Signature.
func WithTwilioWebhook(p InboundProcessor, authToken, publicURL string) Option {
	return func(s *Server) {
		s.twilioInbound = p
		s.twilioAuthToken = authToken
		s.twilioWebhookURL = publicURL
	}
}

// WithSimulation mounts POST /simulate.
func WithSimulation() Option {
	return func(s *Server) { s.simulate = true }
}

// NewServer builds the router.
func NewServer(sessions store.SessionStore, dispatcher messaging.Dispatcher, opts ...Option) *Server {
	s := &Server{sessions: sessions, dispatcher: dispatcher}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	if s.cloudInbound != nil {
		r.Get("/webhook", s.verifyWebhookHandler)
		r.Post("/webhook", s.cloudWebhookHandler)
	}
	if s.twilioInbound != nil {
		if s.twilioAuthToken == "" || s.twilioWebhookURL == "" {
			slog.Warn("Server: Twilio webhook signature validation disabled; set TWILIO_WEBHOOK_URL to enable it")
		}
		r.Post("/twilio/webhook", s.twilioWebhookHandler)
	}
	if s.simulate {
		slog.Warn("Server: simulation endpoint enabled")
		r.Post("/simulate", s.simulateHandler)
	}
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.ListenAndServe: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

// requestLogger logs each request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("Server: request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
