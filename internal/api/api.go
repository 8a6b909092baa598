package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jroos/habitloop/internal/flow"
	"github.com/jroos/habitloop/internal/messaging"
	"github.com/jroos/habitloop/internal/models"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful shutdown on Stop.
const shutdownTimeout = 5 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server is the HabitLoop HTTP server.
type Server struct {
	addr       string
	runtime    *flow.RuntimeManager
	router     *messaging.Router
	twilio     *messaging.TwilioService
	httpServer *http.Server
}

// NewServer creates an API server. twilio may be nil when the Twilio
// channel is not configured; the webhook route is then not registered.
func NewServer(runtime *flow.RuntimeManager, router *messaging.Router, twilio *messaging.TwilioService, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		addr:    cfg.Addr,
		runtime: runtime,
		router:  router,
		twilio:  twilio,
	}
}

// Handler builds the route table. Exposed separately so tests can
// exercise routes without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	if s.twilio != nil {
		mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler())
	}
	return mux
}

// Start runs the HTTP server in the background. Listen failures after
// startup are logged, not fatal.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success("healthy"))
}

// statsHandler handles GET /stats with a copy of the runtime document.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.runtime.Snapshot()))
}

// twilioWebhookHandler handles POST /webhook/twilio. The reply rides
// back synchronously as TwiML.
func (s *Server) twilioWebhookHandler() http.HandlerFunc {
	inner := s.twilio.WebhookHandler(s.router.HandleSync)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		inner(w, r)
	}
}
