package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/metrics"
	"github.com/brojonat/walletfeed/service/reconcile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Feed is the engine surface the HTTP API exposes.
type Feed interface {
	Ready() bool
	Get(ctx context.Context, id string) (*feed.Event, error)
	EnqueueTX(ctx context.Context, ev *feed.Event) bool
	GetFeedPage(ctx context.Context, count int, reset bool, category feed.Category) []*feed.Event
	UpdateEventStatus(ctx context.Context, id string, status feed.Status) *feed.Event
	UpdateOTPLEventStatus(ctx context.Context, id string, status feed.Status) *feed.Event
	MarkWithErrorEvent(ctx context.Context, txHash string)
	Reprocess(ctx context.Context, id string) *feed.Event
	Subscribe(fn func(reconcile.Update)) func()
}

// Server is the HTTP server of the wallet feed.
type Server struct {
	addr    string
	feed    Feed
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a server over feed. m may be nil, which disables /metrics.
func New(addr string, f Feed, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		addr:    addr,
		feed:    f,
		metrics: m,
		logger:  logger,
	}
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the update stream is long lived.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
	}

	route("GET /api/v1/feed", handleGetFeedPage(s.feed, s.logger))
	route("POST /api/v1/feed", handleEnqueue(s.feed, s.logger))
	route("GET /api/v1/feed/{id}", handleGetEvent(s.feed, s.logger))
	route("PUT /api/v1/feed/{id}/status", handleUpdateStatus(s.feed, s.logger))
	route("PUT /api/v1/feed/{id}/otpl-status", handleUpdateOTPLStatus(s.feed, s.logger))
	route("POST /api/v1/feed/{id}/error", handleMarkError(s.feed, s.logger))
	route("POST /api/v1/receipts/{hash}", handleReprocess(s.feed, s.logger))
	route("GET /api/v1/stream/feed", handleStreamFeed(s.feed, s.metrics, s.logger))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if !s.feed.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("INITIALIZING"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
