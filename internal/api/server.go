// Package api exposes the conversational backend over a JSON HTTP API.
// Routes live under /api/v1; health probes bypass the middleware stack.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beaconai/beacon/internal/chat"
	"github.com/beaconai/beacon/internal/knowledge"
	"github.com/beaconai/beacon/internal/log"
	"github.com/beaconai/beacon/internal/thread"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator *chat.Orchestrator   // Required
	ThreadStore  thread.Store         // Required
	Retriever    *knowledge.Retriever // Optional: nil hides retrieval stats
	Pool         *pgxpool.Pool        // Optional: nil means memory-backed readiness
	CORSOrigins  []string
	TrustProxy   bool
	RateRPS      float64 // Tokens per second per IP (0 = default 5)
	RateBurst    int     // Burst size per IP (0 = default 10)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.ThreadStore == nil {
		return nil, errors.New("thread store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	rl := newIPLimiter(cfg.RateRPS, cfg.RateBurst)

	ch := &chatHandler{orchestrator: cfg.Orchestrator, logger: logger}
	th := &threadHandler{store: cfg.ThreadStore, logger: logger}
	sh := &searchHandler{store: cfg.ThreadStore, logger: logger}
	st := &statsHandler{retriever: cfg.Retriever, limiter: rl, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat", ch.send)

	mux.HandleFunc("GET /api/v1/threads", th.list)
	mux.HandleFunc("GET /api/v1/threads/{id}", th.get)
	mux.HandleFunc("DELETE /api/v1/threads/{id}", th.delete)
	mux.HandleFunc("GET /api/v1/threads/{id}/messages", th.messages)
	mux.HandleFunc("GET /api/v1/threads/{id}/summary", th.summary)
	mux.HandleFunc("POST /api/v1/threads/{id}/messages/{msgID}/feedback", th.feedback)

	mux.HandleFunc("GET /api/v1/search", sh.search)
	mux.HandleFunc("GET /api/v1/stats", st.get)

	// Middleware stack, outermost first:
	//   Recovery -> Logging -> Tracing -> CORS -> RateLimit -> Routes
	// CORS sits before RateLimit so preflight OPTIONS carries CORS headers.
	var handler http.Handler = mux
	handler = rl.middleware(cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = tracingMiddleware()(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes stay outside the middleware stack so load balancers
	// never hit the rate limiter.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
