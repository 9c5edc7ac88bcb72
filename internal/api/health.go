package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beaconai/beacon/internal/knowledge"
	"github.com/beaconai/beacon/internal/log"
)

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// readiness reports whether dependencies are reachable. Without a pool the
// server is memory-backed and always ready.
func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}` + "\n"))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}` + "\n"))
	})
}

type statsHandler struct {
	retriever *knowledge.Retriever
	limiter   *ipLimiter
	logger    log.Logger
}

func (h *statsHandler) get(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{}
	if h.retriever != nil {
		body["retrieval"] = h.retriever.Stats()
	}
	if h.limiter != nil {
		body["rate_limit"] = h.limiter.stats()
	}
	writeJSON(w, http.StatusOK, body, h.logger)
}
