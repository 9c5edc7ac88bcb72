package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/beaconai/beacon/internal/llm"
	"github.com/beaconai/beacon/internal/log"
)

// Retrieval defaults. Matches scoring exactly at the threshold are dropped;
// only strictly higher scores count as relevant.
const (
	DefaultTopK      = 5
	DefaultThreshold = 0.5
	DefaultTimeout   = 5 * time.Second
)

// RetrieverConfig configures a Retriever. Zero values fall back to the
// package defaults.
type RetrieverConfig struct {
	TopK      int
	Threshold float64
	Timeout   time.Duration
	CacheSize int
	Logger    log.Logger
}

// Retriever answers "what do we know about this?" for the generation
// pipeline. Retrieve never returns an error: embedding or index failures
// degrade to an empty result set so generation proceeds without context.
type Retriever struct {
	embedder  llm.Embedder
	index     Index
	cache     *EmbeddingCache
	topK      int
	threshold float64
	timeout   time.Duration
	logger    log.Logger

	queries  atomic.Uint64
	failures atomic.Uint64
}

// RetrieverStats is a point-in-time snapshot of retrieval counters.
type RetrieverStats struct {
	Queries  uint64     `json:"queries"`
	Failures uint64     `json:"failures"`
	Cache    CacheStats `json:"cache"`
}

// NewRetriever builds a Retriever over the given embedder and index.
func NewRetriever(embedder llm.Embedder, index Index, cfg RetrieverConfig) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Retriever{
		embedder:  embedder,
		index:     index,
		cache:     NewEmbeddingCache(cfg.CacheSize),
		topK:      cfg.TopK,
		threshold: cfg.Threshold,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
}

// Retrieve returns the passages relevant to query, best first. Failures and
// empty queries yield an empty slice, never an error. The retrieval runs
// under its own timeout so a slow index cannot stall generation.
func (r *Retriever) Retrieve(ctx context.Context, query string) []Result {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	r.queries.Add(1)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	embedding, err := r.embed(ctx, query)
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("retrieval embedding failed, continuing without context", "error", err)
		return nil
	}

	matches, err := r.index.Query(ctx, embedding, r.topK)
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("index query failed, continuing without context", "error", err)
		return nil
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Score <= r.threshold {
			continue
		}
		results = append(results, Result{
			Text:     m.Document.Text,
			Source:   m.Document.Source,
			Score:    m.Score,
			Metadata: m.Document.Metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	r.logger.Debug("retrieved context",
		"matches", len(matches), "relevant", len(results), "threshold", r.threshold)
	return results
}

// embed resolves the query embedding, cache first.
func (r *Retriever) embed(ctx context.Context, query string) ([]float32, error) {
	key := CacheKey(query)
	if vec, ok := r.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, vec)
	return vec, nil
}

// Ingest embeds a document and stores it in the index. Unlike Retrieve this
// surfaces errors: ingestion callers need to know what failed.
func (r *Retriever) Ingest(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("ingest %q: empty text", doc.ID)
	}
	vec, err := r.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return fmt.Errorf("embed document %q: %w", doc.ID, err)
	}
	if err := r.index.Upsert(ctx, doc, vec); err != nil {
		return fmt.Errorf("upsert document %q: %w", doc.ID, err)
	}
	return nil
}

// Stats snapshots the retrieval counters.
func (r *Retriever) Stats() RetrieverStats {
	return RetrieverStats{
		Queries:  r.queries.Load(),
		Failures: r.failures.Load(),
		Cache:    r.cache.Stats(),
	}
}
