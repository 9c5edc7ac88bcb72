// Package knowledge retrieves grounding passages for generation. A vector
// index holds document chunks with embeddings; the retriever embeds the
// query (through an LFU embedding cache), runs a similarity search, and
// keeps only matches above the relevance threshold.
package knowledge

import "context"

// Result is one passage judged relevant to a query, ordered by descending
// score when returned in a slice.
type Result struct {
	Text     string            `json:"text"`
	Source   string            `json:"source"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Document is an ingestable chunk of source material.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match is a raw similarity hit from the index, before threshold filtering.
type Match struct {
	Document Document
	Score    float64
}

// Index is the vector store the retriever queries. Implementations return
// matches ordered by descending similarity.
type Index interface {
	Query(ctx context.Context, embedding []float32, topK int) ([]Match, error)
	Upsert(ctx context.Context, doc Document, embedding []float32) error
	Delete(ctx context.Context, id string) error
}
