package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryIndex is an in-process Index using brute-force cosine similarity.
// Suitable for development and tests; the pgvector index is the production
// backend.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]memDoc
}

type memDoc struct {
	doc Document
	vec []float32
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]memDoc)}
}

func (x *MemoryIndex) Query(_ context.Context, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	x.mu.RLock()
	matches := make([]Match, 0, len(x.docs))
	for _, d := range x.docs {
		matches = append(matches, Match{Document: d.doc, Score: cosine(embedding, d.vec)})
	}
	x.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Document.ID < matches[j].Document.ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (x *MemoryIndex) Upsert(_ context.Context, doc Document, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("upsert %q: empty embedding", doc.ID)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	x.mu.Lock()
	x.docs[doc.ID] = memDoc{doc: doc, vec: vec}
	x.mu.Unlock()
	return nil
}

func (x *MemoryIndex) Delete(_ context.Context, id string) error {
	x.mu.Lock()
	delete(x.docs, id)
	x.mu.Unlock()
	return nil
}

// Len reports the number of indexed documents.
func (x *MemoryIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
