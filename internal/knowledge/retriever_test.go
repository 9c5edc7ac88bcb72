package knowledge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// stubEmbedder returns a fixed vector and counts calls.
type stubEmbedder struct {
	vec   []float32
	err   error
	calls atomic.Int64
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

// stubIndex serves canned matches.
type stubIndex struct {
	matches []Match
	err     error
	gotTopK int
}

func (x *stubIndex) Query(_ context.Context, _ []float32, topK int) ([]Match, error) {
	x.gotTopK = topK
	if x.err != nil {
		return nil, x.err
	}
	return x.matches, nil
}

func (x *stubIndex) Upsert(_ context.Context, _ Document, _ []float32) error { return nil }
func (x *stubIndex) Delete(_ context.Context, _ string) error                { return nil }

func match(text string, score float64) Match {
	return Match{Document: Document{ID: text, Text: text, Source: "test"}, Score: score}
}

func TestRetrieveFiltersAndOrders(t *testing.T) {
	idx := &stubIndex{matches: []Match{
		match("borderline", 0.5), // exactly at threshold, dropped
		match("strong", 0.92),
		match("weak", 0.2),
		match("decent", 0.61),
	}}
	r := NewRetriever(&stubEmbedder{vec: []float32{1}}, idx, RetrieverConfig{TopK: 4})

	results := r.Retrieve(context.Background(), "query")
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Text != "strong" || results[1].Text != "decent" {
		t.Errorf("order = [%s %s], want [strong decent]", results[0].Text, results[1].Text)
	}
	if idx.gotTopK != 4 {
		t.Errorf("index queried with topK = %d, want 4", idx.gotTopK)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1}}
	r := NewRetriever(emb, &stubIndex{}, RetrieverConfig{})

	for _, q := range []string{"", "   ", "\n\t"} {
		if got := r.Retrieve(context.Background(), q); len(got) != 0 {
			t.Errorf("Retrieve(%q) = %d results, want 0", q, len(got))
		}
	}
	if emb.calls.Load() != 0 {
		t.Errorf("embedder called %d times for blank queries, want 0", emb.calls.Load())
	}
}

func TestRetrieveNeverErrors(t *testing.T) {
	t.Run("embedder failure", func(t *testing.T) {
		r := NewRetriever(&stubEmbedder{err: errors.New("boom")}, &stubIndex{}, RetrieverConfig{})
		if got := r.Retrieve(context.Background(), "query"); len(got) != 0 {
			t.Errorf("got %d results on embedder failure, want 0", len(got))
		}
		if r.Stats().Failures != 1 {
			t.Errorf("failures = %d, want 1", r.Stats().Failures)
		}
	})

	t.Run("index failure", func(t *testing.T) {
		r := NewRetriever(&stubEmbedder{vec: []float32{1}}, &stubIndex{err: errors.New("down")}, RetrieverConfig{})
		if got := r.Retrieve(context.Background(), "query"); len(got) != 0 {
			t.Errorf("got %d results on index failure, want 0", len(got))
		}
		if r.Stats().Failures != 1 {
			t.Errorf("failures = %d, want 1", r.Stats().Failures)
		}
	})
}

func TestRetrieveUsesCache(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1, 2}}
	r := NewRetriever(emb, &stubIndex{}, RetrieverConfig{CacheSize: 8})

	r.Retrieve(context.Background(), "same question")
	r.Retrieve(context.Background(), "Same Question  ")
	r.Retrieve(context.Background(), "different question")

	if got := emb.calls.Load(); got != 2 {
		t.Errorf("embedder called %d times, want 2", got)
	}
	if hits := r.Stats().Cache.Hits; hits != 1 {
		t.Errorf("cache hits = %d, want 1", hits)
	}
}

func TestRetrieveTimeout(t *testing.T) {
	slow := &slowIndex{delay: 50 * time.Millisecond}
	r := NewRetriever(&stubEmbedder{vec: []float32{1}}, slow, RetrieverConfig{Timeout: 5 * time.Millisecond})

	start := time.Now()
	got := r.Retrieve(context.Background(), "query")
	if len(got) != 0 {
		t.Errorf("got %d results from timed-out index, want 0", len(got))
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("Retrieve took %v, want bounded by the retrieval timeout", elapsed)
	}
}

type slowIndex struct {
	delay time.Duration
}

func (x *slowIndex) Query(ctx context.Context, _ []float32, _ int) ([]Match, error) {
	select {
	case <-time.After(x.delay):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (x *slowIndex) Upsert(_ context.Context, _ Document, _ []float32) error { return nil }
func (x *slowIndex) Delete(_ context.Context, _ string) error                { return nil }

func TestIngest(t *testing.T) {
	mem := NewMemoryIndex()
	r := NewRetriever(&stubEmbedder{vec: []float32{0.6, 0.8}}, mem, RetrieverConfig{})

	err := r.Ingest(context.Background(), Document{Text: "go is a language", Source: "docs"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if mem.Len() != 1 {
		t.Errorf("index size = %d, want 1", mem.Len())
	}

	t.Run("empty text", func(t *testing.T) {
		if err := r.Ingest(context.Background(), Document{ID: "x"}); err == nil {
			t.Error("Ingest() with empty text succeeded, want error")
		}
	})
}

func TestMemoryIndexQuery(t *testing.T) {
	mem := NewMemoryIndex()
	ctx := context.Background()

	docs := []struct {
		id  string
		vec []float32
	}{
		{"aligned", []float32{1, 0}},
		{"orthogonal", []float32{0, 1}},
		{"close", []float32{0.9, 0.1}},
	}
	for _, d := range docs {
		if err := mem.Upsert(ctx, Document{ID: d.id, Text: d.id}, d.vec); err != nil {
			t.Fatalf("Upsert(%q) error = %v", d.id, err)
		}
	}

	matches, err := mem.Query(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Document.ID != "aligned" || matches[1].Document.ID != "close" {
		t.Errorf("order = [%s %s], want [aligned close]", matches[0].Document.ID, matches[1].Document.ID)
	}
	if matches[0].Score < 0.999 {
		t.Errorf("identical vector score = %f, want ~1", matches[0].Score)
	}

	t.Run("delete", func(t *testing.T) {
		if err := mem.Delete(ctx, "aligned"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if mem.Len() != 2 {
			t.Errorf("size after delete = %d, want 2", mem.Len())
		}
	})
}
