package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Model:      "chat-model",
		EmbedModel: "embed-model",
	})
}

func TestGenerate(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq chatRequest

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "generated text"}},
			},
		})
	})

	turns := []Turn{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "question"},
	}
	out, err := c.Generate(context.Background(), turns, 256, 0.5)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "generated text" {
		t.Errorf("Generate() = %q, want %q", out, "generated text")
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q, want /chat/completions", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q, want bearer token", gotAuth)
	}
	if gotReq.Model != "chat-model" || len(gotReq.Messages) != 2 || gotReq.MaxTokens != 256 {
		t.Errorf("request = %+v, want model/messages/max_tokens forwarded", gotReq)
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "q"}}, 0, 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Generate() error = %v, want ErrUnavailable", err)
	}
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q, want /embeddings", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	})

	vec, err := c.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("Embed() = %v, want [0.1 0.2 0.3]", vec)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"request timeout", http.StatusRequestTimeout, ErrTimeout},
		{"gateway timeout", http.StatusGatewayTimeout, ErrTimeout},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
		{"bad request", http.StatusBadRequest, ErrInvalidRequest},
		{"unauthorized", http.StatusUnauthorized, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"provider detail"}}`))
			})
			_, err := c.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "q"}}, 0, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			// Provider error text stays out of the returned error.
			if err != nil && strings.Contains(err.Error(), "provider detail") {
				t.Errorf("error %q leaks provider response body", err)
			}
		})
	}
}

func TestContextCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Bounded wait so server shutdown can never hang the suite.
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Generate(ctx, []Turn{{Role: RoleUser, Content: "q"}}, 0, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled passed through", err)
	}
}

func TestDeadlineBecomesTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, []Turn{{Role: RoleUser, Content: "q"}}, 0, 0)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}
