package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/beaconai/beacon/internal/chat"
	"github.com/beaconai/beacon/internal/llm"
	"github.com/beaconai/beacon/internal/prompt"
	"github.com/beaconai/beacon/internal/thread"
)

// echoGenerator replies with a fixed string.
type echoGenerator struct {
	reply string
	err   error
}

func (g *echoGenerator) Generate(context.Context, []llm.Turn, int, float32) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *echoGenerator) ModelName() string { return "echo" }

func newTestServer(t *testing.T, gen llm.Generator) (*Server, thread.Store) {
	t.Helper()
	store := thread.NewMemoryStore(nil)
	orch := chat.New(store, nil, prompt.New(prompt.Config{}), gen, chat.Config{})
	srv, err := NewServer(ServerConfig{
		Orchestrator: orch,
		ThreadStore:  store,
		RateBurst:    1000,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv, store
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServerValidation(t *testing.T) {
	store := thread.NewMemoryStore(nil)
	orch := chat.New(store, nil, prompt.New(prompt.Config{}), &echoGenerator{reply: "r"}, chat.Config{})

	t.Run("missing orchestrator", func(t *testing.T) {
		if _, err := NewServer(ServerConfig{ThreadStore: store}); err == nil {
			t.Error("NewServer() without orchestrator succeeded, want error")
		}
	})
	t.Run("missing store", func(t *testing.T) {
		if _, err := NewServer(ServerConfig{Orchestrator: orch}); err == nil {
			t.Error("NewServer() without store succeeded, want error")
		}
	})
}

func TestChatEndpoint(t *testing.T) {
	srv, store := newTestServer(t, &echoGenerator{reply: "hello back"})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat",
		map[string]any{"user_id": "u1", "message": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}

	var res chat.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !res.Success || res.Message != "hello back" {
		t.Errorf("result = %+v, want successful echo", res)
	}
	if res.ThreadID == "" {
		t.Fatal("ThreadID is empty")
	}

	// The exchange is persisted and visible through the thread API.
	msgs, err := store.GetMessages(context.Background(), res.ThreadID, thread.MessageQuery{})
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("persisted %d messages, want 2", len(msgs))
	}
}

func TestChatEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		gen        llm.Generator
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			"invalid json",
			&echoGenerator{reply: "r"},
			"{bad",
			http.StatusBadRequest,
			"invalid_json",
		},
		{
			"empty message",
			&echoGenerator{reply: "r"},
			`{"user_id":"u1","message":"  "}`,
			http.StatusBadRequest,
			"",
		},
		{
			"provider failure",
			&echoGenerator{err: llm.ErrInvalidRequest},
			`{"user_id":"u1","message":"q"}`,
			http.StatusBadGateway,
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.gen)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantCode != "" {
				var envelope errorBody
				if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
					t.Fatalf("response is not an error envelope: %v", err)
				}
				if envelope.Error.Code != tt.wantCode {
					t.Errorf("error code = %q, want %q", envelope.Error.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestThreadEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &echoGenerator{reply: "r"})

	// Seed two exchanges through the chat endpoint.
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat",
		map[string]any{"user_id": "u1", "message": "first question"})
	var res chat.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	threadID := res.ThreadID
	doJSON(t, srv, http.MethodPost, "/api/v1/chat",
		map[string]any{"user_id": "u1", "thread_id": threadID, "message": "second question"})

	t.Run("list", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/threads?user_id=u1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body struct {
			Threads []*thread.Thread `json:"threads"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Threads) != 1 {
			t.Errorf("got %d threads, want 1", len(body.Threads))
		}
	})

	t.Run("list requires user", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/threads", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("get", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/threads/"+threadID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var th thread.Thread
		if err := json.Unmarshal(rec.Body.Bytes(), &th); err != nil {
			t.Fatal(err)
		}
		if th.Title != "first question" {
			t.Errorf("title = %q, want %q", th.Title, "first question")
		}
		if th.MessageCount != 4 {
			t.Errorf("message count = %d, want 4", th.MessageCount)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/threads/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("messages", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/threads/"+threadID+"/messages?limit=2", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body struct {
			Messages []*thread.Message `json:"messages"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Messages) != 2 {
			t.Fatalf("got %d messages, want 2", len(body.Messages))
		}
		if body.Messages[1].Content != "r" {
			t.Errorf("last message = %q, want the assistant reply", body.Messages[1].Content)
		}
	})

	t.Run("summary", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/threads/"+threadID+"/summary", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var sum thread.Summary
		if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
			t.Fatal(err)
		}
		if sum.UserMessages != 2 || sum.AssistantMessages != 2 {
			t.Errorf("summary = %+v, want 2 user and 2 assistant messages", sum)
		}
	})

	t.Run("feedback", func(t *testing.T) {
		var msgs struct {
			Messages []*thread.Message `json:"messages"`
		}
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/threads/"+threadID+"/messages", nil)
		if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
			t.Fatal(err)
		}
		msgID := msgs.Messages[len(msgs.Messages)-1].ID

		rec = doJSON(t, srv, http.MethodPost,
			fmt.Sprintf("/api/v1/threads/%s/messages/%s/feedback", threadID, msgID),
			map[string]any{"rating": 4, "comment": "helpful"})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204, body %s", rec.Code, rec.Body)
		}

		t.Run("invalid rating", func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost,
				fmt.Sprintf("/api/v1/threads/%s/messages/%s/feedback", threadID, msgID),
				map[string]any{"rating": 11})
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})

		t.Run("unknown message", func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost,
				fmt.Sprintf("/api/v1/threads/%s/messages/%s/feedback", threadID, "ghost"),
				map[string]any{"rating": 3})
			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rec.Code)
			}
		})
	})

	t.Run("search", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/search?user_id=u1&q=second", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body struct {
			Results []thread.SearchHit `json:"results"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Results) != 1 {
			t.Errorf("got %d hits, want 1", len(body.Results))
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodDelete, "/api/v1/threads/"+threadID, nil)
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		rec = doJSON(t, srv, http.MethodGet, "/api/v1/threads/"+threadID, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status after delete = %d, want 404", rec.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &echoGenerator{reply: "r"})

	for _, path := range []string{"/health", "/ready"} {
		rec := doJSON(t, srv, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestRateLimiting(t *testing.T) {
	store := thread.NewMemoryStore(nil)
	orch := chat.New(store, nil, prompt.New(prompt.Config{}), &echoGenerator{reply: "r"}, chat.Config{})
	srv, err := NewServer(ServerConfig{
		Orchestrator: orch,
		ThreadStore:  store,
		RateRPS:      0.001,
		RateBurst:    2,
	})
	if err != nil {
		t.Fatal(err)
	}

	var limited bool
	for i := 0; i < 5; i++ {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/threads?user_id=u1", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 response missing Retry-After header")
			}
		}
	}
	if !limited {
		t.Error("no request was rate limited after exhausting the burst")
	}

	// Health probes bypass the limiter.
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 even when rate limited", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	store := thread.NewMemoryStore(nil)
	orch := chat.New(store, nil, prompt.New(prompt.Config{}), &echoGenerator{reply: "r"}, chat.Config{})
	srv, err := NewServer(ServerConfig{
		Orchestrator: orch,
		ThreadStore:  store,
		CORSOrigins:  []string{"http://localhost:4200"},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:4200" {
		t.Errorf("Allow-Origin = %q, want the requesting origin", got)
	}

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q for unknown origin, want empty", got)
		}
	})
}

func TestChatErrorBodyHidesBackendDetail(t *testing.T) {
	genErr := fmt.Errorf("%w: Post \"http://10.9.8.7:11434/v1/chat/completions\": EOF", llm.ErrInvalidRequest)
	srv, _ := newTestServer(t, &echoGenerator{err: genErr})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat",
		map[string]any{"user_id": "u1", "message": "hello"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body %s", rec.Code, rec.Body)
	}

	body := rec.Body.String()
	for _, leak := range []string{"10.9.8.7", "11434", "EOF"} {
		if strings.Contains(body, leak) {
			t.Errorf("response body %q leaks backend detail %q", body, leak)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &echoGenerator{reply: "r"})

	// Move the limiter counters before reading them back.
	doJSON(t, srv, http.MethodPost, "/api/v1/chat",
		map[string]any{"user_id": "u1", "message": "hi"})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}

	var body struct {
		RateLimit ipLimiterStats `json:"rate_limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if body.RateLimit.Allowed < 2 {
		t.Errorf("Allowed = %d, want at least the two requests above", body.RateLimit.Allowed)
	}
	if body.RateLimit.ActiveIPs == 0 {
		t.Error("ActiveIPs = 0, want the test client counted")
	}
}
