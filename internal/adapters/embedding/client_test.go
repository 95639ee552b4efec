package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/circuitbreaker"
	"github.com/evermind-ai/evermind/internal/adapters/retry"
)

// fastRetry swaps in millisecond backoff so failure-path tests do not sleep
// through the production schedule.
func fastRetry(c *Client) {
	c.retryConfig = retry.BackoffConfig{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: 3}
}

// vectorServer answers every request with the given items and counts calls.
func vectorServer(t *testing.T, calls *atomic.Int32, items ...embedItem) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		json.NewEncoder(w).Encode(embedResponse{Data: items, Model: "test-model"})
	}))
}

func TestNewClient_NormalizesBaseURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://localhost:11434/v1", "http://localhost:11434"},
		{"http://localhost:11434/v1/", "http://localhost:11434"},
		{"http://localhost:11434/", "http://localhost:11434"},
		{"http://localhost:11434", "http://localhost:11434"},
	}
	for _, tc := range cases {
		c := NewClient(tc.in, "", "test-model", 1024, 0)
		if c.baseURL != tc.want {
			t.Errorf("NewClient(%q): baseURL = %q, want %q", tc.in, c.baseURL, tc.want)
		}
	}
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient("http://localhost:11434", "", "test-model", 1024, 0)
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, DefaultTimeout)
	}
}

func TestGetDimensions(t *testing.T) {
	c := NewClient("http://localhost:11434", "", "test-model", 1024, 0)
	if got := c.GetDimensions(); got != 1024 {
		t.Errorf("GetDimensions() = %d, want 1024", got)
	}
}

func TestEmbed_SendsSingleTextAsArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s, want /v1/embeddings", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Input) != 1 || req.Input[0] != "hello" {
			t.Errorf("Input = %v, want [hello]", req.Input)
		}
		json.NewEncoder(w).Encode(embedResponse{
			Data:  []embedItem{{Embedding: []float32{0.1, 0.2, 0.3}, Index: 0}},
			Model: "test-model",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key", "test-model", 3, 0)
	result, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Errorf("unexpected embedding %v", result.Embedding)
	}
	if result.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", result.Model)
	}
}

func TestEmbed_EmptyReplyIsRejected(t *testing.T) {
	server := vectorServer(t, nil)
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected an error for a reply with no vectors")
	}
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	server := vectorServer(t, nil,
		embedItem{Embedding: []float32{0.4, 0.5, 0.6}, Index: 1},
		embedItem{Embedding: []float32{0.1, 0.2, 0.3}, Index: 0},
	)
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	results, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if results[0].Embedding[0] != 0.1 || results[1].Embedding[0] != 0.4 {
		t.Errorf("results not in input order: %v, %v", results[0].Embedding, results[1].Embedding)
	}
}

func TestEmbedBatch_EmptyInputSkipsTheCall(t *testing.T) {
	var calls atomic.Int32
	server := vectorServer(t, &calls)
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	results, err := c.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for empty input", len(results))
	}
	if calls.Load() != 0 {
		t.Errorf("endpoint was called %d times for empty input", calls.Load())
	}
}

func TestEmbedBatch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	fastRetry(c)
	if _, err := c.EmbedBatch(context.Background(), []string{"hello"}); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("endpoint called %d times, want 3", got)
	}
}

func TestEmbedBatch_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	if _, err := c.EmbedBatch(context.Background(), []string{"hello"}); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestEmbedBatch_WidthMismatchIsRejected(t *testing.T) {
	server := vectorServer(t, nil, embedItem{Embedding: []float32{0.1, 0.2}, Index: 0})
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	if _, err := c.EmbedBatch(context.Background(), []string{"hello"}); err == nil {
		t.Fatal("expected an error for a 2-wide vector against width 3")
	}
}

func TestEmbedBatch_WidthCheckDisabledAtZero(t *testing.T) {
	server := vectorServer(t, nil, embedItem{Embedding: []float32{0.1, 0.2, 0.3}, Index: 0})
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 0, 0)
	results, err := c.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if results[0].Dimensions != 3 {
		t.Errorf("Dimensions = %d, want 3", results[0].Dimensions)
	}
}

func TestEmbedBatch_ShortReplyIsRejected(t *testing.T) {
	server := vectorServer(t, nil, embedItem{Embedding: []float32{0.1, 0.2, 0.3}, Index: 0})
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	if _, err := c.EmbedBatch(context.Background(), []string{"first", "second"}); err == nil {
		t.Fatal("expected an error for one vector against two inputs")
	}
}

func TestEmbedBatch_DuplicateIndexIsRejected(t *testing.T) {
	server := vectorServer(t, nil,
		embedItem{Embedding: []float32{0.1, 0.2, 0.3}, Index: 0},
		embedItem{Embedding: []float32{0.4, 0.5, 0.6}, Index: 0},
	)
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	if _, err := c.EmbedBatch(context.Background(), []string{"first", "second"}); err == nil {
		t.Fatal("expected an error when an input is left without a vector")
	}
}

func TestEmbedBatch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	c.httpClient.Timeout = 50 * time.Millisecond
	fastRetry(c)

	if _, err := c.EmbedBatch(context.Background(), []string{"hello"}); err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestEmbedBatch_NoAPIKeyOmitsAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want empty", got)
		}
		json.NewEncoder(w).Encode(embedResponse{
			Data:  []embedItem{{Embedding: []float32{0.1, 0.2, 0.3}, Index: 0}},
			Model: "test-model",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	if _, err := c.EmbedBatch(context.Background(), []string{"hello"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
}

func TestEmbedBatch_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", "test-model", 3, 0)
	fastRetry(c)

	for i := 0; i < 5; i++ {
		c.EmbedBatch(context.Background(), []string{"hello"})
	}
	before := calls.Load()

	_, err := c.EmbedBatch(context.Background(), []string{"hello"})
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != before {
		t.Errorf("endpoint was called while the breaker was open")
	}
}
