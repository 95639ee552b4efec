package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/circuitbreaker"
	"github.com/evermind-ai/evermind/internal/adapters/retry"
	"github.com/evermind-ai/evermind/internal/ports"
)

// DefaultTimeout bounds one embedding call, retries included.
const DefaultTimeout = 20 * time.Second

// Client talks to an OpenAI-compatible /v1/embeddings endpoint. The vector
// schema is typed to one dimension per deployment, so replies of any other
// width are rejected rather than written.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	dimensions  int
	timeout     time.Duration
	httpClient  *http.Client
	retryConfig retry.BackoffConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// NewClient creates an embedding client. A non-positive timeout falls back
// to DefaultTimeout; dimensions 0 disables the width check.
func NewClient(baseURL, apiKey, model string, dimensions int, timeout time.Duration) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		timeout:    timeout,
		httpClient: &http.Client{
			Timeout: 10 * time.Second, // per request; retries happen above this
		},
		retryConfig: retry.HTTPConfig(),
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedItem struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embedResponse struct {
	Data  []embedItem `json:"data"`
	Model string      `json:"model"`
}

// Embed generates the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	results, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	// EmbedBatch rejects incomplete replies, so one input means one result.
	return results[0], nil
}

// EmbedBatch generates vectors for several texts in one call. Results come
// back in input order regardless of the order the endpoint reports them.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	if len(texts) == 0 {
		return []*ports.EmbeddingResult{}, nil
	}

	var results []*ports.EmbeddingResult
	err := c.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.post(ctx, texts)
		if err != nil {
			log.Printf("warning: embed: %s texts=%d: %v", c.model, len(texts), err)
			return err
		}
		results, err = c.assemble(texts, resp)
		return err
	})
	return results, err
}

// GetDimensions reports the configured vector width.
func (c *Client) GetDimensions() int {
	return c.dimensions
}

// post performs the wire call with retry and decodes the reply.
func (c *Client) post(ctx context.Context, texts []string) (*embedResponse, error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var respBody []byte
	err = retry.Do(ctx, c.retryConfig, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			// A torn body read is a transport failure, not an HTTP outcome.
			return 0, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("embeddings endpoint returned %s: %s", resp.Status, string(respBody))
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &parsed, nil
}

// assemble orders the reply by index and enforces completeness and width.
// An endpoint that answers with the wrong count, an index out of range, or
// an off-width vector produced garbage; nothing from such a reply is usable.
func (c *Client) assemble(texts []string, resp *embedResponse) ([]*ports.EmbeddingResult, error) {
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings reply has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	results := make([]*ports.EmbeddingResult, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(results) {
			return nil, fmt.Errorf("embeddings reply index %d out of range", item.Index)
		}
		if c.dimensions > 0 && len(item.Embedding) != c.dimensions {
			return nil, fmt.Errorf("embeddings reply has %d dimensions, want %d", len(item.Embedding), c.dimensions)
		}
		results[item.Index] = &ports.EmbeddingResult{
			Embedding:  item.Embedding,
			Model:      resp.Model,
			Dimensions: len(item.Embedding),
		}
	}
	for i, r := range results {
		if r == nil {
			return nil, fmt.Errorf("embeddings reply missing a vector for input %d", i)
		}
	}
	return results, nil
}
