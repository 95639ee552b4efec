package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/circuitbreaker"
	"github.com/evermind-ai/evermind/internal/ports"
)

const (
	// DefaultTimeout is the maximum time to wait for a generation
	DefaultTimeout = 30 * time.Second
)

// Service implements ports.LLMService using the OpenAI-compatible client
type Service struct {
	client  *Client
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
}

// NewService creates a new LLM service. A non-positive timeout falls back
// to DefaultTimeout.
func NewService(client *Client, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		client:  client,
		breaker: circuitbreaker.New(5, 30*time.Second), // 5 failures, 30s timeout
		timeout: timeout,
	}
}

// Generate sends a non-streaming generation request
func (s *Service) Generate(ctx context.Context, messages []ports.LLMMessage, opts *ports.GenerateOptions) (*ports.LLMResponse, error) {
	var result *ports.LLMResponse
	err := s.breaker.Execute(func() error {
		var err error
		result, err = s.doGenerate(ctx, messages, opts)
		return err
	})
	return result, err
}

func (s *Service) doGenerate(ctx context.Context, messages []ports.LLMMessage, opts *ports.GenerateOptions) (*ports.LLMResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.client.Chat(ctx, convertMessages(messages), convertOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &ports.LLMResponse{
		Content: response.Choices[0].Message.Content,
	}, nil
}

// GenerateStream sends a streaming generation request. The returned channel
// is closed after the final chunk; cancel the context to stop early.
func (s *Service) GenerateStream(parentCtx context.Context, messages []ports.LLMMessage, opts *ports.GenerateOptions) (<-chan ports.LLMStreamChunk, error) {
	ctx, cancel := context.WithTimeout(parentCtx, s.timeout)

	clientChan, err := s.client.ChatStream(ctx, convertMessages(messages), convertOptions(opts))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream request failed: %w", err)
	}

	outputChan := make(chan ports.LLMStreamChunk, 10)
	go func() {
		defer cancel()
		s.convertStreamChunks(ctx, clientChan, outputChan)
	}()

	return outputChan, nil
}

// convertMessages converts ports.LLMMessage to ChatMessage
func convertMessages(messages []ports.LLMMessage) []ChatMessage {
	chatMessages := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return chatMessages
}

// convertOptions maps ports options onto the wire options. Supplying options
// makes the temperature explicit, including zero.
func convertOptions(opts *ports.GenerateOptions) *RequestOptions {
	if opts == nil {
		return nil
	}
	return &RequestOptions{
		MaxTokens:      opts.MaxTokens,
		Temperature:    opts.Temperature,
		HasTemperature: true,
		Stop:           opts.Stop,
	}
}

// convertStreamChunks converts client stream chunks to ports stream chunks.
// Reasoning-only chunks never reach the caller.
func (s *Service) convertStreamChunks(ctx context.Context, clientChan <-chan StreamChunk, outputChan chan<- ports.LLMStreamChunk) {
	defer close(outputChan)

	for {
		select {
		case <-ctx.Done():
			outputChan <- ports.LLMStreamChunk{Error: ctx.Err()}
			return
		case chunk, ok := <-clientChan:
			if !ok {
				return
			}

			if chunk.Content == "" && !chunk.Done && chunk.Error == nil {
				continue
			}

			outputChan <- ports.LLMStreamChunk{
				Content: chunk.Content,
				Done:    chunk.Done,
				Error:   chunk.Error,
			}
		}
	}
}
