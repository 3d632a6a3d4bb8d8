package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider implements LLMProvider using the OpenAI-compatible OpenRouter API
type OpenRouterProvider struct {
	config  *config.LLMConfig
	client  *http.Client
	counter TokenCounter
}

// NewOpenRouterProvider creates a new OpenRouter provider with config
func NewOpenRouterProvider(llmConfig *config.LLMConfig, counter TokenCounter) *OpenRouterProvider {
	return &OpenRouterProvider{
		config:  llmConfig,
		client:  &http.Client{Timeout: llmConfig.Timeout},
		counter: counter,
	}
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type chatStreamResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta        Message `json:"delta"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *ResponseUsage `json:"usage,omitempty"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenRouterProvider) endpoint() string {
	base := strings.TrimRight(p.config.OpenRouterBaseURL, "/")
	if base == "" {
		base = defaultOpenRouterBaseURL
	}
	return base + "/chat/completions"
}

// toWire maps gateway roles onto the OpenAI chat roles
func toWire(messages []Message) []Message {
	wire := make([]Message, len(messages))
	for i, msg := range messages {
		wire[i] = msg
		if msg.Role == RoleModel {
			wire[i].Role = "assistant"
		}
	}
	return wire
}

// CountTokens counts the conversation locally; OpenRouter has no counting endpoint
func (p *OpenRouterProvider) CountTokens(ctx context.Context, messages []Message) (int, error) {
	if p.counter == nil {
		return 0, errors.New("no token counter configured")
	}
	return p.counter.CountTokens(ctx, messages)
}

// ChatStream sends the conversation and streams the response deltas
func (p *OpenRouterProvider) ChatStream(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	apiKey := p.config.OpenRouterAPIKey
	if apiKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY not configured")
	}

	model := p.GetDefaultModel()
	logger.Log.WithFields(logrus.Fields{
		"model":         model,
		"message_count": len(messages),
	}).Info("Calling OpenRouter API (streaming)")

	reqBody := chatRequest{
		Model:         model,
		Messages:      toWire(messages),
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("X-Title", "LLM Gateway")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer resp.Body.Close()
		defer close(chunks)

		var usage *ResponseUsage
		done := false

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()

			// SSE comments (": OPENROUTER PROCESSING") and blank separators carry nothing
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				done = true
				break
			}

			var streamResp chatStreamResponse
			if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
				logger.Log.WithError(err).Warn("Error parsing stream chunk")
				continue
			}

			if streamResp.Error != nil {
				send(ctx, chunks, StreamChunk{Err: fmt.Errorf("provider error: %s", streamResp.Error.Message)})
				return
			}

			// Usage arrives on the last chunk, usually with empty choices
			if streamResp.Usage != nil {
				usage = streamResp.Usage
				logger.Log.WithFields(logrus.Fields{
					"prompt_tokens":     usage.PromptTokens,
					"completion_tokens": usage.CompletionTokens,
					"total_tokens":      usage.TotalTokens,
				}).Debug("Captured usage data")
			}

			if len(streamResp.Choices) > 0 && streamResp.Choices[0].Delta.Content != "" {
				if !send(ctx, chunks, StreamChunk{Content: streamResp.Choices[0].Delta.Content}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			logger.Log.WithError(err).Error("Scanner error during streaming")
			send(ctx, chunks, StreamChunk{Err: fmt.Errorf("error reading stream: %w", err)})
			return
		}
		if err := ctx.Err(); err != nil {
			send(ctx, chunks, StreamChunk{Err: err})
			return
		}
		// A connection closed before the terminator leaves a truncated answer.
		if !done {
			send(ctx, chunks, StreamChunk{Err: errors.New("stream ended before [DONE]")})
			return
		}

		if usage != nil {
			send(ctx, chunks, StreamChunk{Usage: usage})
		}
	}()

	return chunks, nil
}

// GetDefaultModel returns the configured model
func (p *OpenRouterProvider) GetDefaultModel() string {
	return p.config.Model
}
