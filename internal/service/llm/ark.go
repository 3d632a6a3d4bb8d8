package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
)

// ArkProvider implements LLMProvider on top of an eino chat model (Volcengine Ark)
type ArkProvider struct {
	chatModel model.BaseChatModel
	modelName string
	counter   TokenCounter
}

// NewArkProvider builds the Ark chat model from config
func NewArkProvider(ctx context.Context, arkConfig config.ArkConfig, counter TokenCounter) (*ArkProvider, error) {
	if arkConfig.Model == "" || arkConfig.APIKey == "" {
		return nil, errors.New("ARK_API_KEY and ARK_MODEL must be configured")
	}

	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: arkConfig.BaseURL,
		Region:  arkConfig.Region,
		APIKey:  arkConfig.APIKey,
		Model:   arkConfig.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating ark chat model: %w", err)
	}

	return NewArkProviderWithModel(cm, arkConfig.Model, counter), nil
}

// NewArkProviderWithModel wraps an already built eino chat model
func NewArkProviderWithModel(cm model.BaseChatModel, modelName string, counter TokenCounter) *ArkProvider {
	return &ArkProvider{chatModel: cm, modelName: modelName, counter: counter}
}

func toSchema(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleModel:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		case RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}

func (p *ArkProvider) CountTokens(ctx context.Context, messages []Message) (int, error) {
	if p.counter == nil {
		return 0, errors.New("no token counter configured")
	}
	return p.counter.CountTokens(ctx, messages)
}

func (p *ArkProvider) ChatStream(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	logger.Log.WithFields(logrus.Fields{
		"model":         p.modelName,
		"message_count": len(messages),
	}).Info("Calling Ark API (streaming)")

	stream, err := p.chatModel.Stream(ctx, toSchema(messages))
	if err != nil {
		return nil, fmt.Errorf("error starting ark stream: %w", err)
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer stream.Close()
		defer close(chunks)

		var usage *ResponseUsage
		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				send(ctx, chunks, StreamChunk{Err: fmt.Errorf("error receiving ark stream: %w", recvErr)})
				return
			}
			if chunk == nil {
				continue
			}

			if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
				u := chunk.ResponseMeta.Usage
				usage = &ResponseUsage{
					PromptTokens:     u.PromptTokens,
					CompletionTokens: u.CompletionTokens,
					TotalTokens:      u.TotalTokens,
				}
			}

			if chunk.Content != "" {
				if !send(ctx, chunks, StreamChunk{Content: chunk.Content}) {
					return
				}
			}
		}

		if usage != nil {
			send(ctx, chunks, StreamChunk{Usage: usage})
		}
	}()

	return chunks, nil
}

func (p *ArkProvider) GetDefaultModel() string {
	return p.modelName
}
