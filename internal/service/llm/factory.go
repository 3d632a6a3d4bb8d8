package llm

import (
	"context"
	"fmt"
	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"

	"github.com/sirupsen/logrus"
)

// NewLLMProvider creates the provider selected by LLM_PROVIDER
func NewLLMProvider(ctx context.Context, llmConfig *config.LLMConfig) (LLMProvider, error) {
	counter, err := NewTokenizerCounter(llmConfig.TokenizerEncoding)
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"provider":  llmConfig.Provider,
		"tokenizer": counter.Encoding(),
	}).Info("Initializing LLM provider")

	switch llmConfig.Provider {
	case "", "openrouter":
		return NewOpenRouterProvider(llmConfig, counter), nil
	case "ark":
		p, err := NewArkProvider(ctx, llmConfig.Ark, counter)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", llmConfig.Provider)
	}
}
