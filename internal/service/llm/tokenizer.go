package llm

import (
	"context"
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenizerCounter counts tokens locally with a BPE encoding
type TokenizerCounter struct {
	encoding string
	codec    tokenizer.Codec
}

// NewTokenizerCounter loads the named encoding, cl100k_base when empty
func NewTokenizerCounter(encoding string) (*TokenizerCounter, error) {
	if encoding == "" {
		encoding = string(tokenizer.Cl100kBase)
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, fmt.Errorf("error loading tokenizer %q: %w", encoding, err)
	}
	return &TokenizerCounter{encoding: encoding, codec: codec}, nil
}

// CountTokens sums the encoded length of every message content
func (t *TokenizerCounter) CountTokens(ctx context.Context, messages []Message) (int, error) {
	total := 0
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		ids, _, err := t.codec.Encode(msg.Content)
		if err != nil {
			return 0, fmt.Errorf("error encoding message: %w", err)
		}
		total += len(ids)
	}
	return total, nil
}

func (t *TokenizerCounter) Encoding() string {
	return t.encoding
}
