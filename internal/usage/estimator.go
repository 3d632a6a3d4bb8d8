package usage

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Default per-token rates in USD.
const (
	DefaultInputRate  = "0.00000025"
	DefaultOutputRate = "0.00000050"
)

// charsPerToken is the coarse heuristic used when a provider count is unavailable.
const charsPerToken = 4

// Message is anything that carries one or more content fields.
type Message interface {
	Parts() []string
}

// Source records where a token count came from.
type Source string

const (
	SourceProvider Source = "provider"
	SourceReported Source = "stream_usage"
	SourceEstimate Source = "estimate"
)

// EstimateTokens approximates the token count of text: max(1, len/4) for non-empty text, 0 otherwise.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/charsPerToken)
}

// EstimateTokensForMessages sums EstimateTokens over every content field of every message.
func EstimateTokensForMessages[M Message](messages []M) int {
	count := 0
	for _, msg := range messages {
		for _, part := range msg.Parts() {
			count += EstimateTokens(part)
		}
	}
	return count
}

// Resolve returns the authoritative count when it is usable (no error, non-zero),
// otherwise the result of fallback.
func Resolve(authoritative int, err error, fallback func() int) (int, Source) {
	if err == nil && authoritative > 0 {
		return authoritative, SourceProvider
	}
	return fallback(), SourceEstimate
}

// Pricing holds fixed per-token rates.
type Pricing struct {
	InputRate  decimal.Decimal
	OutputRate decimal.Decimal
}

// DefaultPricing returns the built-in rates.
func DefaultPricing() Pricing {
	return Pricing{
		InputRate:  decimal.RequireFromString(DefaultInputRate),
		OutputRate: decimal.RequireFromString(DefaultOutputRate),
	}
}

// NewPricing parses decimal rate strings. Negative rates are rejected.
func NewPricing(inputRate, outputRate string) (Pricing, error) {
	in, err := decimal.NewFromString(inputRate)
	if err != nil {
		return Pricing{}, fmt.Errorf("invalid input rate %q: %w", inputRate, err)
	}
	out, err := decimal.NewFromString(outputRate)
	if err != nil {
		return Pricing{}, fmt.Errorf("invalid output rate %q: %w", outputRate, err)
	}
	if in.IsNegative() || out.IsNegative() {
		return Pricing{}, fmt.Errorf("rates must be non-negative (input=%s, output=%s)", in, out)
	}
	return Pricing{InputRate: in, OutputRate: out}, nil
}

// Cost computes inputTokens*InputRate + outputTokens*OutputRate without rounding.
func (p Pricing) Cost(inputTokens, outputTokens int) decimal.Decimal {
	in := decimal.NewFromInt(int64(inputTokens)).Mul(p.InputRate)
	out := decimal.NewFromInt(int64(outputTokens)).Mul(p.OutputRate)
	return in.Add(out)
}
