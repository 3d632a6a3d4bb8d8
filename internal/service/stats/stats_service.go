package stats

import (
	"context"
	"fmt"

	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/usage"

	"github.com/shopspring/decimal"
)

// SessionIterator walks every stored session
type SessionIterator interface {
	ForEachSession(ctx context.Context, fn func(db.SessionRecord) error) error
}

// SessionSummary is the usage of one session
type SessionSummary struct {
	SessionID    string
	MessageCount int
	TotalTokens  int
	// TotalLatency is the sum of model turn latencies in seconds
	TotalLatency float64
	TotalCost    decimal.Decimal
	Incomplete   bool
}

// GlobalStats aggregates every session
type GlobalStats struct {
	TotalChats               int
	TotalMessages            int
	TotalTokens              int
	TotalLatency             float64
	TotalCost                decimal.Decimal
	AverageLatencyPerMessage float64
	AverageMessagesPerChat   float64
	IncompleteSessions       int
	Summaries                []SessionSummary
}

// Aggregator computes usage statistics from the conversation store
type Aggregator struct {
	sessions SessionIterator
	pricing  usage.Pricing
}

func NewAggregator(sessions SessionIterator, pricing usage.Pricing) *Aggregator {
	return &Aggregator{sessions: sessions, pricing: pricing}
}

// Summarize folds the turns of one session
func Summarize(record db.SessionRecord, pricing usage.Pricing) SessionSummary {
	s := SessionSummary{
		SessionID:    record.ID,
		MessageCount: len(record.Turns),
		TotalCost:    decimal.Zero,
	}
	for i, turn := range record.Turns {
		s.TotalTokens += turn.InputTokens + turn.OutputTokens
		if turn.Role == db.RoleModel {
			s.TotalLatency += turn.Latency
		}
		s.TotalCost = s.TotalCost.Add(pricing.Cost(turn.InputTokens, turn.OutputTokens))

		// Pairs are user at even index, model at odd index.
		want := db.RoleUser
		if i%2 == 1 {
			want = db.RoleModel
		}
		if turn.Role != want {
			s.Incomplete = true
		}
	}
	if len(record.Turns)%2 != 0 {
		s.Incomplete = true
	}
	return s
}

// ComputeGlobalStats reads every session once and aggregates the totals
func (a *Aggregator) ComputeGlobalStats(ctx context.Context) (*GlobalStats, error) {
	stats := &GlobalStats{
		TotalCost: decimal.Zero,
		Summaries: []SessionSummary{},
	}

	err := a.sessions.ForEachSession(ctx, func(record db.SessionRecord) error {
		s := Summarize(record, a.pricing)
		stats.Summaries = append(stats.Summaries, s)

		stats.TotalChats++
		stats.TotalMessages += s.MessageCount
		stats.TotalTokens += s.TotalTokens
		stats.TotalLatency += s.TotalLatency
		stats.TotalCost = stats.TotalCost.Add(s.TotalCost)
		if s.Incomplete {
			stats.IncompleteSessions++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	if stats.TotalMessages > 0 {
		stats.AverageLatencyPerMessage = stats.TotalLatency / (float64(stats.TotalMessages) / 2)
	}
	if stats.TotalChats > 0 {
		stats.AverageMessagesPerChat = float64(stats.TotalMessages) / float64(stats.TotalChats)
	}

	return stats, nil
}
