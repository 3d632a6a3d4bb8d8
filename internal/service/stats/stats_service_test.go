package stats

import (
	"context"
	"errors"
	"testing"

	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/usage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	records []db.SessionRecord
	err     error
}

func (f *fakeSessions) ForEachSession(ctx context.Context, fn func(db.SessionRecord) error) error {
	if f.err != nil {
		return f.err
	}
	for _, r := range f.records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func record(id string, turns ...db.Turn) db.SessionRecord {
	return db.SessionRecord{Session: db.Session{ID: id}, Turns: turns}
}

func pair(in, out int, latency float64) []db.Turn {
	return []db.Turn{
		{Role: db.RoleUser, Content: "q", InputTokens: in},
		{Role: db.RoleModel, Content: "a", OutputTokens: out, Latency: latency},
	}
}

func TestComputeGlobalStats_NoSessions(t *testing.T) {
	a := NewAggregator(&fakeSessions{}, usage.DefaultPricing())

	stats, err := a.ComputeGlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalChats)
	assert.Equal(t, 0, stats.TotalMessages)
	assert.Equal(t, 0.0, stats.AverageLatencyPerMessage)
	assert.Equal(t, 0.0, stats.AverageMessagesPerChat)
	assert.True(t, stats.TotalCost.IsZero())
	assert.NotNil(t, stats.Summaries)
	assert.Empty(t, stats.Summaries)
}

func TestComputeGlobalStats_AverageLatency(t *testing.T) {
	// One session, one pair, 1.2s of generation.
	a := NewAggregator(&fakeSessions{records: []db.SessionRecord{
		record("s1", pair(2, 3, 1.2)...),
	}}, usage.DefaultPricing())

	stats, err := a.ComputeGlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalChats)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 5, stats.TotalTokens)
	assert.InDelta(t, 1.2, stats.TotalLatency, 1e-9)
	assert.InDelta(t, 1.2, stats.AverageLatencyPerMessage, 1e-9)
	assert.InDelta(t, 2.0, stats.AverageMessagesPerChat, 1e-9)
	assert.True(t, decimal.RequireFromString("0.000002").Equal(stats.TotalCost), "got %s", stats.TotalCost)
	assert.Equal(t, 0, stats.IncompleteSessions)
}

func TestComputeGlobalStats_MultipleSessions(t *testing.T) {
	turnsA := append(pair(10, 20, 1.0), pair(30, 40, 2.0)...)
	a := NewAggregator(&fakeSessions{records: []db.SessionRecord{
		record("a", turnsA...),
		record("b"),
		record("c", pair(1000, 2000, 3.0)...),
	}}, usage.DefaultPricing())

	stats, err := a.ComputeGlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChats)
	assert.Equal(t, 6, stats.TotalMessages)
	assert.Equal(t, 3100, stats.TotalTokens)
	assert.InDelta(t, 6.0, stats.TotalLatency, 1e-9)
	assert.InDelta(t, 2.0, stats.AverageLatencyPerMessage, 1e-9)
	assert.InDelta(t, 2.0, stats.AverageMessagesPerChat, 1e-9)

	require.Len(t, stats.Summaries, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{stats.Summaries[0].SessionID, stats.Summaries[1].SessionID, stats.Summaries[2].SessionID})
	assert.Equal(t, 4, stats.Summaries[0].MessageCount)
	assert.Equal(t, 100, stats.Summaries[0].TotalTokens)
	assert.Equal(t, 0, stats.Summaries[1].MessageCount)
	assert.True(t, decimal.RequireFromString("0.00125").Equal(stats.Summaries[2].TotalCost))

	sum := decimal.Zero
	for _, s := range stats.Summaries {
		sum = sum.Add(s.TotalCost)
	}
	assert.True(t, sum.Equal(stats.TotalCost))
}

func TestComputeGlobalStats_IncompleteSessions(t *testing.T) {
	a := NewAggregator(&fakeSessions{records: []db.SessionRecord{
		record("lone", db.Turn{Role: db.RoleUser, Content: "q", InputTokens: 1}),
		record("swapped", db.Turn{Role: db.RoleModel, Content: "a"}, db.Turn{Role: db.RoleUser, Content: "q"}),
		record("ok", pair(1, 1, 0.1)...),
	}}, usage.DefaultPricing())

	stats, err := a.ComputeGlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.IncompleteSessions)
	assert.True(t, stats.Summaries[0].Incomplete)
	assert.True(t, stats.Summaries[1].Incomplete)
	assert.False(t, stats.Summaries[2].Incomplete)
}

func TestComputeGlobalStats_StoreError(t *testing.T) {
	a := NewAggregator(&fakeSessions{err: errors.New("unreachable")}, usage.DefaultPricing())

	_, err := a.ComputeGlobalStats(context.Background())
	assert.Error(t, err)
}
