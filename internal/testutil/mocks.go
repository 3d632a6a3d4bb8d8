package testutil

import (
	"context"
	"errors"
	"sync"

	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/service/llm"
)

// MockDatabase is a mock implementation of db.Database for testing
type MockDatabase struct {
	CreateSessionFunc   func(ctx context.Context, sessionID string) (*db.Session, error)
	GetSessionFunc      func(ctx context.Context, sessionID string) (*db.SessionRecord, error)
	AppendTurnsFunc     func(ctx context.Context, sessionID string, turns []db.Turn) error
	DeleteSessionFunc   func(ctx context.Context, sessionID string) error
	IterateSessionsFunc func(ctx context.Context, fn func(db.SessionRecord) error) error
}

func (m *MockDatabase) CreateSession(ctx context.Context, sessionID string) (*db.Session, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, sessionID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetSession(ctx context.Context, sessionID string) (*db.SessionRecord, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, sessionID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) AppendTurns(ctx context.Context, sessionID string, turns []db.Turn) error {
	if m.AppendTurnsFunc != nil {
		return m.AppendTurnsFunc(ctx, sessionID, turns)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) DeleteSession(ctx context.Context, sessionID string) error {
	if m.DeleteSessionFunc != nil {
		return m.DeleteSessionFunc(ctx, sessionID)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) IterateSessions(ctx context.Context, fn func(db.SessionRecord) error) error {
	if m.IterateSessionsFunc != nil {
		return m.IterateSessionsFunc(ctx, fn)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) Close() error {
	return nil
}

// MockLLMProvider is a mock implementation of llm.LLMProvider for testing
type MockLLMProvider struct {
	CountTokensFunc     func(ctx context.Context, messages []llm.Message) (int, error)
	ChatStreamFunc      func(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error)
	GetDefaultModelFunc func() string

	mu    sync.Mutex
	calls [][]llm.Message
}

func (m *MockLLMProvider) CountTokens(ctx context.Context, messages []llm.Message) (int, error) {
	if m.CountTokensFunc != nil {
		return m.CountTokensFunc(ctx, messages)
	}
	return 0, errors.New("not implemented")
}

func (m *MockLLMProvider) ChatStream(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]llm.Message{}, messages...))
	m.mu.Unlock()

	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, messages)
	}
	return nil, errors.New("not implemented")
}

func (m *MockLLMProvider) GetDefaultModel() string {
	if m.GetDefaultModelFunc != nil {
		return m.GetDefaultModelFunc()
	}
	return "default-model"
}

// StreamCalls returns the conversations passed to ChatStream so far
func (m *MockLLMProvider) StreamCalls() [][]llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llm.Message{}, m.calls...)
}

// StreamOf returns a ChatStreamFunc that emits chunks in order, honouring ctx
func StreamOf(chunks ...llm.StreamChunk) func(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	return func(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(ch)
			for _, chunk := range chunks {
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
}

// MockTracer records tracing calls
type MockTracer struct {
	mu      sync.Mutex
	Started []string
	Ended   []string
	Outputs []map[string]any
	Errors  []error
}

func (m *MockTracer) StartRun(ctx context.Context, name string, inputs map[string]any) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = append(m.Started, name)
	return name + "-run"
}

func (m *MockTracer) EndRun(ctx context.Context, runID string, outputs map[string]any, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ended = append(m.Ended, runID)
	m.Outputs = append(m.Outputs, outputs)
	m.Errors = append(m.Errors, runErr)
}

// EndedRuns returns how many runs have been closed
func (m *MockTracer) EndedRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Ended)
}
