package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/service/conversation"
	"llm-gateway/internal/service/llm"
	"llm-gateway/internal/service/stats"
	"llm-gateway/internal/tracing"
	"llm-gateway/internal/usage"

	"github.com/sirupsen/logrus"
)

// ErrEmptyPrompt is returned by StartTurn for a blank prompt
var ErrEmptyPrompt = errors.New("prompt must not be empty")

// diagnosticPrefix starts the single error increment of a failed turn
const diagnosticPrefix = "Error with LLM provider: "

// Increment is one item delivered to the caller of StartTurn. Exactly one
// increment with Done set ends every stream that still has a reader.
type Increment struct {
	Content string
	Err     bool
	Done    bool
}

// HistoryStore is the part of the conversation store a turn reads and writes
type HistoryStore interface {
	GetHistory(ctx context.Context, sessionID string) ([]conversation.Turn, error)
	AppendTurnPair(ctx context.Context, sessionID string, user, model conversation.Turn) error
}

// SessionResolver resolves and deletes session ids
type SessionResolver interface {
	ResolveOrCreate(ctx context.Context, sessionID string) (string, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// StatsComputer produces the global usage report
type StatsComputer interface {
	ComputeGlobalStats(ctx context.Context) (*stats.GlobalStats, error)
}

// Gateway is what the transport layer needs from the chat core
type Gateway interface {
	StartTurn(ctx context.Context, sessionID, prompt string) (string, <-chan Increment, error)
	GetHistory(ctx context.Context, sessionID string) ([]conversation.Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
	GetGlobalStats(ctx context.Context) (*stats.GlobalStats, error)
	MetricsSnapshot() MetricsSnapshot
}

// Options tunes how turns are built and streamed
type Options struct {
	// SystemPrompt and PreambleAck form the persona pair sent before the history
	SystemPrompt string
	PreambleAck  string
	// Yield lets other goroutines run between forwarded increments
	Yield bool
}

// Dependencies groups the collaborators of ChatService
type Dependencies struct {
	Store    HistoryStore
	Sessions SessionResolver
	Provider llm.LLMProvider
	Stats    StatsComputer
	Tracer   tracing.Tracer
}

// ChatService runs chat turns end to end: it streams the provider's answer to
// the caller while metering and persisting the finished turn pair.
type ChatService struct {
	store    HistoryStore
	sessions SessionResolver
	provider llm.LLMProvider
	stats    StatsComputer
	tracer   tracing.Tracer
	opts     Options
	metrics  *Metrics
	clock    func() time.Time
}

var _ Gateway = (*ChatService)(nil)

// NewChatService creates a new ChatService
func NewChatService(deps Dependencies, opts Options) *ChatService {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracing.NoopTracer{}
	}
	return &ChatService{
		store:    deps.Store,
		sessions: deps.Sessions,
		provider: deps.Provider,
		stats:    deps.Stats,
		tracer:   tracer,
		opts:     opts,
		metrics:  &Metrics{},
		clock:    time.Now,
	}
}

// BuildConversation assembles the persona preamble, the stored history and the new prompt
func BuildConversation(systemPrompt, ack string, history []conversation.Turn, prompt string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages,
		llm.Message{Role: llm.RoleUser, Content: systemPrompt},
		llm.Message{Role: llm.RoleModel, Content: ack},
	)
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Role == db.RoleModel {
			role = llm.RoleModel
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
}

// StartTurn resolves the session, loads its history and starts streaming the
// answer to prompt. The returned channel is closed after the terminal increment,
// or as soon as ctx is done.
func (s *ChatService) StartTurn(ctx context.Context, sessionID, prompt string) (string, <-chan Increment, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", nil, ErrEmptyPrompt
	}

	resolvedID, created, err := s.sessions.ResolveOrCreate(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}

	var history []conversation.Turn
	if !created {
		history, err = s.store.GetHistory(ctx, resolvedID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to retrieve conversation history: %w", err)
		}
	}

	messages := BuildConversation(s.opts.SystemPrompt, s.opts.PreambleAck, history, prompt)

	logger.ForSession(resolvedID).WithFields(logrus.Fields{
		"history_turns": len(history),
		"model":         s.provider.GetDefaultModel(),
	}).Debug("Starting streaming LLM call")

	out := make(chan Increment)
	s.metrics.turnsStarted.Add(1)
	go s.runTurn(ctx, resolvedID, prompt, messages, out)

	return resolvedID, out, nil
}

func (s *ChatService) runTurn(ctx context.Context, sessionID, prompt string, messages []llm.Message, out chan<- Increment) {
	defer close(out)
	log := logger.ForSession(sessionID)

	runID := s.tracer.StartRun(ctx, "chat", map[string]any{"user_message": prompt})

	count, countErr := s.provider.CountTokens(ctx, messages)
	inputTokens, inputSource := usage.Resolve(count, countErr, func() int {
		return usage.EstimateTokensForMessages(messages)
	})
	if countErr != nil {
		log.WithError(countErr).Debug("Token count unavailable, using estimate")
	}

	start := s.clock()
	chunks, err := s.provider.ChatStream(ctx, messages)
	if err != nil {
		s.fail(ctx, log, runID, err, out)
		return
	}

	var response strings.Builder
	var reported *llm.ResponseUsage
	for chunk := range chunks {
		if chunk.Err != nil {
			s.fail(ctx, log, runID, chunk.Err, out)
			return
		}
		if chunk.Usage != nil {
			reported = chunk.Usage
		}
		if chunk.Content == "" {
			continue
		}
		response.WriteString(chunk.Content)
		if !emit(ctx, out, Increment{Content: chunk.Content}) {
			s.fail(ctx, log, runID, ctx.Err(), out)
			return
		}
		if s.opts.Yield {
			runtime.Gosched()
		}
	}
	// Providers close their stream early when ctx ends.
	if err := ctx.Err(); err != nil {
		s.fail(ctx, log, runID, err, out)
		return
	}

	latency := s.clock().Sub(start).Seconds()
	text := response.String()
	outputTokens, outputSource := s.outputTokens(ctx, text, reported)

	now := s.clock().UTC()
	userTurn := conversation.Turn{Role: db.RoleUser, Content: prompt, InputTokens: inputTokens, Timestamp: now}
	modelTurn := conversation.Turn{Role: db.RoleModel, Content: text, OutputTokens: outputTokens, Latency: latency, Timestamp: now}

	// The answer was fully delivered; record it even if the client leaves now.
	if err := s.store.AppendTurnPair(context.WithoutCancel(ctx), sessionID, userTurn, modelTurn); err != nil {
		s.metrics.swallowedPersistenceErrors.Add(1)
		log.WithError(err).Error("Error saving turn pair")
	}

	s.tracer.EndRun(ctx, runID, map[string]any{
		"bot_message": text,
		"latency_ms":  math.Round(latency*1000*100) / 100,
	}, nil)

	s.metrics.turnsCompleted.Add(1)
	log.WithFields(logrus.Fields{
		"input_tokens":  inputTokens,
		"input_source":  inputSource,
		"output_tokens": outputTokens,
		"output_source": outputSource,
		"latency":       latency,
		"chars":         len(text),
	}).Info("Completed streaming response")

	emit(ctx, out, Increment{Done: true})
}

// outputTokens prefers the provider count, then the stream's usage report, then the estimate
func (s *ChatService) outputTokens(ctx context.Context, text string, reported *llm.ResponseUsage) (int, usage.Source) {
	count, err := s.provider.CountTokens(ctx, []llm.Message{{Role: llm.RoleModel, Content: text}})
	if err == nil && count > 0 {
		return count, usage.SourceProvider
	}
	if reported != nil && reported.CompletionTokens > 0 {
		return reported.CompletionTokens, usage.SourceReported
	}
	return usage.EstimateTokens(text), usage.SourceEstimate
}

func (s *ChatService) fail(ctx context.Context, log *logrus.Entry, runID string, cause error, out chan<- Increment) {
	if cause == nil {
		cause = errors.New("stream aborted")
	}
	s.metrics.turnsFailed.Add(1)
	s.tracer.EndRun(context.WithoutCancel(ctx), runID, nil, cause)

	if ctx.Err() != nil {
		log.WithError(cause).Info("Client went away, turn abandoned")
		return
	}

	log.WithError(cause).Error("LLM stream failed")
	if emit(ctx, out, Increment{Content: diagnosticPrefix + cause.Error(), Err: true}) {
		emit(ctx, out, Increment{Done: true})
	}
}

func emit(ctx context.Context, out chan<- Increment, inc Increment) bool {
	select {
	case out <- inc:
		return true
	case <-ctx.Done():
		return false
	}
}

// GetHistory returns the ordered turns of a session, empty for an unknown id
func (s *ChatService) GetHistory(ctx context.Context, sessionID string) ([]conversation.Turn, error) {
	return s.store.GetHistory(ctx, sessionID)
}

// DeleteSession removes a session and every cached view of it
func (s *ChatService) DeleteSession(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// GetGlobalStats computes usage across all sessions
func (s *ChatService) GetGlobalStats(ctx context.Context) (*stats.GlobalStats, error) {
	return s.stats.ComputeGlobalStats(ctx)
}

// MetricsSnapshot returns the current turn counters
func (s *ChatService) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}
