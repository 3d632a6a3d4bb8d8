package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"llm-gateway/internal/cache"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"

	"github.com/sirupsen/logrus"
)

// Turn is one message of a session
type Turn = db.Turn

var (
	// ErrAlreadyExists is returned by Create for an id that is already stored
	ErrAlreadyExists = db.ErrSessionExists
	// ErrInvalidPair is returned when a pair is not a user turn followed by a model turn
	ErrInvalidPair = errors.New("turn pair must be a user turn followed by a model turn")
)

// ConversationStore maps session ids to their ordered turns. The database is the
// source of truth; the history cache only ever holds a complete copy of it.
type ConversationStore struct {
	db    db.Database
	cache cache.HistoryCache

	// per-session locks order cache fills against appends and deletes
	locks sync.Map
}

// NewConversationStore creates a new ConversationStore
func NewConversationStore(database db.Database, historyCache cache.HistoryCache) *ConversationStore {
	if historyCache == nil {
		historyCache = cache.NewMemoryCache()
	}
	return &ConversationStore{
		db:    database,
		cache: historyCache,
	}
}

func (s *ConversationStore) lock(sessionID string) func() {
	v, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create registers a session with an empty history
func (s *ConversationStore) Create(ctx context.Context, sessionID string) error {
	unlock := s.lock(sessionID)
	defer unlock()

	if _, err := s.db.CreateSession(ctx, sessionID); err != nil {
		if errors.Is(err, db.ErrSessionExists) {
			return err
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.cache.Set(ctx, sessionID, nil); err != nil {
		logger.ForSession(sessionID).WithError(err).Warn("Failed to warm history cache")
	}
	return nil
}

// AppendTurnPair durably stores a user/model pair, then extends the cached history
func (s *ConversationStore) AppendTurnPair(ctx context.Context, sessionID string, user, model Turn) error {
	if user.Role != db.RoleUser || model.Role != db.RoleModel {
		return ErrInvalidPair
	}
	if user.InputTokens < 0 || model.OutputTokens < 0 || model.Latency < 0 {
		return fmt.Errorf("%w: negative usage figures", ErrInvalidPair)
	}

	unlock := s.lock(sessionID)
	defer unlock()

	pair := []Turn{user, model}
	if err := s.db.AppendTurns(ctx, sessionID, pair); err != nil {
		return fmt.Errorf("failed to append turns: %w", err)
	}

	if err := s.cache.Append(ctx, sessionID, pair...); err != nil {
		// A cache that missed the pair would serve a short history; drop it instead.
		logger.ForSession(sessionID).WithError(err).Warn("Failed to extend history cache, evicting")
		_ = s.cache.Delete(ctx, sessionID)
	}

	logger.ForSession(sessionID).WithFields(logrus.Fields{
		"input_tokens":  user.InputTokens,
		"output_tokens": model.OutputTokens,
		"latency":       model.Latency,
	}).Debug("Appended turn pair")
	return nil
}

// GetHistory returns the ordered turns of a session, empty for an unknown id
func (s *ConversationStore) GetHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	turns, ok, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		logger.ForSession(sessionID).WithError(err).Warn("History cache read failed, using database")
	} else if ok {
		return turns, nil
	}

	unlock := s.lock(sessionID)
	defer unlock()

	record, err := s.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if record == nil {
		return []Turn{}, nil
	}

	if err := s.cache.Set(ctx, sessionID, record.Turns); err != nil {
		logger.ForSession(sessionID).WithError(err).Warn("Failed to warm history cache")
	}

	history := make([]Turn, len(record.Turns))
	copy(history, record.Turns)
	return history, nil
}

// Delete removes the persisted session and then its cached history. Deleting an
// unknown session succeeds.
func (s *ConversationStore) Delete(ctx context.Context, sessionID string) error {
	// The mutex stays registered: a waiter still queued on it must exclude any
	// caller that arrives after the delete.
	unlock := s.lock(sessionID)
	defer unlock()

	if err := s.db.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to evict cached history: %w", err)
	}
	return nil
}

// ForEachSession calls fn for every stored session and stops at the first error fn returns
func (s *ConversationStore) ForEachSession(ctx context.Context, fn func(db.SessionRecord) error) error {
	return s.db.IterateSessions(ctx, fn)
}
