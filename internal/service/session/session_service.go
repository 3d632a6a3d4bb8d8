package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"llm-gateway/internal/logger"

	"github.com/google/uuid"
)

// Store is the part of the conversation store the lifecycle drives
type Store interface {
	Create(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}

// Invalidator drops whatever per-session state a component keeps
type Invalidator interface {
	Invalidate(ctx context.Context, sessionID string) error
}

// InvalidatorFunc adapts a function to Invalidator
type InvalidatorFunc func(ctx context.Context, sessionID string) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, sessionID string) error {
	return f(ctx, sessionID)
}

// Lifecycle resolves, creates and deletes session ids
type Lifecycle struct {
	store        Store
	invalidators []Invalidator
	newID        func() string
}

// NewLifecycle creates a Lifecycle; invalidators run on every Delete after the store.
// Invalidators are for per-session state kept outside the store. The history
// cache needs none because the conversation store evicts it inside Delete.
func NewLifecycle(store Store, invalidators ...Invalidator) *Lifecycle {
	return &Lifecycle{
		store:        store,
		invalidators: invalidators,
		newID:        func() string { return uuid.New().String() },
	}
}

// IsAbsent reports whether a client supplied id means "no session". Browsers
// serialise a missing id as the literal "null".
func IsAbsent(sessionID string) bool {
	id := strings.TrimSpace(sessionID)
	return id == "" || id == "null"
}

// ResolveOrCreate returns sessionID unchanged when present, otherwise creates a
// fresh session and returns its id with created set.
func (l *Lifecycle) ResolveOrCreate(ctx context.Context, sessionID string) (string, bool, error) {
	if !IsAbsent(sessionID) {
		return sessionID, false, nil
	}

	id := l.newID()
	if err := l.store.Create(ctx, id); err != nil {
		return "", false, fmt.Errorf("failed to create session: %w", err)
	}

	logger.ForSession(id).Info("Started new session")
	return id, true, nil
}

// Delete removes the session from the store and from every registered cache.
// Deleting an unknown session succeeds.
func (l *Lifecycle) Delete(ctx context.Context, sessionID string) error {
	if err := l.store.Delete(ctx, sessionID); err != nil {
		return err
	}

	var errs []error
	for _, inv := range l.invalidators {
		if err := inv.Invalidate(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to invalidate session caches: %w", err)
	}

	logger.ForSession(sessionID).Info("Session deleted")
	return nil
}
