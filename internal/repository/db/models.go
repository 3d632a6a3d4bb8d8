package db

import (
	"context"
	"errors"
	"time"
)

// Role of a turn within a session.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

var (
	// ErrSessionExists is returned when creating a session id that is already stored.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned when appending to a session that is not stored.
	ErrSessionNotFound = errors.New("session not found")
)

// Session represents a chat session row
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one message of a session. User turns carry InputTokens,
// model turns carry OutputTokens and Latency (seconds).
type Turn struct {
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	Latency      float64   `json:"latency,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SessionRecord is a session together with its ordered turns.
type SessionRecord struct {
	Session
	Turns []Turn
}

// Database defines the persistence operations the gateway needs.
// Implementations must make AppendTurns atomic: either every turn is stored or none is.
type Database interface {
	CreateSession(ctx context.Context, sessionID string) (*Session, error)
	// GetSession returns (nil, nil) when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	AppendTurns(ctx context.Context, sessionID string, turns []Turn) error
	// DeleteSession removes the session and its turns; deleting an absent session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
	// IterateSessions calls fn for each stored session in store order and stops at the first error.
	IterateSessions(ctx context.Context, fn func(SessionRecord) error) error
	Close() error
}
