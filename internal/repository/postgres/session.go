package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"
	"time"

	"github.com/sirupsen/logrus"
)

// CreateSession registers an empty session; an existing id yields db.ErrSessionExists
func (p *PostgresDB) CreateSession(ctx context.Context, sessionID string) (*db.Session, error) {
	query := `
	INSERT INTO chat_sessions (id)
	VALUES ($1)
	ON CONFLICT (id) DO NOTHING
	RETURNING created_at
	`

	var createdAt time.Time
	err := p.conn.QueryRowContext(ctx, query, sessionID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrSessionExists
	}
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	logger.Log.WithField("session_id", sessionID).Info("Created new session")

	return &db.Session{ID: sessionID, CreatedAt: createdAt}, nil
}

// GetSession retrieves a session with its turns, or nil when it does not exist
func (p *PostgresDB) GetSession(ctx context.Context, sessionID string) (*db.SessionRecord, error) {
	record := &db.SessionRecord{}
	err := p.conn.QueryRowContext(ctx, `SELECT id, created_at FROM chat_sessions WHERE id = $1`, sessionID).
		Scan(&record.ID, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving session: %w", err)
	}

	query := `
	SELECT role, content, input_tokens, output_tokens, latency_seconds, created_at
	FROM chat_turns
	WHERE session_id = $1
	ORDER BY seq ASC
	`

	rows, err := p.conn.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying turns: %w", err)
	}
	defer rows.Close()

	record.Turns = []db.Turn{}
	for rows.Next() {
		var turn db.Turn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.InputTokens, &turn.OutputTokens, &turn.Latency, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning turn: %w", err)
		}
		record.Turns = append(record.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return record, nil
}

// AppendTurns stores all turns in a single transaction, after the session's existing turns
func (p *PostgresDB) AppendTurns(ctx context.Context, sessionID string, turns []db.Turn) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the session row so concurrent appends to one session serialize on seq
	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("error locking session: %w", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM chat_turns WHERE session_id = $1`, sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("error reading turn sequence: %w", err)
	}

	insert := `
	INSERT INTO chat_turns (session_id, seq, role, content, input_tokens, output_tokens, latency_seconds, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, turn := range turns {
		seq++
		if _, err := tx.ExecContext(ctx, insert, sessionID, seq, string(turn.Role), turn.Content,
			turn.InputTokens, turn.OutputTokens, turn.Latency, turn.Timestamp.UTC()); err != nil {
			return fmt.Errorf("error adding turn: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("error updating session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing turns: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"turns":      len(turns),
		"last_seq":   seq,
	}).Debug("Appended turns to session")

	return nil
}

// DeleteSession deletes a session and, through the cascade, its turns
func (p *PostgresDB) DeleteSession(ctx context.Context, sessionID string) error {
	result, err := p.conn.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}

	affected, _ := result.RowsAffected()
	logger.Log.WithFields(logrus.Fields{"session_id": sessionID, "deleted": affected}).Info("Deleted session")
	return nil
}

// IterateSessions walks every session in creation order with a single joined query
func (p *PostgresDB) IterateSessions(ctx context.Context, fn func(db.SessionRecord) error) error {
	query := `
	SELECT s.id, s.created_at, t.role, t.content, t.input_tokens, t.output_tokens, t.latency_seconds, t.created_at
	FROM chat_sessions s
	LEFT JOIN chat_turns t ON t.session_id = s.id
	ORDER BY s.created_at ASC, s.id ASC, t.seq ASC
	`

	rows, err := p.conn.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("error querying sessions: %w", err)
	}
	defer rows.Close()

	return db.GroupSessionRows(rows, func(s db.RowScanner) (db.SessionRow, error) {
		var row db.SessionRow
		var role, content sql.NullString
		var in, out sql.NullInt64
		var latency sql.NullFloat64
		var turnAt sql.NullTime
		if err := s.Scan(&row.SessionID, &row.SessionCreatedAt, &role, &content, &in, &out, &latency, &turnAt); err != nil {
			return row, fmt.Errorf("error scanning session row: %w", err)
		}
		if role.Valid {
			row.Turn = &db.Turn{
				Role:         db.Role(role.String),
				Content:      content.String,
				InputTokens:  int(in.Int64),
				OutputTokens: int(out.Int64),
				Latency:      latency.Float64,
				Timestamp:    turnAt.Time,
			}
		}
		return row, nil
	}, fn)
}
