package sqlite

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

func (s *SQLiteDB) CreateSession(ctx context.Context, sessionID string) (*db.Session, error) {
	now := time.Now().UTC()
	result, err := s.conn.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, created_at_ms, updated_at_ms) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		sessionID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, db.ErrSessionExists
	}

	logger.Log.WithField("session_id", sessionID).Info("Created new session")
	return &db.Session{ID: sessionID, CreatedAt: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

func (s *SQLiteDB) GetSession(ctx context.Context, sessionID string) (*db.SessionRecord, error) {
	var createdMs int64
	err := s.conn.QueryRowContext(ctx, `SELECT created_at_ms FROM chat_sessions WHERE id = ?`, sessionID).Scan(&createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT role, content, input_tokens, output_tokens, latency_seconds, created_at_ms
		FROM chat_turns
		WHERE session_id = ?
		ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	record := &db.SessionRecord{
		Session: db.Session{ID: sessionID, CreatedAt: time.UnixMilli(createdMs).UTC()},
		Turns:   []db.Turn{},
	}
	for rows.Next() {
		var turn db.Turn
		var atMs int64
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.InputTokens, &turn.OutputTokens, &turn.Latency, &atMs); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Timestamp = time.UnixMilli(atMs).UTC()
		record.Turns = append(record.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return record, nil
}

func (s *SQLiteDB) AppendTurns(ctx context.Context, sessionID string, turns []db.Turn) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT MAX(seq) FROM chat_turns WHERE session_id = s.id), 0)
		FROM chat_sessions s WHERE s.id = ?`, sessionID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read turn sequence: %w", err)
	}

	for _, turn := range turns {
		seq++
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_turns (session_id, seq, role, content, input_tokens, output_tokens, latency_seconds, created_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, seq, string(turn.Role), turn.Content, turn.InputTokens, turn.OutputTokens, turn.Latency, turn.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at_ms = ? WHERE id = ?`, time.Now().UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turns: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"session_id": sessionID, "turns": len(turns), "last_seq": seq}).Debug("Appended turns to session")
	return nil
}

func (s *SQLiteDB) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteDB) IterateSessions(ctx context.Context, fn func(db.SessionRecord) error) error {
	// Unlike the Postgres store this is not lazy: every record is loaded before fn runs,
	// because with a single connection fn must be free to call back into the store.
	var records []db.SessionRecord
	err := func() error {
		rows, err := s.conn.QueryContext(ctx, `
			SELECT s.id, s.created_at_ms, t.role, t.content, t.input_tokens, t.output_tokens, t.latency_seconds, t.created_at_ms
			FROM chat_sessions s
			LEFT JOIN chat_turns t ON t.session_id = s.id
			ORDER BY s.created_at_ms ASC, s.id ASC, t.seq ASC`)
		if err != nil {
			return fmt.Errorf("failed to query sessions: %w", err)
		}
		defer rows.Close()

		return db.GroupSessionRows(rows, scanSessionRow, func(r db.SessionRecord) error {
			records = append(records, r)
			return nil
		})
	}()
	if err != nil {
		return err
	}

	for _, r := range records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func scanSessionRow(sc db.RowScanner) (db.SessionRow, error) {
	var row db.SessionRow
	var createdMs int64
	var role, content sql.NullString
	var in, out, turnMs sql.NullInt64
	var latency sql.NullFloat64
	if err := sc.Scan(&row.SessionID, &createdMs, &role, &content, &in, &out, &latency, &turnMs); err != nil {
		return row, fmt.Errorf("failed to scan session row: %w", err)
	}
	row.SessionCreatedAt = time.UnixMilli(createdMs).UTC()
	if role.Valid {
		row.Turn = &db.Turn{
			Role:         db.Role(role.String),
			Content:      content.String,
			InputTokens:  int(in.Int64),
			OutputTokens: int(out.Int64),
			Latency:      latency.Float64,
			Timestamp:    time.UnixMilli(turnMs.Int64).UTC(),
		}
	}
	return row, nil
}
