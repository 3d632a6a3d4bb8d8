package db

import (
	"database/sql"
	"time"
)

// RowScanner is the subset of *sql.Rows used by row decoders.
type RowScanner interface {
	Scan(dest ...any) error
}

// SessionRow is one row of a sessions LEFT JOIN turns query. Turn is nil for a session without turns.
type SessionRow struct {
	SessionID        string
	SessionCreatedAt time.Time
	Turn             *Turn
}

// GroupSessionRows folds rows ordered by session then turn sequence into SessionRecords
// and hands each completed record to fn.
func GroupSessionRows(rows *sql.Rows, decode func(RowScanner) (SessionRow, error), fn func(SessionRecord) error) error {
	var current *SessionRecord
	for rows.Next() {
		row, err := decode(rows)
		if err != nil {
			return err
		}

		if current == nil || current.ID != row.SessionID {
			if current != nil {
				if err := fn(*current); err != nil {
					return err
				}
			}
			current = &SessionRecord{
				Session: Session{ID: row.SessionID, CreatedAt: row.SessionCreatedAt},
				Turns:   []Turn{},
			}
		}
		if row.Turn != nil {
			current.Turns = append(current.Turns, *row.Turn)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if current != nil {
		return fn(*current)
	}
	return nil
}
