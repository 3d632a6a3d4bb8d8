package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"llm-gateway/internal/repository/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	store, err := NewSQLiteDB(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pair(prompt, reply string) []db.Turn {
	now := time.Now().UTC()
	return []db.Turn{
		{Role: db.RoleUser, Content: prompt, InputTokens: 2, Timestamp: now},
		{Role: db.RoleModel, Content: reply, OutputTokens: 3, Latency: 1.2, Timestamp: now},
	}
}

func TestCreateSession(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.False(t, session.CreatedAt.IsZero())

	_, err = store.CreateSession(ctx, "s1")
	assert.True(t, errors.Is(err, db.ErrSessionExists), "Expected ErrSessionExists, got %v", err)
}

func TestGetSession_Absent(t *testing.T) {
	store := newTestDB(t)

	record, err := store.GetSession(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestAppendAndGet(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	_, err := store.CreateSession(ctx, "s1")
	require.NoError(t, err)

	record, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Empty(t, record.Turns)
	assert.NotNil(t, record.Turns)

	require.NoError(t, store.AppendTurns(ctx, "s1", pair("hello", "hi there")))
	require.NoError(t, store.AppendTurns(ctx, "s1", pair("again", "sure")))

	record, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, record.Turns, 4)
	assert.Equal(t, db.RoleUser, record.Turns[0].Role)
	assert.Equal(t, "hello", record.Turns[0].Content)
	assert.Equal(t, 2, record.Turns[0].InputTokens)
	assert.Equal(t, db.RoleModel, record.Turns[1].Role)
	assert.Equal(t, "hi there", record.Turns[1].Content)
	assert.Equal(t, 3, record.Turns[1].OutputTokens)
	assert.InDelta(t, 1.2, record.Turns[1].Latency, 1e-9)
	assert.Equal(t, "again", record.Turns[2].Content)
	assert.Equal(t, "sure", record.Turns[3].Content)
}

func TestAppendTurns_UnknownSession(t *testing.T) {
	store := newTestDB(t)

	err := store.AppendTurns(context.Background(), "ghost", pair("a", "b"))
	assert.True(t, errors.Is(err, db.ErrSessionNotFound), "Expected ErrSessionNotFound, got %v", err)
}

func TestAppendTurns_RejectedBatchLeavesNothing(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "s1")
	require.NoError(t, err)

	turns := pair("a", "b")
	turns[1].Role = "system"
	require.Error(t, store.AppendTurns(ctx, "s1", turns))

	record, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, record.Turns)
}

func TestDeleteSession(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	_, err := store.CreateSession(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurns(ctx, "s1", pair("a", "b")))

	require.NoError(t, store.DeleteSession(ctx, "s1"))
	require.NoError(t, store.DeleteSession(ctx, "s1"))
	require.NoError(t, store.DeleteSession(ctx, "never-existed"))

	record, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, record)

	// A deleted id can be created again and starts empty.
	_, err = store.CreateSession(ctx, "s1")
	require.NoError(t, err)
	record, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, record.Turns)
}

func TestIterateSessions(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.CreateSession(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, store.AppendTurns(ctx, "a", pair("1", "2")))
	require.NoError(t, store.AppendTurns(ctx, "c", pair("3", "4")))
	require.NoError(t, store.AppendTurns(ctx, "c", pair("5", "6")))

	seen := map[string]int{}
	err := store.IterateSessions(ctx, func(r db.SessionRecord) error {
		assert.NotNil(t, r.Turns)
		seen[r.ID] = len(r.Turns)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 2, "b": 0, "c": 4}, seen)
}

func TestIterateSessions_StopsOnError(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := store.CreateSession(ctx, id)
		require.NoError(t, err)
	}

	stop := errors.New("stop")
	calls := 0
	err := store.IterateSessions(ctx, func(db.SessionRecord) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestIterateSessions_CallbackCanUseStore(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := store.CreateSession(ctx, id)
		require.NoError(t, err)
		require.NoError(t, store.AppendTurns(ctx, id, pair("q", "r")))
	}

	// With one pooled connection, reading inside fn would block if rows were still open.
	done := make(chan error, 1)
	go func() {
		done <- store.IterateSessions(ctx, func(r db.SessionRecord) error {
			fresh, err := store.GetSession(ctx, r.ID)
			if err != nil {
				return err
			}
			if len(fresh.Turns) != len(r.Turns) {
				return errors.New("turn count mismatch")
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("IterateSessions blocked while fn used the store")
	}
}

func TestDSNForFile(t *testing.T) {
	_, err := DSNForFile("  ")
	assert.Error(t, err)

	dsn, err := DSNForFile("/tmp/x.db")
	require.NoError(t, err)
	assert.Contains(t, dsn, "_foreign_keys=on")
}
