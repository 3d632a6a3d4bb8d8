package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	created   []string
	deleted   []string
	createErr error
	deleteErr error
}

func (f *fakeStore) Create(ctx context.Context, sessionID string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, sessionID)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, sessionID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func TestResolveOrCreate_Existing(t *testing.T) {
	store := &fakeStore{}
	l := NewLifecycle(store)

	id, created, err := l.ResolveOrCreate(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.False(t, created)
	assert.Empty(t, store.created)
}

func TestResolveOrCreate_Absent(t *testing.T) {
	for _, input := range []string{"", "null", "  "} {
		store := &fakeStore{}
		l := NewLifecycle(store)

		id, created, err := l.ResolveOrCreate(context.Background(), input)
		require.NoError(t, err)
		assert.True(t, created)
		_, parseErr := uuid.Parse(id)
		assert.NoError(t, parseErr, "Expected a UUID, got %q", id)
		assert.Equal(t, []string{id}, store.created)
	}
}

func TestResolveOrCreate_UniqueIDs(t *testing.T) {
	l := NewLifecycle(&fakeStore{})
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, _, err := l.ResolveOrCreate(context.Background(), "")
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestResolveOrCreate_StoreError(t *testing.T) {
	l := NewLifecycle(&fakeStore{createErr: errors.New("db down")})

	_, _, err := l.ResolveOrCreate(context.Background(), "")
	assert.Error(t, err)
}

func TestDelete_RunsInvalidators(t *testing.T) {
	store := &fakeStore{}
	var invalidated []string
	l := NewLifecycle(store, InvalidatorFunc(func(ctx context.Context, sessionID string) error {
		invalidated = append(invalidated, sessionID)
		return nil
	}))

	require.NoError(t, l.Delete(context.Background(), "s1"))
	require.NoError(t, l.Delete(context.Background(), "s1"))
	assert.Equal(t, []string{"s1", "s1"}, store.deleted)
	assert.Equal(t, []string{"s1", "s1"}, invalidated)
}

func TestDelete_StoreErrorSkipsInvalidators(t *testing.T) {
	called := false
	l := NewLifecycle(&fakeStore{deleteErr: errors.New("db down")}, InvalidatorFunc(func(ctx context.Context, sessionID string) error {
		called = true
		return nil
	}))

	assert.Error(t, l.Delete(context.Background(), "s1"))
	assert.False(t, called)
}

func TestDelete_InvalidatorError(t *testing.T) {
	boom := errors.New("redis down")
	l := NewLifecycle(&fakeStore{}, InvalidatorFunc(func(ctx context.Context, sessionID string) error {
		return boom
	}))

	err := l.Delete(context.Background(), "s1")
	assert.ErrorIs(t, err, boom)
}

func TestIsAbsent(t *testing.T) {
	assert.True(t, IsAbsent(""))
	assert.True(t, IsAbsent("null"))
	assert.False(t, IsAbsent("Null-ish"))
	assert.False(t, IsAbsent("abc"))
}
