package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "sessions.db")
	idx, err := NewSQLiteIndex(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx, dsn
}

func TestSQLiteIndex_PutLoadDelete(t *testing.T) {
	idx, _ := newTestSQLiteIndex(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s := Session{
		ID:             uuid.NewString(),
		User:           "analyst",
		Context:        "2025",
		CreatedAt:      now,
		ExpiresAt:      now.Add(DefaultTTL),
		LastAccessedAt: now,
		Root:           "/r/x",
		TempDir:        "/r/x/temp",
		OutputDir:      "/r/x/output/2025",
	}
	require.NoError(t, idx.Put(ctx, s))

	s.ExpiresAt = s.ExpiresAt.Add(time.Hour)
	require.NoError(t, idx.Put(ctx, s), "put is an upsert")

	got, err := idx.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, s.ID, got[0].ID)
	assert.Equal(t, "2025", got[0].Context)
	assert.Equal(t, s.OutputDir, got[0].OutputDir)
	assert.True(t, s.ExpiresAt.Equal(got[0].ExpiresAt))

	require.NoError(t, idx.Delete(ctx, s.ID))
	require.NoError(t, idx.Delete(ctx, s.ID))
	got, err = idx.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegistry_SQLiteIndexSurvivesRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := newFakeClock()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "sessions.db")

	idx, err := NewSQLiteIndex(ctx, dsn)
	require.NoError(t, err)
	first, err := Open(ctx, "/sessions", WithFs(fs), WithClock(clock.Now), WithIndex(idx))
	require.NoError(t, err)
	s, err := first.Create(ctx, "u", "")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	idx2, err := NewSQLiteIndex(ctx, dsn)
	require.NoError(t, err)
	second, err := Open(ctx, "/sessions", WithFs(fs), WithClock(clock.Now), WithIndex(idx2))
	require.NoError(t, err)
	defer second.Close() //nolint:errcheck

	got, err := second.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.TempDir, got.TempDir)
}
