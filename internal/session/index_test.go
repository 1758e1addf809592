package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONIndex(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()
	idx := NewJSONIndex(fs, "/root/sessions.json")

	got, err := idx.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "missing file is an empty index")

	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Put(ctx, Session{ID: "b", CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, idx.Put(ctx, Session{ID: "a", CreatedAt: t0}))

	reopened := NewJSONIndex(fs, "/root/sessions.json")
	got, err = reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	require.NoError(t, reopened.Delete(ctx, "a"))
	require.NoError(t, reopened.Delete(ctx, "missing"))
	got, err = NewJSONIndex(fs, "/root/sessions.json").Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	ok, err := afero.Exists(fs, "/root/sessions.json.tmp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJSONIndex_WritersShareFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), IndexFileName)
	writers := []*JSONIndex{NewJSONIndex(afero.NewOsFs(), path), NewJSONIndex(afero.NewOsFs(), path)}

	require.NoError(t, writers[0].Put(ctx, Session{ID: "seed"}))
	_, err := writers[1].Load(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, w := range writers {
		for j := 0; j < 15; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, w.Put(ctx, Session{ID: fmt.Sprintf("w%d-%d", i, j)}))
			}()
		}
	}
	wg.Wait()
	require.NoError(t, writers[1].Delete(ctx, "seed"))

	got, err := NewJSONIndex(afero.NewOsFs(), path).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 30)
	assert.True(t, writers[0].Durable())
	assert.False(t, NewMemoryIndex().Durable())
}

func TestJSONIndex_Corrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/idx.json", []byte("{not json"), 0o644))

	_, err := NewJSONIndex(fs, "/idx.json").Load(context.Background())
	assert.Error(t, err)
}

func TestSession_Helpers(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := Session{ExpiresAt: now.Add(time.Minute), TempDir: "/t", OutputDir: "/o"}

	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(time.Minute)))
	assert.Equal(t, StatusExpired, s.Status(now.Add(time.Hour)))
	assert.Equal(t, time.Duration(0), s.Remaining(now.Add(time.Hour)))
	assert.Equal(t, "/t", s.Dir(AreaTemp))
	assert.Equal(t, "/o", s.Dir(AreaOutput))
}
