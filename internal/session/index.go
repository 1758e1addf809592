package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

// Index persists session metadata so a restart can recover live sessions.
// The registry calls it while holding its lock.
type Index interface {
	Load(ctx context.Context) ([]Session, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// durable is implemented by indexes that know whether they outlive the
// process. Indexes without it are treated as durable.
type durable interface {
	Durable() bool
}

func isDurable(idx Index) bool {
	d, ok := idx.(durable)
	return !ok || d.Durable()
}

// MemoryIndex is a non-durable Index for tests and one-shot runs. Its
// contents die with the process.
type MemoryIndex struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{sessions: make(map[string]Session)}
}

func (m *MemoryIndex) Load(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedSessions(m.sessions), nil
}

func (m *MemoryIndex) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryIndex) Close() error { return nil }

// Durable reports false: a registry over a MemoryIndex cannot tell another
// process's workspace from an orphan.
func (m *MemoryIndex) Durable() bool { return false }

// IndexFileName is the JSON index written under the session root.
const IndexFileName = "sessions.json"

// JSONIndex stores the whole index as one JSON document. Every change
// re-reads the file under the index lock and replaces it atomically, so
// registries in other processes sharing the root never lose each other's
// entries.
type JSONIndex struct {
	fs   afero.Fs
	path string
}

// NewJSONIndex returns an index backed by the file at path on fs.
func NewJSONIndex(fs afero.Fs, path string) *JSONIndex {
	return &JSONIndex{fs: fs, path: path}
}

type indexDocument struct {
	Sessions []Session `json:"sessions"`
}

func (j *JSONIndex) Load(_ context.Context) ([]Session, error) {
	m, err := j.read()
	if err != nil {
		return nil, err
	}
	return sortedSessions(m), nil
}

func (j *JSONIndex) Put(ctx context.Context, s Session) error {
	return j.update(ctx, func(m map[string]Session) bool {
		m[s.ID] = s
		return true
	})
}

func (j *JSONIndex) Delete(ctx context.Context, id string) error {
	return j.update(ctx, func(m map[string]Session) bool {
		if _, ok := m[id]; !ok {
			return false
		}
		delete(m, id)
		return true
	})
}

func (j *JSONIndex) Close() error { return nil }

// Durable reports that the index outlives the process.
func (j *JSONIndex) Durable() bool { return true }

// update applies fn to the current file contents and writes them back when
// fn reports a change.
func (j *JSONIndex) update(ctx context.Context, fn func(map[string]Session) bool) error {
	unlock, err := lockIndex(ctx, j.fs, j.path)
	if err != nil {
		return err
	}
	defer unlock()

	m, err := j.read()
	if err != nil {
		return err
	}
	if !fn(m) {
		return nil
	}
	return j.write(m)
}

func (j *JSONIndex) read() (map[string]Session, error) {
	data, err := afero.ReadFile(j.fs, j.path)
	if os.IsNotExist(err) {
		return make(map[string]Session), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "session: read index %s", j.path)
	}
	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "session: parse index %s", j.path)
	}
	m := make(map[string]Session, len(doc.Sessions))
	for _, s := range doc.Sessions {
		m[s.ID] = s
	}
	return m, nil
}

// write writes to a temp file and renames it over the index.
func (j *JSONIndex) write(m map[string]Session) error {
	data, err := json.MarshalIndent(indexDocument{Sessions: sortedSessions(m)}, "", "  ")
	if err != nil {
		return eris.Wrap(err, "session: marshal index")
	}
	if err := j.fs.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return eris.Wrap(err, "session: create index dir")
	}
	tmp := j.path + ".tmp"
	if err := afero.WriteFile(j.fs, tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "session: write index %s", tmp)
	}
	if err := j.fs.Rename(tmp, j.path); err != nil {
		return eris.Wrapf(err, "session: replace index %s", j.path)
	}
	return nil
}

func sortedSessions(m map[string]Session) []Session {
	out := make([]Session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
