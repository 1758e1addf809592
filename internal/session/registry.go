package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sells-group/hydroindex/internal/metrics"
)

// Registry is the Manager implementation. All registry mutations and index
// writes happen under mu; artifact writes are serialized by writeMu. The
// in-memory view is reloaded from the index before every operation, so
// registries in several processes can share one root.
type Registry struct {
	mu       sync.Mutex
	writeMu  sync.Mutex
	fs       afero.Fs
	root     string
	index    Index
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
	sessions map[string]Session
}

var _ Manager = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithFs sets the filesystem. The default is the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(r *Registry) { r.fs = fs }
}

// WithIndex sets the persistent index. The default is a JSONIndex at
// «root»/sessions.json.
func WithIndex(idx Index) Option {
	return func(r *Registry) { r.index = idx }
}

// WithDefaultTTL sets the lifetime of sessions created without WithTTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(r *Registry) { r.ttl = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// minOrphanAge is the youngest unindexed directory Open may prune.
const minOrphanAge = time.Minute

// Open creates the session root if needed, loads the index, removes sessions
// that expired while the process was down and prunes workspace directories
// the index does not know about. Pruning needs a durable index and spares
// directories modified within the default TTL.
func Open(ctx context.Context, root string, opts ...Option) (*Registry, error) {
	r := &Registry{
		fs:       afero.NewOsFs(),
		root:     filepath.Clean(root),
		ttl:      DefaultTTL,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "session")),
		sessions: make(map[string]Session),
	}
	for _, o := range opts {
		o(r)
	}
	if r.index == nil {
		r.index = NewJSONIndex(r.fs, filepath.Join(r.root, IndexFileName))
	}

	if err := r.fs.MkdirAll(r.root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "session: create root %s", r.root)
	}
	if err := r.recover(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) recover(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.index.Load(ctx)
	if err != nil {
		return err
	}
	now := r.now()
	var expired int
	for _, s := range stored {
		if _, err := uuid.Parse(s.ID); err != nil {
			r.log.Warn("session: dropping index entry with invalid id", zap.String("session_id", s.ID))
			if err := r.index.Delete(ctx, s.ID); err != nil {
				return err
			}
			continue
		}
		if s.Expired(now) {
			if err := r.removeLocked(ctx, s); err != nil {
				return err
			}
			expired++
			continue
		}
		r.sessions[s.ID] = s
	}

	var orphans int
	if isDurable(r.index) {
		if orphans, err = r.pruneOrphansLocked(now); err != nil {
			return err
		}
	}

	metrics.RecordCleanup(metrics.ReasonExpired, expired)
	metrics.RecordCleanup(metrics.ReasonOrphan, orphans)
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.log.Info("session: recovered registry",
		zap.String("root", r.root),
		zap.Int("active", len(r.sessions)),
		zap.Int("expired", expired),
		zap.Int("orphans", orphans),
	)
	return nil
}

// pruneOrphansLocked removes uuid-named directories under root that no
// registered session owns and that have not changed for the default TTL.
// Younger ones may belong to a Create in flight in another process.
func (r *Registry) pruneOrphansLocked(now time.Time) (int, error) {
	entries, err := afero.ReadDir(r.fs, r.root)
	if err != nil {
		return 0, eris.Wrapf(err, "session: list root %s", r.root)
	}
	cutoff := now.Add(-max(r.ttl, minOrphanAge))
	var n int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		if _, ok := r.sessions[e.Name()]; ok {
			continue
		}
		if e.ModTime().After(cutoff) {
			r.log.Debug("session: keeping recent unindexed directory", zap.String("dir", e.Name()))
			continue
		}
		if err := r.fs.RemoveAll(filepath.Join(r.root, e.Name())); err != nil {
			return n, eris.Wrapf(err, "session: remove orphan %s", e.Name())
		}
		n++
	}
	return n, nil
}

// refreshLocked replaces the in-memory view with the index contents, picking
// up sessions other processes created, extended or removed.
func (r *Registry) refreshLocked(ctx context.Context) error {
	stored, err := r.index.Load(ctx)
	if err != nil {
		return err
	}
	sessions := make(map[string]Session, len(stored))
	for _, s := range stored {
		if _, err := uuid.Parse(s.ID); err != nil {
			continue
		}
		sessions[s.ID] = s
	}
	r.sessions = sessions
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	return nil
}

// Root returns the directory holding every session workspace.
func (r *Registry) Root() string { return r.root }

// Close closes the index.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.Close()
}

// Create allocates a new workspace. contextKey, when set, partitions the
// output area (for example by survey year).
func (r *Registry) Create(ctx context.Context, user, contextKey string, opts ...CreateOption) (Session, error) {
	co := createOptions{ttl: r.ttl}
	for _, o := range opts {
		o(&co)
	}
	if co.ttl < 0 {
		return Session{}, eris.Errorf("session: ttl must not be negative, got %s", co.ttl)
	}
	if contextKey != "" {
		if err := validName(contextKey); err != nil {
			return Session{}, eris.Wrapf(err, "session: context key %q", contextKey)
		}
	}

	id := uuid.New().String()
	now := r.now().UTC()
	root := filepath.Join(r.root, id)
	s := Session{
		ID:             id,
		User:           user,
		Context:        contextKey,
		CreatedAt:      now,
		ExpiresAt:      now.Add(co.ttl),
		LastAccessedAt: now,
		Root:           root,
		TempDir:        filepath.Join(root, string(AreaTemp)),
		OutputDir:      filepath.Join(root, string(AreaOutput), contextKey),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dir := range []string{s.TempDir, s.OutputDir} {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			_ = r.fs.RemoveAll(root)
			return Session{}, eris.Wrapf(err, "session: create %s", dir)
		}
	}
	if err := r.index.Put(ctx, s); err != nil {
		_ = r.fs.RemoveAll(root)
		return Session{}, err
	}
	r.sessions[id] = s

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.log.Info("session: created",
		zap.String("session_id", id),
		zap.String("user", user),
		zap.String("context", contextKey),
		zap.Time("expires_at", s.ExpiresAt),
	)
	return s, nil
}

// Get returns the session and refreshes its access time. An expired session
// is cleaned up and reported as *ExpiredError.
func (r *Registry) Get(ctx context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.liveLocked(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s.LastAccessedAt = r.now().UTC()
	if err := r.index.Put(ctx, s); err != nil {
		return Session{}, err
	}
	r.sessions[id] = s
	return s, nil
}

// Extend pushes the expiry of a live session forward by d.
func (r *Registry) Extend(ctx context.Context, id string, d time.Duration) (Session, error) {
	if d <= 0 {
		return Session{}, eris.Errorf("session: extension must be positive, got %s", d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.liveLocked(ctx, id)
	if err != nil {
		return Session{}, err
	}
	now := r.now().UTC()
	base := s.ExpiresAt
	if now.After(base) {
		base = now
	}
	s.ExpiresAt = base.Add(d)
	s.LastAccessedAt = now
	if err := r.index.Put(ctx, s); err != nil {
		return Session{}, err
	}
	r.sessions[id] = s

	r.log.Debug("session: extended",
		zap.String("session_id", id),
		zap.Time("expires_at", s.ExpiresAt),
	)
	return s, nil
}

// Cleanup removes the session workspace and index entry. Unknown ids are not
// an error.
func (r *Registry) Cleanup(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.refreshLocked(ctx); err != nil {
		return err
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	if err := r.removeLocked(ctx, s); err != nil {
		return err
	}
	metrics.RecordCleanup(metrics.ReasonExplicit, 1)
	return nil
}

// Sweep cleans every session past its expiry and returns how many were
// removed. A failure on one session does not stop the others.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.refreshLocked(ctx); err != nil {
		return 0, err
	}
	now := r.now()
	var (
		n        int
		firstErr error
	)
	for _, s := range sortedSessions(r.sessions) {
		if !s.Expired(now) {
			continue
		}
		if err := r.removeLocked(ctx, s); err != nil {
			r.log.Warn("session: sweep failed",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	metrics.RecordCleanup(metrics.ReasonExpired, n)
	if n > 0 {
		r.log.Info("session: swept expired sessions", zap.Int("removed", n))
	}
	return n, firstErr
}

// SweepEvery runs Sweep on every tick of interval until ctx is done.
func (r *Registry) SweepEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return eris.Errorf("session: sweep interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error("session: periodic sweep", zap.Error(err))
			}
		}
	}
}

// List returns every registered session ordered by creation time, including
// expired ones not yet swept.
func (r *Registry) List(ctx context.Context) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return sortedSessions(r.sessions), nil
}

// WriteArtifact writes data to name inside the area of a live session and
// returns the file path. name must be a plain file name.
func (r *Registry) WriteArtifact(ctx context.Context, id string, area Area, name string, data []byte) (string, error) {
	if err := checkArtifact(area, name); err != nil {
		return "", err
	}

	r.mu.Lock()
	s, err := r.liveLocked(ctx, id)
	r.mu.Unlock()
	if err != nil {
		return "", err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	// Area directories exist from Create; only the file is created here. A
	// missing directory means the session was removed after the check.
	dir := s.Dir(area)
	if ok, err := afero.DirExists(r.fs, dir); err != nil || !ok {
		return "", &NotFoundError{ID: id}
	}
	path := filepath.Join(dir, name)
	f, err := r.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", eris.Wrapf(err, "session: open artifact %s", path)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", eris.Wrapf(err, "session: write artifact %s", path)
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "session: close artifact %s", path)
	}
	return path, nil
}

// ReadArtifact returns the contents of name inside the area of a live
// session. The access time is left unchanged.
func (r *Registry) ReadArtifact(ctx context.Context, id string, area Area, name string) ([]byte, error) {
	if err := checkArtifact(area, name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	s, err := r.liveLocked(ctx, id)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	path := filepath.Join(s.Dir(area), name)
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, eris.Wrapf(err, "session: read artifact %s", path)
	}
	return data, nil
}

func checkArtifact(area Area, name string) error {
	if err := validName(name); err != nil {
		return eris.Wrapf(err, "session: artifact %q", name)
	}
	if area != AreaTemp && area != AreaOutput {
		return eris.Errorf("session: unknown area %q", area)
	}
	return nil
}

// liveLocked returns the session if it exists and has not expired. An
// expired session is removed before the error is returned.
func (r *Registry) liveLocked(ctx context.Context, id string) (Session, error) {
	if err := r.refreshLocked(ctx); err != nil {
		return Session{}, err
	}
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, &NotFoundError{ID: id}
	}
	if s.Expired(r.now()) {
		if err := r.removeLocked(ctx, s); err != nil {
			r.log.Warn("session: cleanup of expired session failed",
				zap.String("session_id", id),
				zap.Error(err),
			)
		} else {
			metrics.RecordCleanup(metrics.ReasonExpired, 1)
		}
		return Session{}, &ExpiredError{ID: id, ExpiredAt: s.ExpiresAt}
	}
	return s, nil
}

// removeLocked deletes the workspace subtree and the index entry. It only
// ever removes «root»/«id». Lock order is mu then writeMu.
func (r *Registry) removeLocked(ctx context.Context, s Session) error {
	dir := filepath.Join(r.root, s.ID)
	r.writeMu.Lock()
	err := r.fs.RemoveAll(dir)
	r.writeMu.Unlock()
	if err != nil {
		return eris.Wrapf(err, "session: remove %s", dir)
	}
	if err := r.index.Delete(ctx, s.ID); err != nil {
		return err
	}
	delete(r.sessions, s.ID)
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.log.Debug("session: removed", zap.String("session_id", s.ID))
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return ErrInvalidName
	}
	return nil
}
