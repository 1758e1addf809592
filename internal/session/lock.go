package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

const (
	lockPollInitial = 5 * time.Millisecond
	lockPollMax     = 200 * time.Millisecond
)

// indexLocks serializes index updates per path within the process.
var indexLocks sync.Map // path -> *sync.Mutex

// lockIndex takes the update lock of the index at path and returns its
// release func. On the OS filesystem it also holds an advisory flock on
// «path».lock so other processes sharing the root wait their turn.
func lockIndex(ctx context.Context, fs afero.Fs, path string) (func(), error) {
	v, _ := indexLocks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	if _, ok := fs.(*afero.OsFs); !ok {
		return mu.Unlock, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		mu.Unlock()
		return nil, eris.Wrap(err, "session: create index dir")
	}
	f, err := os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		mu.Unlock()
		return nil, eris.Wrapf(err, "session: open index lock %s.lock", path)
	}

	backoff := lockPollInitial
	for {
		ok, err := tryLockFile(f)
		if err != nil {
			_ = f.Close()
			mu.Unlock()
			return nil, eris.Wrapf(err, "session: lock index %s", path)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			mu.Unlock()
			return nil, eris.Wrapf(ctx.Err(), "session: wait for index lock %s", path)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, lockPollMax)
	}

	return func() {
		_ = unlockFile(f)
		_ = f.Close()
		mu.Unlock()
	}, nil
}
