package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"kometaai/internal/services"
)

// LockFileName is the run lock created in the state directory.
const LockFileName = "kometaai.lock"

// ErrLocked reports that another process holds the run lock.
var ErrLocked = fmt.Errorf("%w: another kometaai run is in progress", services.ErrConflict)

// runLock guards the state directory against concurrent runs.
type runLock struct {
	path string
	lock *flock.Flock
}

func newRunLock(stateDir string) *runLock {
	path := filepath.Join(stateDir, LockFileName)
	return &runLock{path: path, lock: flock.New(path)}
}

func (l *runLock) acquire() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "pipeline", "lock", "acquire "+l.path, err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (l *runLock) release() error {
	return l.lock.Unlock()
}
