// Package lock implements the instance lock: a named, exclusive, per-user lock
// whose first holder is the first instance of an application.
//
// The lock is an advisory file lock (flock(2) on Unix, LockFileEx on Windows)
// taken with a single non-blocking call. The operating system drops it when
// the owning process exits, so a crashed first instance never blocks the next
// launch.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/Iron-Ham/singleinstance/internal/errors"
	"github.com/Iron-Ham/singleinstance/internal/logging"
)

// dirName is the directory created under the per-user base directory.
const dirName = "singleinstance"

// InstanceLock is an acquired instance lock.
type InstanceLock struct {
	Identifier string
	PID        int
	AcquiredAt time.Time

	mu     sync.Mutex
	fl     *flock.Flock
	logger *logging.Logger
}

// TryAcquire attempts to take the exclusive lock for identifier inside dir.
// It never blocks. It returns (lock, true, nil) when this call created the
// lock, (nil, false, nil) when another holder owns it, and a *errors.LockError
// only when the lock file itself could not be opened or locked.
// The logger parameter is optional and can be nil.
func TryAcquire(dir, identifier string, logger *logging.Logger) (*InstanceLock, bool, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if dir == "" {
		dir = DefaultDir()
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, errors.NewLockError("create lock directory", err).
			WithIdentifier(identifier).
			WithPath(dir)
	}

	path := Path(dir, identifier)
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, errors.NewLockError("try lock", err).
			WithIdentifier(identifier).
			WithPath(path)
	}
	if !locked {
		logger.Debug("instance lock held elsewhere", "identifier", identifier, "path", path)
		return nil, false, nil
	}

	l := &InstanceLock{
		Identifier: identifier,
		PID:        os.Getpid(),
		AcquiredAt: time.Now(),
		fl:         fl,
		logger:     logger,
	}
	l.writeMetadata(path)

	logger.Info("instance lock acquired", "identifier", identifier, "path", path, "pid", l.PID)
	return l, true, nil
}

// writeMetadata records the owner for humans inspecting the lock file.
// Best-effort: the lock itself is the flock, not the file contents.
func (l *InstanceLock) writeMetadata(path string) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "pid=%d\nidentifier=%s\nstart=%s\n",
		l.PID, l.Identifier, l.AcquiredAt.Format(time.RFC3339))
}

// Path returns the lock file path, or "" once released.
func (l *InstanceLock) Path() string {
	if l == nil || l.fl == nil {
		return ""
	}
	return l.fl.Path()
}

// Release unlocks and closes the lock file. Safe to call multiple times and
// on a nil receiver. The file is left in place: removing a locked file would
// let a later process lock a fresh inode while an older holder still owns the
// unlinked one.
func (l *InstanceLock) Release() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fl == nil {
		return nil
	}

	err := l.fl.Unlock()
	path := l.fl.Path()
	l.fl = nil

	if err != nil {
		return errors.NewLockError("unlock", err).WithIdentifier(l.Identifier).WithPath(path)
	}
	l.logger.Info("instance lock released", "identifier", l.Identifier)
	return nil
}

// Path returns the lock file path for identifier inside dir. Characters that
// are unsafe in file names are replaced, and a short hash of the raw
// identifier keeps identifiers that sanitize to the same text apart.
func Path(dir, identifier string) string {
	return filepath.Join(dir, FileName(identifier))
}

// FileName returns the lock file name for identifier.
func FileName(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return fmt.Sprintf("%s-%s.lock", sanitize(identifier), hex.EncodeToString(sum[:6]))
}

// maxNameLen bounds the readable part of generated file names.
const maxNameLen = 64

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxNameLen {
			break
		}
	}
	if b.Len() == 0 {
		return "app"
	}
	return b.String()
}

// DefaultDir returns the per-user directory that holds lock files:
// $XDG_RUNTIME_DIR/singleinstance when set, else the user cache directory,
// else a user-qualified directory under the system temp dir.
func DefaultDir() string {
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		return filepath.Join(runtime, dirName)
	}
	if cache, err := os.UserCacheDir(); err == nil && cache != "" {
		return filepath.Join(cache, dirName)
	}
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	return filepath.Join(os.TempDir(), dirName+"-"+sanitize(user))
}
