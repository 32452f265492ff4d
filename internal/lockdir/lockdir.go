// Package lockdir implements the NFS-safe production lock. Mutual exclusion
// is built on atomic directory creation: mkdir either succeeds for exactly
// one process or fails with EEXIST, a guarantee that holds on compliant NFS
// servers where O_EXCL open semantics historically have not.
package lockdir

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// StaleAfter is the age beyond which a lock directory is treated as
	// abandoned and may be reclaimed by any acquirer.
	StaleAfter = 300 * time.Second

	ownerFileName = "owner"

	baseBackoff = 100 * time.Millisecond
	maxBackoff  = time.Second
)

// ErrTimeout is returned when the lock could not be acquired within the
// caller's budget. The holder's identity, when readable, is wrapped in.
var ErrTimeout = errors.New("lock acquisition timed out")

// Owner identifies the process holding a lock.
type Owner struct {
	Host    string
	PID     int
	EpochMS int64
	User    string
}

func (o Owner) String() string {
	return fmt.Sprintf("%s:%d:%d:%s", o.Host, o.PID, o.EpochMS, o.User)
}

func parseOwner(line string) (Owner, error) {
	parts := strings.SplitN(strings.TrimSpace(line), ":", 4)
	if len(parts) != 4 {
		return Owner{}, fmt.Errorf("malformed owner record %q", line)
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return Owner{}, fmt.Errorf("malformed owner pid %q: %w", parts[1], err)
	}
	epoch, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Owner{}, fmt.Errorf("malformed owner epoch %q: %w", parts[2], err)
	}
	return Owner{Host: parts[0], PID: pid, EpochMS: epoch, User: parts[3]}, nil
}

func currentOwner() Owner {
	host, _ := os.Hostname()
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return Owner{
		Host:    host,
		PID:     os.Getpid(),
		EpochMS: time.Now().UnixMilli(),
		User:    name,
	}
}

// Lock is an acquired named lock. Release must be called on every exit path;
// it is idempotent.
type Lock struct {
	dir      string
	acquired bool
}

// Dir returns the lock directory path, mainly for diagnostics.
func (l *Lock) Dir() string { return l.dir }

// Acquire takes the named lock under root (".../.cccopy/lock"), waiting up to
// timeout. Stale lock directories older than StaleAfter are reclaimed on the
// way. On timeout the error wraps ErrTimeout and, when readable, the current
// holder.
func Acquire(root, name string, timeout time.Duration) (*Lock, error) {
	dir := filepath.Join(root, name+".lockdir")
	if err := os.MkdirAll(root, 0o775); err != nil {
		return nil, fmt.Errorf("prepare lock root: %w", err)
	}

	deadline := time.Now().Add(timeout)
	backoff := baseBackoff
	for {
		if err := os.Mkdir(dir, 0o775); err == nil {
			l := &Lock{dir: dir, acquired: true}
			if werr := l.writeOwner(); werr != nil {
				l.Release()
				return nil, fmt.Errorf("write lock owner: %w", werr)
			}
			return l, nil
		} else if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock directory %s: %w", dir, err)
		}

		if isStale(dir) {
			// Best effort: another waiter may reclaim it first, in which
			// case the next mkdir round decides the winner.
			_ = os.Remove(filepath.Join(dir, ownerFileName))
			if os.Remove(dir) == nil {
				// Reclaimed; retry creation right away.
				continue
			}
		}

		if time.Now().After(deadline) {
			if owner, err := ReadOwner(dir); err == nil {
				return nil, fmt.Errorf("%w: %s held by %s on %s", ErrTimeout, name, owner.User, owner.Host)
			}
			return nil, fmt.Errorf("%w: %s", ErrTimeout, name)
		}

		time.Sleep(backoff)
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// ReadOwner parses the owner file of an existing lock directory.
func ReadOwner(dir string) (Owner, error) {
	data, err := os.ReadFile(filepath.Join(dir, ownerFileName))
	if err != nil {
		return Owner{}, err
	}
	return parseOwner(string(data))
}

func (l *Lock) writeOwner() error {
	return os.WriteFile(filepath.Join(l.dir, ownerFileName), []byte(currentOwner().String()+"\n"), 0o664)
}

// Release removes the owner file then the directory. ENOENT at either step
// means a stale-reclaim already cleaned up behind us and is not an error.
func (l *Lock) Release() {
	if !l.acquired {
		return
	}
	l.acquired = false
	if err := os.Remove(filepath.Join(l.dir, ownerFileName)); err != nil && !os.IsNotExist(err) {
		return
	}
	_ = os.Remove(l.dir)
}

// isStale decides from the owner record whether the holder is gone. When the
// owner file is unreadable the directory mtime is the fallback signal.
func isStale(dir string) bool {
	if owner, err := ReadOwner(dir); err == nil {
		return time.Since(time.UnixMilli(owner.EpochMS)) > StaleAfter
	}
	fi, err := os.Stat(dir)
	if err != nil {
		// Already gone; let the mkdir race settle it.
		return false
	}
	return time.Since(fi.ModTime()) > StaleAfter
}
