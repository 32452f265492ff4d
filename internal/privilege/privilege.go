// Package privilege implements the audited group elevation wrapped around
// every Production write. Elevation swaps the effective group to the
// project's upload group; the scope restores the previous group on exit and
// records both transitions in an append-only audit log.
//
// Failing to restore the previous group is fatal: the process must not keep
// running with Production write rights it no longer accounts for.
package privilege

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// exitFn is swapped out by tests that exercise the fatal path.
var exitFn = os.Exit

// AuditLog appends one JSON line per event. Appends rely on O_APPEND
// serialization by the OS; there is no buffering.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

func (a *AuditLog) append(record map[string]any) {
	if a == nil || a.path == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	line, err := json.Marshal(record)
	if err != nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

// Scope is an entered elevation. Exit must run on every path out of the
// protected region; it is idempotent.
type Scope struct {
	group    string
	prevGID  int
	elevated bool
	done     bool
	audit    *AuditLog
	enteredA time.Time
}

// Enter switches the effective group to the named upload group. An empty
// group name, or a group that does not exist on this host, yields an inert
// scope: the caller proceeds with its ordinary rights, which mirrors how the
// tool behaves on single-user setups.
func Enter(group, reason string, audit *AuditLog) (*Scope, error) {
	s := &Scope{group: group, audit: audit, enteredA: time.Now()}
	if group == "" {
		return s, nil
	}

	grp, err := user.LookupGroup(group)
	if err != nil {
		return s, nil
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return nil, fmt.Errorf("group %s has non-numeric gid %q: %w", group, grp.Gid, err)
	}

	prev := unix.Getegid()
	if prev == gid {
		// Already running under the upload group; nothing to switch, the
		// scope only audits.
		s.prevGID = prev
	} else {
		if err := unix.Setresgid(-1, gid, -1); err != nil {
			return nil, fmt.Errorf("switch effective group to %s (gid %d): %w", group, gid, err)
		}
		s.prevGID = prev
		s.elevated = true
	}

	actor := "unknown"
	if u, err := user.Current(); err == nil {
		actor = u.Username
	}
	audit.append(map[string]any{
		"event":        "enter",
		"actor":        actor,
		"target_group": group,
		"reason":       reason,
		"ts_enter":     s.enteredA.UTC().Format(time.RFC3339Nano),
	})
	return s, nil
}

// GroupGID resolves the numeric gid of a group name, for chgrp on uploaded
// files. Returns -1 when the group is unknown.
func GroupGID(group string) int {
	if group == "" {
		return -1
	}
	grp, err := user.LookupGroup(group)
	if err != nil {
		return -1
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return -1
	}
	return gid
}

// Exit restores the previous effective group and writes the closing audit
// record. A restoration failure aborts the process: continuing while
// elevated is never acceptable.
func (s *Scope) Exit() {
	if s == nil || s.done {
		return
	}
	s.done = true

	if s.elevated {
		if err := unix.Setresgid(-1, s.prevGID, -1); err != nil {
			s.audit.append(map[string]any{
				"event":        "restore_failed",
				"target_group": s.group,
				"error":        err.Error(),
				"ts_exit":      time.Now().UTC().Format(time.RFC3339Nano),
			})
			fmt.Fprintf(os.Stderr, "fatal: could not restore effective group (gid %d): %v\n", s.prevGID, err)
			exitFn(4)
			return
		}
	}

	if s.group != "" {
		s.audit.append(map[string]any{
			"event":        "exit",
			"target_group": s.group,
			"ts_exit":      time.Now().UTC().Format(time.RFC3339Nano),
			"duration_ms":  time.Since(s.enteredA).Milliseconds(),
		})
	}
}

// Elevated reports whether the scope actually switched groups.
func (s *Scope) Elevated() bool { return s.elevated }
