package display

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/logging"
	"github.com/Iron-Ham/termctl/internal/process"
)

// artifacts locates the files an X server creates for a display number.
type artifacts struct {
	fs        afero.Fs
	socketDir string
	lockDir   string
}

// socketPath returns the unix socket path of display n.
func (a artifacts) socketPath(n int) string {
	return filepath.Join(a.socketDir, fmt.Sprintf("X%d", n))
}

// lockPath returns the server lock file of display n.
func (a artifacts) lockPath(n int) string {
	return filepath.Join(a.lockDir, fmt.Sprintf(".X%d-lock", n))
}

func (a artifacts) exists(path string) bool {
	_, err := a.fs.Stat(path)
	return err == nil
}

// lockOwner returns the pid recorded in display n's lock file.
// ok is false when there is no lock file; pid is 0 when it is unreadable.
func (a artifacts) lockOwner(n int) (pid int, ok bool) {
	data, err := afero.ReadFile(a.fs, a.lockPath(n))
	if err != nil {
		return 0, a.exists(a.lockPath(n))
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, true
	}
	return pid, true
}

// foreign reports whether display n is held by an X server we did not
// start. A lock naming a dead pid is stale and does not count; a socket
// without any lock is treated as taken.
func (a artifacts) foreign(n int) (bool, string) {
	if pid, ok := a.lockOwner(n); ok {
		if pid <= 0 {
			return true, "unreadable lock file"
		}
		if pidAlive(pid) {
			return true, fmt.Sprintf("locked by pid %d", pid)
		}
		return false, ""
	}
	if a.exists(a.socketPath(n)) {
		return true, "socket exists"
	}
	return false, ""
}

// removeStale deletes display n's leftover lock and socket once our server
// with the given pid is confirmed dead. A bare socket is always removed; a
// lock naming another live process is left alone together with its socket.
func (a artifacts) removeStale(n, pid int) {
	owner, locked := a.lockOwner(n)
	if locked && owner > 0 && owner != pid && pidAlive(owner) {
		return
	}
	if locked {
		_ = a.fs.Remove(a.lockPath(n))
	}
	_ = a.fs.Remove(a.socketPath(n))
}

// pidAlive reports whether a process with this pid exists.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// readiness waits for a display's socket to appear.
type readiness struct {
	artifacts
	pollInterval time.Duration
	logger       *logging.Logger
}

// errServerExited is returned by wait when the server died before listening.
var errServerExited = errors.New("display server exited before listening")

// wait blocks until the socket of display n exists, the server exits, or
// ctx is done. Filesystem events make detection immediate; polling covers
// filesystems without notification support.
func (r readiness) wait(ctx context.Context, n int, server *process.Handle) error {
	socket := r.socketPath(n)

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(r.socketDir); err == nil {
			events = watcher.Events
			watchErrs = watcher.Errors
		} else {
			r.logger.Debug("socket dir not watchable, polling only",
				"dir", r.socketDir, "error", err.Error())
		}
	}

	if r.exists(socket) {
		return nil
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == socket && ev.Op&fsnotify.Create != 0 {
				return nil
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			r.logger.Debug("socket watcher error", "error", err.Error())
		case <-ticker.C:
			if r.exists(socket) {
				return nil
			}
		case <-server.Done():
			// The socket may have appeared just before a crash; either way
			// a dead server is not ready.
			return errServerExited
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
