// Package fswatch delivers filesystem change notifications to an actor's
// mailbox as ("fs-changed", path, op) tuples, grounded in the teacher
// runtime's actor_fs.go but trimmed of its vfs.FileSystem abstraction: the
// actor core only needs a path and an op, not a virtual filesystem layer.
package fswatch

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haldane-systems/aetherhub/internal/actor"
)

// Op mirrors fsnotify's operation bitmask so callers matching on the
// delivered tuple don't need to import fsnotify themselves.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

// Tag is the first element of every tuple this package delivers, so a
// receiving actor's actor.Match can dispatch on it directly.
const Tag = "fs-changed"

// ErrorTag is delivered instead of Tag when the underlying watcher itself
// failed, e.g. the watched path was removed out from under it.
const ErrorTag = "fs-error"

func fromFsnotify(op fsnotify.Op) Op {
	var out Op
	if op&fsnotify.Create != 0 {
		out |= OpCreate
	}
	if op&fsnotify.Write != 0 {
		out |= OpWrite
	}
	if op&fsnotify.Remove != 0 {
		out |= OpRemove
	}
	if op&fsnotify.Rename != 0 {
		out |= OpRename
	}
	if op&fsnotify.Chmod != 0 {
		out |= OpChmod
	}
	return out
}

// Watch adds path to a new fsnotify watcher and delivers every event on it
// to target as an (fswatch.Tag, path, Op) tuple, and every watcher error as
// an (fswatch.ErrorTag, error) tuple, rate-limited to one per 200ms so a
// persistently failing watch can't flood the mailbox. The returned stop
// function closes the watcher and waits for its delivery goroutine to exit.
func Watch(ctx context.Context, path string, target actor.Target) (stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var lastErr time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				_ = target.Send(actor.Tuple{Tag, ev.Name, fromFsnotify(ev.Op)})
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				now := time.Now()
				if now.Sub(lastErr) >= 200*time.Millisecond {
					lastErr = now
					_ = target.Send(actor.Tuple{ErrorTag, werr})
				}
			}
		}
	}()

	return func() error {
		err := w.Close()
		<-done
		return err
	}, nil
}
