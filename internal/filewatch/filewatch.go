// Package filewatch cancels a context when watched files change on disk.
// The serve command uses it to restart the daemon when the manifest is
// edited.
package filewatch

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// changeOps are the operations treated as a content change. Chmod fires on
// permission-only touches, which are not worth a restart.
const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// UntilChange returns a context that is cancelled once any of the given
// files changes. The cancellation cause names the file and operation; the
// returned stop function releases the watcher without signalling a change.
func UntilChange(ctx context.Context, paths ...string) (context.Context, func(), error) {
	cctx, cancel := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return nil, nil, err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&changeOps == 0 {
					continue
				}
				cancel(fmt.Errorf("%s changed (%s)", ev.Name, ev.Op))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(err)
			}
		}
	}()

	for _, p := range paths {
		if err := w.Add(p); err != nil {
			cancel(err)
			return nil, nil, err
		}
	}
	return cctx, func() { cancel(nil) }, nil
}
