package patch

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/socketdev/socket-patch/blobstore"
	"github.com/socketdev/socket-patch/internal/dcontext"
	"github.com/socketdev/socket-patch/manifest"
)

// Rollbacker is returned by ApplyOneOff: calling it rolls the package
// back to its original state and removes the ephemeral blob directory.
// On the success path the directory stays until it is called; when
// ApplyOneOff itself fails, it removes the directory before returning.
type Rollbacker func(ctx context.Context) error

// ApplyOneOff stores both before and after blobs in a fresh temporary
// directory, applies the package, and returns a closure that reverses it.
// No manifest mutation and no persistent state: this mode exists for
// preview/verification flows that shouldn't touch `.socket/`.
// beforeContent and afterContent are keyed by the same paths as in.Files.
func ApplyOneOff(ctx context.Context, in ApplyInput, beforeContent, afterContent map[string][]byte) (ApplyResult, Rollbacker, error) {
	tmpDir, err := os.MkdirTemp("", "socket-patch-oneoff-*")
	if err != nil {
		return ApplyResult{}, nil, fmt.Errorf("patch: oneoff: mkdtemp: %w", err)
	}

	store, err := blobstore.New(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return ApplyResult{}, nil, fmt.Errorf("patch: oneoff: new blob store: %w", err)
	}

	for path, entry := range in.Files {
		before, ok := beforeContent[path]
		if !ok {
			os.RemoveAll(tmpDir)
			return ApplyResult{}, nil, fmt.Errorf("patch: oneoff: no before-content supplied for %s", path)
		}
		if err := store.Put(ctx, entry.BeforeHash, before); err != nil {
			os.RemoveAll(tmpDir)
			return ApplyResult{}, nil, fmt.Errorf("patch: oneoff: storing before blob: %w", err)
		}

		after, ok := afterContent[path]
		if !ok {
			os.RemoveAll(tmpDir)
			return ApplyResult{}, nil, fmt.Errorf("patch: oneoff: no after-content supplied for %s", path)
		}
		if err := store.Put(ctx, entry.AfterHash, after); err != nil {
			os.RemoveAll(tmpDir)
			return ApplyResult{}, nil, fmt.Errorf("patch: oneoff: storing after blob: %w", err)
		}
	}

	d := Driver{Store: store, Offline: true}
	result, err := d.ApplyPackage(ctx, in)
	if err != nil {
		os.RemoveAll(tmpDir)
		return result, nil, err
	}

	watcher, watchErr := watchTempDir(ctx, tmpDir)
	if watchErr != nil {
		dcontext.GetLogger(ctx).WithError(watchErr).Debug("patch: oneoff proceeding without fsnotify watch")
	}

	cleanup := func(ctx context.Context) error {
		ctx = dcontext.Detached(ctx)
		if watcher != nil {
			watcher.Close()
		}
		files := make(map[string]manifest.FileEntry, len(in.Files))
		for path, fe := range in.Files {
			files[path] = fe
		}
		_, rbErr := d.RollbackPackage(ctx, RollbackInput{
			PURL:        in.PURL,
			PackagePath: in.PackagePath,
			Files:       files,
		})
		rmErr := os.RemoveAll(tmpDir)
		if rbErr != nil {
			return rbErr
		}
		return rmErr
	}

	return result, cleanup, nil
}

// watchTempDir is a narrow, optional use of fsnotify: the ephemeral blob
// directory is watched so an external deletion of a blob underneath the
// rollback closure's feet surfaces as a logged warning rather than a
// silent BlobMissing at rollback time. Not load-bearing — see DESIGN.md.
func watchTempDir(ctx context.Context, dir string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("patch: oneoff: fsnotify: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("patch: oneoff: watch %s: %w", dir, err)
	}

	log := dcontext.GetLogger(ctx)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Remove != 0 {
					log.WithField("path", event.Name).Warn("patch: oneoff blob removed out from under the ephemeral store")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("patch: oneoff fsnotify error")
			case <-ctx.Done():
				return
			}
		}
	}()
	return watcher, nil
}
