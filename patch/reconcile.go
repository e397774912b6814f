package patch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/socketdev/socket-patch/githash"
	"github.com/socketdev/socket-patch/internal/dcontext"
	"github.com/socketdev/socket-patch/patcherr"
)

// DefaultFetchConcurrency is the default cap on concurrent Fetcher calls.
const DefaultFetchConcurrency = 10

// reconcileMissing ensures every hash in want is present in store, fetching
// whatever is absent through fetcher with bounded fan-out. If offline is
// true and anything is missing, it fails immediately enumerating the
// missing hashes without calling fetcher at all.
func reconcileMissing(ctx context.Context, store blobSource, fetcher Fetcher, want []githash.Hash, offline bool, maxConcurrency int) error {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultFetchConcurrency
	}

	var missing []githash.Hash
	for _, h := range want {
		ok, err := store.Exists(h)
		if err != nil {
			return fmt.Errorf("patch: checking blob %s: %w", h, err)
		}
		if !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if offline {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return patcherr.New(patcherr.ErrorCodeBlobMissing, "offline, missing blobs: %v", hashStrings(missing))
	}
	if fetcher == nil {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return patcherr.New(patcherr.ErrorCodeBlobMissing, "no fetcher configured, missing blobs: %v", hashStrings(missing))
	}

	log := dcontext.GetLogger(ctx)
	sem := semaphore.NewWeighted(int64(maxConcurrency))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var stillMissing []githash.Hash

	for _, h := range missing {
		h := h
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			content, err := fetcher.FetchBlob(gctx, h)
			if err != nil {
				return fmt.Errorf("patch: fetching blob %s: %w", h, err)
			}
			if content == nil {
				mu.Lock()
				stillMissing = append(stillMissing, h)
				mu.Unlock()
				return nil
			}
			if err := store.Put(gctx, h, content); err != nil {
				return fmt.Errorf("patch: storing fetched blob %s: %w", h, err)
			}
			log.WithField("hash", h).Debug("patch: fetched missing blob")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if len(stillMissing) > 0 {
		sort.Slice(stillMissing, func(i, j int) bool { return stillMissing[i] < stillMissing[j] })
		return patcherr.New(patcherr.ErrorCodeBlobMissing, "fetcher returned nothing for: %v", hashStrings(stillMissing))
	}
	return nil
}

func hashStrings(hashes []githash.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = string(h)
	}
	return out
}
