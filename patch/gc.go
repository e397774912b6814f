package patch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/socketdev/socket-patch/blobstore"
	"github.com/socketdev/socket-patch/githash"
	"github.com/socketdev/socket-patch/internal/dcontext"
	"github.com/socketdev/socket-patch/manifest"
)

// GCOpts controls one garbage-collection pass.
type GCOpts struct {
	DryRun         bool
	MaxConcurrency int
}

// GCResult reports what GC found eligible for deletion (and, unless
// DryRun, actually deleted) — both the count and which blobs, not just
// a total.
type GCResult struct {
	Freed      []githash.Hash
	BytesFreed int64
}

// RunGC computes used = the union of every manifest patch's afterHash
// values. beforeHash is deliberately excluded: rollback fetches a
// before-blob on demand if it's gone, so retaining it here would keep
// every ever-applied patch's original bytes alive forever. RunGC then
// deletes every store blob not in that set. Dotfiles and directories
// already never appear in Store.List.
func RunGC(ctx context.Context, store *blobstore.Store, m *manifest.Manifest, opts GCOpts) (GCResult, error) {
	log := dcontext.GetLogger(ctx)

	used := make(map[githash.Hash]struct{})
	for _, rec := range m.Patches {
		for _, fe := range rec.Files {
			used[fe.AfterHash] = struct{}{}
		}
	}

	all, err := store.List()
	if err != nil {
		return GCResult{}, fmt.Errorf("patch: gc: listing blobs: %w", err)
	}

	var candidates []githash.Hash
	for _, h := range all {
		if _, keep := used[h]; !keep {
			candidates = append(candidates, h)
		}
	}

	if opts.DryRun {
		var bytesFreed int64
		for _, h := range candidates {
			if sz, err := store.Size(h); err == nil {
				bytesFreed += sz
			}
		}
		log.WithField("candidates", len(candidates)).Debug("patch: gc dry-run")
		return GCResult{Freed: candidates, BytesFreed: bytesFreed}, nil
	}

	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultFetchConcurrency
	}

	var freedMu sync.Mutex
	var freed []githash.Hash
	var bytesFreed int64

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, h := range candidates {
		h := h
		g.Go(func() error {
			sz, _ := store.Size(h)
			if err := store.Delete(h); err != nil {
				return fmt.Errorf("patch: gc: deleting %s: %w", h, err)
			}
			freedMu.Lock()
			freed = append(freed, h)
			bytesFreed += sz
			freedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return GCResult{Freed: freed, BytesFreed: bytesFreed}, err
	}

	log.WithField("freed", len(freed)).WithField("bytesFreed", bytesFreed).Info("patch: gc complete")
	return GCResult{Freed: freed, BytesFreed: bytesFreed}, nil
}
