// Package crawler defines the ecosystem-agnostic surface the patch
// engine uses to locate installed packages on disk. The
// npm and pypi subpackages implement it.
package crawler

import "context"

// DefaultBatchSize is the lazy-emission batch size CrawlBatches uses when
// the caller doesn't specify one.
const DefaultBatchSize = 100

// Package is one installed package a crawler found: its resolved
// directory, name, version, and (npm-only) scope.
type Package struct {
	PURL      string
	Path      string
	Name      string
	Version   string
	Namespace string
}

// Options configures a crawl.
type Options struct {
	// Cwd is the working directory a local crawl starts from.
	Cwd string
	// Global, when true, scans system/user-global package roots instead
	// of Cwd-relative ones.
	Global bool
	// GlobalPrefix overrides auto-detection of the global root.
	GlobalPrefix string
	// BatchSize controls CrawlBatches emission size; DefaultBatchSize if zero.
	BatchSize int
}

func (o Options) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

// Crawler is implemented once per ecosystem (npm, pypi); the engine never
// branches on which one it's holding.
type Crawler interface {
	// SearchRoots returns every directory this crawl should walk.
	SearchRoots(ctx context.Context, opts Options) ([]string, error)

	// CrawlAll walks every search root and returns every package found,
	// deduplicated by PURL (first win).
	CrawlAll(ctx context.Context, opts Options) ([]Package, error)

	// CrawlBatches is the lazy form of CrawlAll: packages are delivered to
	// emit in groups of opts.BatchSize (or DefaultBatchSize) as they're
	// discovered, instead of materializing the whole result up front. A
	// non-nil error from emit aborts the crawl.
	CrawlBatches(ctx context.Context, opts Options, emit func([]Package) error) error

	// FindByPurls resolves a specific set of PURLs against root, returning
	// only the ones actually found there.
	FindByPurls(ctx context.Context, root string, purls []string) (map[string]Package, error)
}
