// Package npm implements crawler.Crawler for node_modules trees.
package npm

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/socketdev/socket-patch/crawler"
	"github.com/socketdev/socket-patch/internal/dcontext"
	"github.com/socketdev/socket-patch/purl"
)

// prunedDirs are build-output and VCS directories never worth descending
// into while looking for workspace node_modules trees.
var prunedDirs = map[string]bool{
	"node_modules": true, // handled separately via explicit node_modules walk
	"dist":         true,
	"build":        true,
	"coverage":     true,
	"tmp":          true,
	"temp":         true,
	"__pycache__":  true,
	"vendor":       true,
}

// Crawler is the npm ecosystem implementation of crawler.Crawler.
type Crawler struct{}

// New returns an npm Crawler.
func New() *Crawler {
	return &Crawler{}
}

var _ crawler.Crawler = (*Crawler)(nil)

// SearchRoots implements crawler.Crawler.
func (c *Crawler) SearchRoots(ctx context.Context, opts crawler.Options) ([]string, error) {
	if opts.Global {
		return globalRoots(ctx, opts)
	}
	return localRoots(opts.Cwd)
}

// localRoots finds the cwd's direct node_modules plus any workspace
// node_modules reachable by recursing into subdirectories, pruning hidden
// directories, node_modules itself, and common build outputs.
func localRoots(cwd string) ([]string, error) {
	var roots []string
	direct := filepath.Join(cwd, "node_modules")
	if isDir(direct) {
		roots = append(roots, direct)
	}

	err := filepath.WalkDir(cwd, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		if path == cwd || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		if name == "node_modules" {
			roots = append(roots, path)
			return filepath.SkipDir
		}
		if prunedDirs[name] {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dedupStrings(roots), nil
}

// globalRoots queries npm, pnpm, and yarn for their global install
// directories, combining whatever succeeds. A probe failing (binary
// absent, non-global setup) is not fatal to the others.
func globalRoots(ctx context.Context, opts crawler.Options) ([]string, error) {
	if opts.GlobalPrefix != "" {
		return []string{opts.GlobalPrefix}, nil
	}

	log := dcontext.GetLogger(ctx)
	var roots []string

	if out, err := exec.CommandContext(ctx, "npm", "root", "-g").Output(); err == nil {
		roots = append(roots, strings.TrimSpace(string(out)))
	} else {
		log.WithError(err).Debug("npm: npm root -g probe failed")
	}

	if out, err := exec.CommandContext(ctx, "pnpm", "root", "-g").Output(); err == nil {
		roots = append(roots, strings.TrimSpace(string(out)))
	} else {
		log.WithError(err).Debug("npm: pnpm root -g probe failed")
	}

	if out, err := exec.CommandContext(ctx, "yarn", "global", "dir").Output(); err == nil {
		roots = append(roots, filepath.Join(strings.TrimSpace(string(out)), "node_modules"))
	} else {
		log.WithError(err).Debug("npm: yarn global dir probe failed")
	}

	return dedupStrings(roots), nil
}

// packageJSON is the subset of fields the crawler reads.
type packageJSON struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CrawlAll implements crawler.Crawler.
func (c *Crawler) CrawlAll(ctx context.Context, opts crawler.Options) ([]crawler.Package, error) {
	var all []crawler.Package
	err := c.CrawlBatches(ctx, opts, func(batch []crawler.Package) error {
		all = append(all, batch...)
		return nil
	})
	return all, err
}

// CrawlBatches implements crawler.Crawler.
func (c *Crawler) CrawlBatches(ctx context.Context, opts crawler.Options, emit func([]crawler.Package) error) error {
	roots, err := c.SearchRoots(ctx, opts)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	var batch []crawler.Package
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = crawler.DefaultBatchSize
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := emit(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, root := range roots {
		if err := walkNodeModules(root, true, func(pkg crawler.Package) error {
			if seen[pkg.PURL] {
				return nil
			}
			seen[pkg.PURL] = true
			batch = append(batch, pkg)
			if len(batch) >= batchSize {
				return flush()
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return flush()
}

// walkNodeModules enumerates root's entries, recursing into @scope
// directories. allowNested controls whether real (non-symlink) package
// directories are recursed into for their own nested node_modules —
// pnpm-managed symlinks never are.
func walkNodeModules(root string, allowNested bool, visit func(crawler.Package) error) error {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(root, name)

		if strings.HasPrefix(name, "@") {
			if err := walkScope(full, allowNested, visit); err != nil {
				return err
			}
			continue
		}

		if err := visitCandidate(full, allowNested, visit); err != nil {
			return err
		}
	}
	return nil
}

func walkScope(scopeDir string, allowNested bool, visit func(crawler.Package) error) error {
	entries, err := os.ReadDir(scopeDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := visitCandidate(filepath.Join(scopeDir, e.Name()), allowNested, visit); err != nil {
			return err
		}
	}
	return nil
}

func visitCandidate(dir string, allowNested bool, visit func(crawler.Package) error) error {
	fi, err := os.Lstat(dir)
	if err != nil {
		return nil
	}
	isSymlink := fi.Mode()&os.ModeSymlink != 0
	if !fi.IsDir() && !isSymlink {
		return nil
	}

	pj, ok := readPackageJSON(dir)
	if ok {
		scope := scopeOf(dir)
		p := crawler.Package{
			PURL:      buildPURL(scope, pj.Name, pj.Version),
			Path:      dir,
			Name:      pj.Name,
			Version:   pj.Version,
			Namespace: scope,
		}
		if err := visit(p); err != nil {
			return err
		}
	}

	// Real directories may contain their own nested node_modules
	// (transitive deps); symlinks (pnpm) never do — pnpm manages
	// transitive deps elsewhere.
	if allowNested && !isSymlink {
		nested := filepath.Join(dir, "node_modules")
		if isDir(nested) {
			if err := walkNodeModules(nested, true, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func readPackageJSON(dir string) (packageJSON, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return packageJSON{}, false
	}
	var pj packageJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return packageJSON{}, false
	}
	if pj.Name == "" || pj.Version == "" {
		return packageJSON{}, false
	}
	return pj, true
}

func scopeOf(dir string) string {
	parent := filepath.Base(filepath.Dir(dir))
	if strings.HasPrefix(parent, "@") {
		return parent
	}
	return ""
}

// buildPURL forms the canonical PURL for a package. name is package.json's
// "name" field, which for scoped packages already reads "@scope/pkg" — bare
// it before handing it to purl.PURL, which re-adds the scope via Namespace.
func buildPURL(scope, name, version string) string {
	return (purl.PURL{Ecosystem: purl.NPM, Name: bareName(name), Namespace: scope, Version: version}).String()
}

func bareName(name string) string {
	if idx := strings.Index(name, "/"); idx >= 0 && strings.HasPrefix(name, "@") {
		return name[idx+1:]
	}
	return name
}

// FindByPurls implements crawler.Crawler's targeted lookup.
func (c *Crawler) FindByPurls(ctx context.Context, root string, purls []string) (map[string]crawler.Package, error) {
	result := map[string]crawler.Package{}
	for _, raw := range purls {
		p, err := purl.Parse(raw)
		if err != nil || p.Ecosystem != purl.NPM {
			continue
		}

		dir := filepath.Join(root, p.Name)
		if p.Namespace != "" {
			dir = filepath.Join(root, p.Namespace, p.Name)
		}

		pj, ok := readPackageJSON(dir)
		if !ok || pj.Version != p.Version {
			continue
		}
		result[raw] = crawler.Package{
			PURL:      raw,
			Path:      dir,
			Name:      pj.Name,
			Version:   pj.Version,
			Namespace: p.Namespace,
		}
	}
	return result, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
