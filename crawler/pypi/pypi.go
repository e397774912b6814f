// Package pypi implements crawler.Crawler for Python site-packages trees,
// using the same directory-walk/prune pattern as crawler/npm, adapted to
// .dist-info metadata instead of package.json.
package pypi

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/socketdev/socket-patch/crawler"
	"github.com/socketdev/socket-patch/internal/dcontext"
	"github.com/socketdev/socket-patch/purl"
)

// Crawler is the PyPI ecosystem implementation of crawler.Crawler.
type Crawler struct{}

// New returns a PyPI Crawler.
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

func localRoots(cwd string) ([]string, error) {
	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		if root, ok := sitePackagesUnder(venv); ok {
			return []string{root}, nil
		}
	}

	var roots []string
	for _, name := range []string{".venv", "venv"} {
		if root, ok := sitePackagesUnder(filepath.Join(cwd, name)); ok {
			roots = append(roots, root)
		}
	}
	return dedupPaths(roots), nil
}

// sitePackagesUnder resolves a virtualenv root to its site-packages
// directory: lib/python3.*/site-packages on Unix, Lib/site-packages on
// Windows.
func sitePackagesUnder(venvRoot string) (string, bool) {
	if runtime.GOOS == "windows" {
		p := filepath.Join(venvRoot, "Lib", "site-packages")
		return p, isDir(p)
	}

	libDir := filepath.Join(venvRoot, "lib")
	entries, err := os.ReadDir(libDir)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "python3.") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	p := filepath.Join(libDir, names[len(names)-1], "site-packages")
	return p, isDir(p)
}

// globalRoots asks the running interpreter for its system and user
// site-packages directories, plus well-known distro/vendor paths.
// Any probe failing is non-fatal to the rest.
func globalRoots(ctx context.Context, opts crawler.Options) ([]string, error) {
	if opts.GlobalPrefix != "" {
		return []string{opts.GlobalPrefix}, nil
	}

	log := dcontext.GetLogger(ctx)
	var roots []string

	const script = `import site, sys
for p in site.getsitepackages():
    print(p)
try:
    print(site.getusersitepackages())
except Exception:
    pass
`
	if out, err := exec.CommandContext(ctx, "python3", "-c", script).Output(); err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(out)))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				roots = append(roots, line)
			}
		}
	} else {
		log.WithError(err).Debug("pypi: python3 site-packages probe failed")
	}

	roots = append(roots, wellKnownRoots()...)

	resolved := make([]string, 0, len(roots))
	for _, r := range roots {
		if isDir(r) {
			resolved = append(resolved, r)
		}
	}
	return dedupPaths(resolved), nil
}

// wellKnownRoots lists OS- and tool-specific site-packages locations that
// site.getsitepackages() can miss: Debian's dist-packages split, macOS
// framework and Homebrew installs, Conda environments, and uv's tool
// install directories.
func wellKnownRoots() []string {
	home, _ := os.UserHomeDir()
	var roots []string

	switch runtime.GOOS {
	case "linux":
		roots = append(roots,
			"/usr/lib/python3/dist-packages",
			"/usr/local/lib/python3/dist-packages",
		)
	case "darwin":
		roots = append(roots,
			"/Library/Frameworks/Python.framework/Versions/Current/lib/site-packages",
			"/opt/homebrew/lib/python3/site-packages",
			"/usr/local/lib/python3/site-packages",
		)
	}

	if home != "" {
		roots = append(roots,
			filepath.Join(home, "miniconda3", "lib", "site-packages"),
			filepath.Join(home, "anaconda3", "lib", "site-packages"),
			filepath.Join(home, ".local", "share", "uv", "tools"),
		)
	}
	if condaPrefix := os.Getenv("CONDA_PREFIX"); condaPrefix != "" {
		if root, ok := sitePackagesUnder(condaPrefix); ok {
			roots = append(roots, root)
		}
	}
	return roots
}

// canonCollapse matches runs of '-', '_', or '.' for PEP 503 canonicalization.
var canonCollapse = regexp.MustCompile(`[-_.]+`)

// Canonicalize implements PEP 503 name canonicalization: lowercase, then
// collapse runs of [-_.] into a single '-'.
func Canonicalize(name string) string {
	return canonCollapse.ReplaceAllString(strings.ToLower(name), "-")
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
		pkgs, err := walkSitePackages(root)
		if err != nil {
			return err
		}
		for _, pkg := range pkgs {
			if seen[pkg.PURL] {
				continue
			}
			seen[pkg.PURL] = true
			batch = append(batch, pkg)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

// walkSitePackages enumerates root's *.dist-info directories and parses
// their METADATA file. The reported package path is root itself — PyPI
// installs spray files across the whole site-packages tree, not one
// subdirectory per package.
func walkSitePackages(root string) ([]crawler.Package, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var pkgs []crawler.Package
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".dist-info") {
			continue
		}
		meta, ok := readMetadata(filepath.Join(root, e.Name()))
		if !ok {
			continue
		}
		pkgs = append(pkgs, crawler.Package{
			PURL:    buildPURL(meta.name, meta.version),
			Path:    root,
			Name:    Canonicalize(meta.name),
			Version: meta.version,
		})
	}
	return pkgs, nil
}

type distMetadata struct {
	name    string
	version string
}

// readMetadata parses a dist-info/METADATA file's RFC 822-style headers,
// accepting any header order and requiring Name and Version.
func readMetadata(distInfoDir string) (distMetadata, bool) {
	f, err := os.Open(filepath.Join(distInfoDir, "METADATA"))
	if err != nil {
		return distMetadata{}, false
	}
	defer f.Close()

	var meta distMetadata
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break // blank line ends the header block; body follows
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Name":
			meta.name = strings.TrimSpace(value)
		case "Version":
			meta.version = strings.TrimSpace(value)
		}
	}
	if meta.name == "" || meta.version == "" {
		return distMetadata{}, false
	}
	return meta, true
}

func buildPURL(name, version string) string {
	return (purl.PURL{Ecosystem: purl.PyPI, Name: Canonicalize(name), Version: version}).String()
}

// FindByPurls implements crawler.Crawler's targeted lookup: qualifiers
// are stripped before matching, then dist-info directories are matched
// in a single pass against a canonical-name@version table.
func (c *Crawler) FindByPurls(ctx context.Context, root string, purls []string) (map[string]crawler.Package, error) {
	wanted := map[string]string{} // "canon-name@version" -> original PURL string
	for _, raw := range purls {
		p, err := purl.Parse(raw)
		if err != nil || p.Ecosystem != purl.PyPI {
			continue
		}
		base := p.Base()
		wanted[Canonicalize(base.Name)+"@"+base.Version] = raw
	}
	if len(wanted) == 0 {
		return map[string]crawler.Package{}, nil
	}

	pkgs, err := walkSitePackages(root)
	if err != nil {
		return nil, err
	}

	result := map[string]crawler.Package{}
	for _, pkg := range pkgs {
		key := pkg.Name + "@" + pkg.Version
		if raw, ok := wanted[key]; ok {
			result[raw] = pkg
		}
	}
	return result, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func dedupPaths(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		resolved := s
		if abs, err := filepath.Abs(s); err == nil {
			resolved = abs
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true
		out = append(out, s)
	}
	return out
}
