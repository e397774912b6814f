package patch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/socketdev/socket-patch/githash"
	"github.com/socketdev/socket-patch/internal/dcontext"
	"github.com/socketdev/socket-patch/manifest"
	"github.com/socketdev/socket-patch/patcherr"
)

// ApplyInput is one package's worth of apply parameters.
type ApplyInput struct {
	PURL        string
	PackagePath string
	Files       map[string]manifest.FileEntry
	DryRun      bool
}

// ApplyResult reports what apply found and did, in deterministic
// (sorted-key) file order.
type ApplyResult struct {
	PURL          string
	Verifications []VerifyResult
	FilesPatched  []string
}

// Driver bundles the blob store and fetcher an apply/rollback/GC call
// needs, plus the concurrency and offline knobs from config.
type Driver struct {
	Store          blobSource
	Fetcher        Fetcher
	Offline        bool
	MaxConcurrency int
}

// ApplyPackage runs the apply state machine for one package: verify every
// file, fail fast on any not-found/hash-mismatch, fetch missing afterHash
// blobs, then write and re-verify.
func (d Driver) ApplyPackage(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	log := dcontext.GetLogger(ctx).WithField("purl", in.PURL)

	paths := sortedKeys(in.Files)
	verifications := make([]VerifyResult, 0, len(paths))
	for _, path := range paths {
		res, err := VerifyFilePatch(in.PackagePath, path, in.Files[path])
		if err != nil {
			return ApplyResult{}, err
		}
		verifications = append(verifications, res)
		if res.Status == StatusNotFound || res.Status == StatusHashMismatch {
			return ApplyResult{PURL: in.PURL, Verifications: verifications}, verifyErr(res)
		}
	}

	result := ApplyResult{PURL: in.PURL, Verifications: verifications}

	pending := pendingFiles(paths, verifications)
	if len(pending) == 0 {
		log.Debug("patch: apply no-op, all files already patched")
		return result, nil
	}
	if in.DryRun {
		log.Debug("patch: dry-run apply, skipping mutation")
		return result, nil
	}

	afterHashes := make([]githash.Hash, 0, len(pending))
	for _, path := range pending {
		afterHashes = append(afterHashes, in.Files[path].AfterHash)
	}
	if err := reconcileMissing(ctx, d.Store, d.Fetcher, afterHashes, d.Offline, d.MaxConcurrency); err != nil {
		return result, err
	}

	var patched []string
	for _, path := range pending {
		entry := in.Files[path]
		if err := writeBlobAtomically(d.Store, in.PackagePath, path, entry.AfterHash); err != nil {
			return result, err
		}
		patched = append(patched, path)
	}
	result.FilesPatched = patched
	log.WithField("files", patched).Info("patch: apply complete")
	return result, nil
}

// pendingFiles returns the subset of paths whose verification was "ready"
// (not already-patched), preserving input order.
func pendingFiles(paths []string, verifications []VerifyResult) []string {
	var pending []string
	for i, path := range paths {
		if verifications[i].Status == StatusReady {
			pending = append(pending, path)
		}
	}
	return pending
}

// writeBlobAtomically reads the expected blob, writes it to the resolved
// target path via write-temp-then-rename, and re-hashes the result,
// failing loudly on any post-write mismatch.
func writeBlobAtomically(store blobSource, packagePath, filePath string, expected githash.Hash) error {
	content, err := store.Get(expected)
	if err != nil {
		return fmt.Errorf("patch: reading blob %s: %w", expected, err)
	}
	if content == nil {
		return patcherr.New(patcherr.ErrorCodeBlobMissing, "%s", expected)
	}

	target := TargetPath(packagePath, filePath)
	if err := verifyWithinRoot(packagePath, target); err != nil {
		return err
	}

	tmp := target + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("patch: write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("patch: rename %s: %w", target, err)
	}

	written, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("patch: re-reading %s: %w", target, err)
	}
	if githash.SumBytes(written) != expected {
		return patcherr.New(patcherr.ErrorCodePostWriteHashMismatch, "%s: expected %s", target, expected)
	}
	return nil
}

// verifyWithinRoot resolves symlinks on target's parent directory and
// rejects anything that escapes root, defending against a symlink
// planted inside the package directory redirecting a write elsewhere.
func verifyWithinRoot(root, target string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("patch: resolving root %s: %w", root, err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("patch: resolving symlinks under %s: %w", absRoot, err)
	}

	parent := filepath.Dir(target)
	resolvedParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		if os.IsNotExist(err) {
			resolvedParent = parent
		} else {
			return fmt.Errorf("patch: resolving symlinks under %s: %w", parent, err)
		}
	}

	rel, err := filepath.Rel(resolvedRoot, resolvedParent)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return patcherr.New(patcherr.ErrorCodeUnsafePath, "%s resolves outside %s", target, root)
	}
	return nil
}

func sortedKeys(files map[string]manifest.FileEntry) []string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
