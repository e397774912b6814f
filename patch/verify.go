// Package patch implements the verify/apply/rollback state machines and
// blob garbage collector.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/socketdev/socket-patch/githash"
	"github.com/socketdev/socket-patch/manifest"
	"github.com/socketdev/socket-patch/patcherr"
)

// Status is the outcome of comparing a file's current hash against its
// expected before/after pair.
type Status string

const (
	StatusNotFound       Status = "not-found"
	StatusAlreadyPatched Status = "already-patched"
	StatusReady          Status = "ready"
	StatusHashMismatch   Status = "hash-mismatch"

	// Rollback-only statuses; semantically already-patched
	// and ready swap meaning but are named distinctly to avoid confusion
	// about which direction a caller is driving.
	StatusAlreadyOriginal Status = "already-original"
	StatusReadyToRollback Status = "ready-to-rollback"
)

// VerifyResult is the outcome of verifying one file against a FileEntry.
type VerifyResult struct {
	Path        string
	Status      Status
	CurrentHash githash.Hash
}

// TargetPath strips a leading "package/" segment from filePath and joins
// it with packagePath; callers must apply this normalization before any
// read or write.
func TargetPath(packagePath, filePath string) string {
	rel := strings.TrimPrefix(filePath, "package/")
	return filepath.Join(packagePath, rel)
}

// VerifyFilePatch hashes the file at TargetPath(packagePath, filePath) and
// classifies it against entry's before/after hashes for the apply
// direction.
func VerifyFilePatch(packagePath, filePath string, entry manifest.FileEntry) (VerifyResult, error) {
	full := TargetPath(packagePath, filePath)
	status, hash, err := classify(full, entry.BeforeHash, entry.AfterHash)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Path: filePath, Status: status, CurrentHash: hash}, nil
}

// VerifyFileRollback is the rollback-direction counterpart: "ready" means
// ready-to-rollback (current hash = afterHash), "already-patched" means
// already-original (current hash = beforeHash).
func VerifyFileRollback(packagePath, filePath string, entry manifest.FileEntry) (VerifyResult, error) {
	full := TargetPath(packagePath, filePath)
	status, hash, err := classify(full, entry.AfterHash, entry.BeforeHash)
	if err != nil {
		return VerifyResult{}, err
	}
	switch status {
	case StatusReady:
		status = StatusReadyToRollback
	case StatusAlreadyPatched:
		status = StatusAlreadyOriginal
	}
	return VerifyResult{Path: filePath, Status: status, CurrentHash: hash}, nil
}

// classify hashes full and compares against readyHash (the value that
// means "proceed") and noopHash (the value that means "already done").
func classify(full string, readyHash, noopHash githash.Hash) (Status, githash.Hash, error) {
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return StatusNotFound, "", nil
	}
	if err != nil {
		return "", "", patcherr.Wrap(patcherr.ErrorCodeFileNotFound, err, "reading %s", full)
	}

	current := githash.SumBytes(data)
	switch current {
	case noopHash:
		return StatusAlreadyPatched, current, nil
	case readyHash:
		return StatusReady, current, nil
	default:
		return StatusHashMismatch, current, nil
	}
}

// verifyErr builds the standard HashMismatch/FileNotFound error for a
// failed verification in the apply driver; the rollback driver uses
// rollbackVerifyErr instead.
func verifyErr(res VerifyResult) error {
	switch res.Status {
	case StatusNotFound:
		return patcherr.New(patcherr.ErrorCodeFileNotFound, "%s", res.Path)
	case StatusHashMismatch:
		return patcherr.New(patcherr.ErrorCodeHashMismatch, "%s: current hash %s matches neither expected hash", res.Path, res.CurrentHash)
	default:
		return fmt.Errorf("patch: unexpected verify status %q for %s", res.Status, res.Path)
	}
}
