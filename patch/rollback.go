package patch

import (
	"context"
	"errors"

	"github.com/socketdev/socket-patch/githash"
	"github.com/socketdev/socket-patch/internal/dcontext"
	"github.com/socketdev/socket-patch/manifest"
	"github.com/socketdev/socket-patch/patcherr"
	"github.com/socketdev/socket-patch/purl"
)

// RollbackInput mirrors ApplyInput for the reverse direction.
type RollbackInput struct {
	PURL        string
	PackagePath string
	Files       map[string]manifest.FileEntry
	DryRun      bool
}

// RollbackResult mirrors ApplyResult.
type RollbackResult struct {
	PURL            string
	Verifications   []VerifyResult
	FilesRolledBack []string
}

// RollbackPackage runs the rollback state machine for one package,
// symmetric to ApplyPackage: a before-blob absent from the store triggers
// a fetch unless the driver is Offline or has no Fetcher, in which case it
// is BlobMissing at once; a nil fetch result is BlobMissing too, never a
// silent "treat as already-original".
func (d Driver) RollbackPackage(ctx context.Context, in RollbackInput) (RollbackResult, error) {
	log := dcontext.GetLogger(ctx).WithField("purl", in.PURL)

	paths := sortedKeys(in.Files)
	verifications := make([]VerifyResult, 0, len(paths))
	for _, path := range paths {
		res, err := VerifyFileRollback(in.PackagePath, path, in.Files[path])
		if err != nil {
			return RollbackResult{}, err
		}
		verifications = append(verifications, res)
		if res.Status == StatusNotFound || res.Status == StatusHashMismatch {
			return RollbackResult{PURL: in.PURL, Verifications: verifications}, rollbackVerifyErr(res)
		}
	}

	result := RollbackResult{PURL: in.PURL, Verifications: verifications}

	pending := pendingRollbackFiles(paths, verifications)
	if len(pending) == 0 {
		log.Debug("patch: rollback no-op, all files already original")
		return result, nil
	}
	if in.DryRun {
		log.Debug("patch: dry-run rollback, skipping mutation")
		return result, nil
	}

	beforeHashes := make([]githash.Hash, 0, len(pending))
	for _, path := range pending {
		beforeHashes = append(beforeHashes, in.Files[path].BeforeHash)
	}
	if err := reconcileMissing(ctx, d.Store, d.Fetcher, beforeHashes, d.Offline, d.MaxConcurrency); err != nil {
		return result, err
	}

	var rolledBack []string
	for _, path := range pending {
		entry := in.Files[path]
		if err := writeBlobAtomically(d.Store, in.PackagePath, path, entry.BeforeHash); err != nil {
			return result, err
		}
		rolledBack = append(rolledBack, path)
	}
	result.FilesRolledBack = rolledBack
	log.WithField("files", rolledBack).Info("patch: rollback complete")
	return result, nil
}

func pendingRollbackFiles(paths []string, verifications []VerifyResult) []string {
	var pending []string
	for i, path := range paths {
		if verifications[i].Status == StatusReadyToRollback {
			pending = append(pending, path)
		}
	}
	return pending
}

func rollbackVerifyErr(res VerifyResult) error {
	switch res.Status {
	case StatusNotFound:
		return patcherr.New(patcherr.ErrorCodeFileNotFound, "%s", res.Path)
	case StatusHashMismatch:
		return patcherr.New(patcherr.ErrorCodeHashMismatch, "%s: modified after patching", res.Path)
	default:
		return errors.New("patch: unexpected rollback verify status")
	}
}

// Selector identifies which manifest entries a rollback call targets: a
// PURL (exact key), a UUID (linear search), or empty (every patch is a
// candidate).
type Selector struct {
	Value string
}

// ErrNoMatch is returned by Selector.Resolve when the identifier matches
// nothing in the manifest — a distinct failure from "no identifier given".
var ErrNoMatch = errors.New("patch: no patch found for identifier")

// Resolve returns the PURL keys in m that s selects.
func (s Selector) Resolve(m *manifest.Manifest) ([]string, error) {
	if s.Value == "" {
		keys := make([]string, 0, len(m.Patches))
		for k := range m.Patches {
			keys = append(keys, k)
		}
		return keys, nil
	}

	if purl.IsPURL(s.Value) {
		if _, ok := m.Patches[s.Value]; !ok {
			return nil, patcherr.Wrap(patcherr.ErrorCodeIdentifierNotFound, ErrNoMatch, "%s", s.Value)
		}
		return []string{s.Value}, nil
	}

	for key, rec := range m.Patches {
		if rec.UUID == s.Value {
			return []string{key}, nil
		}
	}
	return nil, patcherr.Wrap(patcherr.ErrorCodeIdentifierNotFound, ErrNoMatch, "%s", s.Value)
}
