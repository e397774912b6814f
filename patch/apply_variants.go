package patch

import (
	"context"
	"errors"

	"github.com/socketdev/socket-patch/patcherr"
)

// ApplyPackageVariants applies the first matching variant among several
// PyPI patches that share a base PURL. variants must already be in the
// try order the caller wants (the engine has no opinion on qualifier
// precedence).
//
// The first variant whose verification doesn't fail with HashMismatch
// wins — including an already-patched observation — and the rest are
// skipped entirely, matching the appliedBasePurls set semantics: once a
// base PURL is satisfied, later variants are never even verified.
func ApplyPackageVariants(ctx context.Context, d Driver, variants []ApplyInput) (ApplyResult, error) {
	if len(variants) == 0 {
		return ApplyResult{}, errors.New("patch: ApplyPackageVariants called with no variants")
	}

	var lastErr error
	for _, in := range variants {
		result, err := d.ApplyPackage(ctx, in)
		if err == nil {
			return result, nil
		}

		var patchErr *patcherr.Error
		if errors.As(err, &patchErr) && patchErr.Code == patcherr.ErrorCodeHashMismatch {
			lastErr = err
			continue
		}
		// Any other failure (not-found, blob-missing, post-write mismatch)
		// is not a "wrong variant" signal; surface it immediately.
		return result, err
	}

	return ApplyResult{}, patcherr.Wrap(patcherr.ErrorCodeVariantExhausted, lastErr, "no variant matched on-disk file state")
}
