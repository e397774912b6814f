package patch

import (
	"context"

	"github.com/socketdev/socket-patch/githash"
)

// Fetcher is the external collaborator consumed by missing-blob
// reconciliation. A nil, nil return means "no such
// blob"; implementations should not conflate that with a transport error.
type Fetcher interface {
	FetchBlob(ctx context.Context, hash githash.Hash) ([]byte, error)
}

// blobSource abstracts the read side a verify/apply/rollback driver needs
// from the blob store, so tests can substitute an in-memory fake without
// pulling in the blobstore package's filesystem behavior.
type blobSource interface {
	Get(h githash.Hash) ([]byte, error)
	Put(ctx context.Context, h githash.Hash, content []byte) error
	Exists(h githash.Hash) (bool, error)
}
