// Package githash computes the git-compatible blob hash used as the sole
// content-identity check throughout the patch engine: sha256 of the
// literal header "blob <len>\x00" followed by the content bytes.
package githash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
)

// Hash is a 64-character lowercase hex string: the git blob sha256 of some
// content. It carries no algorithm prefix — callers that need the
// "sha256:..." form should go through Digest.
type Hash string

// ErrInvalidHash is returned by ParseHash for anything that isn't a
// well-formed sha256 hex digest.
var ErrInvalidHash = errors.New("githash: not a 64-character lowercase hex string")

// ParseHash validates s as a Hash. This is the sole validation gate for
// hashes crossing an API boundary; validation itself is delegated to
// go-digest's Algorithm.Validate rather than a hand-rolled pattern.
func ParseHash(s string) (Hash, error) {
	if err := digest.NewDigestFromEncoded(digest.SHA256, s).Validate(); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidHash, s, err)
	}
	return Hash(s), nil
}

// Valid reports whether h is a well-formed hash.
func (h Hash) Valid() bool {
	return digest.NewDigestFromEncoded(digest.SHA256, string(h)).Validate() == nil
}

func (h Hash) String() string {
	return string(h)
}

// Digest returns the go-digest representation ("sha256:<hex>"), letting
// callers reuse opencontainers/go-digest's comparison and validation
// helpers where convenient.
func (h Hash) Digest() digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, string(h))
}

func blobHeader(size int64) []byte {
	return []byte(fmt.Sprintf("blob %d\x00", size))
}

// SumBytes hashes an in-memory buffer.
func SumBytes(content []byte) Hash {
	h := sha256.New()
	h.Write(blobHeader(int64(len(content))))
	h.Write(content)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// Sum hashes a stream of known length. It never buffers the full content;
// bytes are written straight into the running sha256 state as they're read.
func Sum(r io.Reader, size int64) (Hash, error) {
	h := sha256.New()
	h.Write(blobHeader(size))
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return Hash(hex.EncodeToString(h.Sum(nil))), nil
}

// ChunkIterator yields the successive byte chunks of a stream whose total
// length is known ahead of time. It is the streaming counterpart to
// SumBytes's in-memory-buffer form, for callers that produce content
// incrementally.
type ChunkIterator interface {
	// Next returns the next chunk of data, or io.EOF once exhausted. A
	// non-nil, non-EOF error aborts hashing.
	Next() ([]byte, error)
}

// SumChunks hashes content delivered through a ChunkIterator, suspending
// between chunks without holding the whole payload in memory.
func SumChunks(it ChunkIterator, size int64) (Hash, error) {
	h := sha256.New()
	h.Write(blobHeader(size))
	for {
		chunk, err := it.Next()
		if len(chunk) > 0 {
			h.Write(chunk)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return Hash(hex.EncodeToString(h.Sum(nil))), nil
}
