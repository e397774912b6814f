// Package manifest implements the durable patch index: parsing,
// validation, persistence, recovery, and diffing of the
// `.socket/manifest.json` document.
package manifest

import (
	"time"

	"github.com/socketdev/socket-patch/githash"
)

// Severity is the free-text severity bucket recorded on a
// VulnerabilityRecord.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// Tier distinguishes patches available without an account from those
// gated behind a paid plan.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// FileEntry is one patched file's before/after content identity, keyed by
// its path in PatchRecord.Files. The path may carry a leading "package/"
// segment (as emitted by the patch data format); callers normalize that
// away before joining with a package directory — see patch.TargetPath.
type FileEntry struct {
	BeforeHash githash.Hash `json:"beforeHash"`
	AfterHash  githash.Hash `json:"afterHash"`
}

// VulnerabilityRecord documents one advisory a PatchRecord addresses.
type VulnerabilityRecord struct {
	CVEs        []string `json:"cves,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	Description string   `json:"description,omitempty"`
}

// PatchRecord is one manifest entry: a single package version's patch.
// UUID is the patch's stable identity, independent of which PURL it is
// currently keyed under.
type PatchRecord struct {
	UUID            string                         `json:"uuid"`
	ExportedAt      time.Time                      `json:"exportedAt"`
	Files           map[string]FileEntry           `json:"files"`
	Vulnerabilities map[string]VulnerabilityRecord `json:"vulnerabilities,omitempty"`
	Description     string                         `json:"description,omitempty"`
	License         string                         `json:"license,omitempty"`
	Tier            Tier                           `json:"tier"`
}

// PublishedAt is the wire-facing alias for ExportedAt used by
// Fetcher.fetchPatch's response shape; both names refer to the same
// underlying field.
func (p PatchRecord) PublishedAt() time.Time {
	return p.ExportedAt
}

// Manifest is the full patch index: PURL string to PatchRecord.
type Manifest struct {
	Patches map[string]PatchRecord `json:"patches"`
}

// New returns an empty Manifest ready for persistence.
func New() *Manifest {
	return &Manifest{Patches: map[string]PatchRecord{}}
}
