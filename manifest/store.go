package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/socketdev/socket-patch/internal/dcontext"
	"github.com/socketdev/socket-patch/internal/uuid"
	"github.com/socketdev/socket-patch/patcherr"
	"github.com/socketdev/socket-patch/purl"
)

// PatchData is what an external Refetcher returns for one (uuid, purl)
// pair during recovery: a reconstructed record plus the PURL it must
// match to be accepted.
type PatchData struct {
	PURL   string
	Record PatchRecord
}

// Refetcher is the external collaborator recovery calls to reconstruct a
// record that failed per-record parsing. A nil return (no error) means
// "no replacement available"; the record is then discarded.
type Refetcher interface {
	Refetch(ctx context.Context, uuid, purl string) (*PatchData, error)
}

// Store owns one manifest.json file's lifecycle: load, validate, persist,
// recover.
type Store struct {
	path string
}

// NewStore returns a Store backed by path (typically <root>/manifest.json).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads and parses the manifest file. A missing file yields a fresh
// empty Manifest, not an error — the manifest is created lazily by the
// first successful download. A present-but-corrupt file is handled by
// recovery instead of returning a bare error; Load itself only
// distinguishes "absent" from "needs recovery".
func (s *Store) Load(ctx context.Context, refetcher Refetcher, sink EventSink) (*Manifest, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", s.path, err)
	}

	m, strictErr := parseStrict(data)
	if strictErr == nil {
		return m, nil
	}

	return s.recover(ctx, data, refetcher, sinkOrNoop(sink))
}

// parseStrict decodes the whole document and validates every PURL key and
// FileEntry invariant. Any failure anywhere aborts the strict parse so the
// caller falls back to per-record recovery.
func parseStrict(data []byte) (*Manifest, error) {
	var raw struct {
		Patches map[string]PatchRecord `json:"patches"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for key, rec := range raw.Patches {
		if _, err := purl.Parse(key); err != nil {
			return nil, fmt.Errorf("manifest: key %q: %w", key, err)
		}
		if err := validateRecord(rec); err != nil {
			return nil, fmt.Errorf("manifest: record %q: %w", key, err)
		}
	}
	return &Manifest{Patches: raw.Patches}, nil
}

func validateRecord(rec PatchRecord) error {
	if rec.UUID == "" {
		return patcherr.New(patcherr.ErrorCodeRecordInvalid, "missing uuid")
	}
	if !uuid.Valid(rec.UUID) {
		return patcherr.New(patcherr.ErrorCodeRecordInvalid, "malformed uuid %q", rec.UUID)
	}
	if rec.Tier != TierFree && rec.Tier != TierPaid {
		return patcherr.New(patcherr.ErrorCodeRecordInvalid, "invalid tier %q", rec.Tier)
	}
	for path, fe := range rec.Files {
		if fe.BeforeHash == fe.AfterHash {
			return patcherr.New(patcherr.ErrorCodeRecordInvalid, "file %q has equal before/after hash", path)
		}
		if !fe.BeforeHash.Valid() || !fe.AfterHash.Valid() {
			return patcherr.New(patcherr.ErrorCodeRecordInvalid, "file %q has malformed hash", path)
		}
	}
	return nil
}

// recover implements per-record recovery: the top-level
// document is parsed permissively as a map of raw JSON messages so that
// one broken record cannot prevent parsing its siblings. Records that
// fail schema validation are offered to refetcher for reconstruction;
// mismatched or unavailable replacements are discarded.
func (s *Store) recover(ctx context.Context, data []byte, refetcher Refetcher, sink EventSink) (*Manifest, error) {
	log := dcontext.GetLogger(ctx)

	var raw struct {
		Patches map[string]json.RawMessage `json:"patches"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		sink.Emit(Event{Kind: EventCorruptedManifest, Fields: map[string]any{"error": err.Error()}})
		log.WithError(err).Warn("manifest: top-level document unparseable, starting empty")
		return New(), nil
	}

	result := New()
	for key, rawRec := range raw.Patches {
		rec, err := parseAndValidateRecord(key, rawRec)
		if err == nil {
			result.Patches[key] = rec
			continue
		}

		sink.Emit(Event{Kind: EventInvalidPatch, Fields: map[string]any{"purl": key, "error": err.Error()}})
		log.WithError(err).WithField("purl", key).Warn("manifest: invalid patch record")

		recovered, recErr := s.tryRecoverRecord(ctx, key, rec.UUID, refetcher, sink)
		if recErr != nil {
			sink.Emit(Event{Kind: EventRecoveryError, Fields: map[string]any{"purl": key, "error": recErr.Error()}})
			log.WithError(recErr).WithField("purl", key).Error("manifest: recovery error")
			continue
		}
		if recovered != nil {
			result.Patches[key] = *recovered
			sink.Emit(Event{Kind: EventRecoveredPatch, Fields: map[string]any{"purl": key, "uuid": recovered.UUID}})
		}
	}
	return result, nil
}

// parseAndValidateRecord decodes one manifest value and runs the same
// validation parseStrict applies, returning whatever UUID it could
// recover even on failure (useful for refetch) alongside the error.
func parseAndValidateRecord(key string, raw json.RawMessage) (PatchRecord, error) {
	var rec PatchRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, patcherr.Wrap(patcherr.ErrorCodeRecordInvalid, err, "unmarshal")
	}
	if _, err := purl.Parse(key); err != nil {
		return rec, patcherr.Wrap(patcherr.ErrorCodeRecordInvalid, err, "key")
	}
	if err := validateRecord(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *Store) tryRecoverRecord(ctx context.Context, key, uuid string, refetcher Refetcher, sink EventSink) (*PatchRecord, error) {
	if refetcher == nil || uuid == "" {
		sink.Emit(Event{Kind: EventDiscardedPatchGone, Fields: map[string]any{"purl": key}})
		return nil, nil
	}

	data, err := refetcher.Refetch(ctx, uuid, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		sink.Emit(Event{Kind: EventDiscardedPatchGone, Fields: map[string]any{"purl": key, "uuid": uuid}})
		return nil, nil
	}
	if data.PURL != key {
		sink.Emit(Event{Kind: EventDiscardedPatchPURL, Fields: map[string]any{"purl": key, "refetchedPurl": data.PURL}})
		return nil, nil
	}
	return &data.Record, nil
}

// Save writes m to disk as 2-space JSON with stable key order and a
// trailing newline, via a temp file renamed over the manifest. It does
// not re-read or re-validate the file already on disk.
func (s *Store) Save(m *Manifest) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("manifest: mkdir: %w", err)
	}

	encoded, err := encodeStable(m)
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("manifest: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("manifest: rename: %w", err)
	}
	return nil
}

// encodeStable serializes m with keys in sorted order so repeated saves
// of semantically identical content produce byte-identical output.
func encodeStable(m *Manifest) ([]byte, error) {
	keys := make([]string, 0, len(m.Patches))
	for k := range m.Patches {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("{\n  \"patches\": {")
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n    ")
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteString(": ")

		recJSON, err := json.MarshalIndent(m.Patches[k], "    ", "  ")
		if err != nil {
			return nil, err
		}
		buf.Write(recJSON)
	}
	if len(keys) > 0 {
		buf.WriteString("\n  ")
	}
	buf.WriteString("}\n}\n")
	return buf.Bytes(), nil
}
