package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/socketdev/socket-patch/githash"
)

func mustHash(t *testing.T, s string) githash.Hash {
	t.Helper()
	h, err := githash.ParseHash(s)
	if err != nil {
		t.Fatalf("ParseHash(%q): %v", s, err)
	}
	return h
}

func sampleManifest(t *testing.T) *Manifest {
	t.Helper()
	m := New()
	m.Patches["pkg:npm/left-pad@1.3.0"] = PatchRecord{
		UUID:       "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		ExportedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Files: map[string]FileEntry{
			"package/index.js": {
				BeforeHash: mustHash(t, "473a0f4c3be8a93681a267e3b1e9a7dcda1185436fe141f7749120a303721813"),
				AfterHash:  mustHash(t, "6e8f5f4c3be8a93681a267e3b1e9a7dcda1185436fe141f7749120a303721813"),
			},
		},
		Tier: TierFree,
	}
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "manifest.json"))

	want := sampleManifest(t)
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Patches) != len(want.Patches) {
		t.Fatalf("Load() returned %d patches, want %d", len(got.Patches), len(want.Patches))
	}
	for k, wantRec := range want.Patches {
		gotRec, ok := got.Patches[k]
		if !ok {
			t.Fatalf("missing patch %q after round trip", k)
		}
		if gotRec.UUID != wantRec.UUID {
			t.Errorf("patch %q UUID = %q, want %q", k, gotRec.UUID, wantRec.UUID)
		}
	}
}

func TestSaveHasTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	store := NewStore(path)

	if err := store.Save(sampleManifest(t)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		t.Error("manifest.json does not end with a trailing newline")
	}
}

func TestLoadMissingFileYieldsEmptyManifest(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "manifest.json"))
	m, err := store.Load(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m.Patches) != 0 {
		t.Errorf("Load() on missing file returned %d patches, want 0", len(m.Patches))
	}
}

func TestLoadCorruptTopLevelYieldsEmptyManifestAndEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	var events []Event
	store := NewStore(path)
	m, err := store.Load(context.Background(), nil, EventSinkFunc(func(e Event) {
		events = append(events, e)
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m.Patches) != 0 {
		t.Errorf("Load() returned %d patches, want 0", len(m.Patches))
	}
	if len(events) != 1 || events[0].Kind != EventCorruptedManifest {
		t.Errorf("events = %+v, want a single corrupted_manifest event", events)
	}
}

func TestRecoveryPreservesValidRecordsAndDiscardsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	content := `{
  "patches": {
    "pkg:npm/good@1.0.0": {
      "uuid": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
      "exportedAt": "2026-01-01T00:00:00Z",
      "files": {
        "index.js": {
          "beforeHash": "473a0f4c3be8a93681a267e3b1e9a7dcda1185436fe141f7749120a303721813",
          "afterHash": "6e8f5f4c3be8a93681a267e3b1e9a7dcda1185436fe141f7749120a303721813"
        }
      },
      "tier": "free"
    },
    "pkg:npm/bad@1.0.0": {
      "uuid": "",
      "files": {}
    }
  }
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var events []Event
	store := NewStore(path)
	m, err := store.Load(context.Background(), nil, EventSinkFunc(func(e Event) {
		events = append(events, e)
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := m.Patches["pkg:npm/good@1.0.0"]; !ok {
		t.Error("valid sibling record was dropped during recovery")
	}
	if _, ok := m.Patches["pkg:npm/bad@1.0.0"]; ok {
		t.Error("invalid record survived recovery without a refetcher")
	}

	var sawInvalid, sawDiscarded bool
	for _, e := range events {
		if e.Kind == EventInvalidPatch {
			sawInvalid = true
		}
		if e.Kind == EventDiscardedPatchGone {
			sawDiscarded = true
		}
	}
	if !sawInvalid || !sawDiscarded {
		t.Errorf("events = %+v, want invalid_patch and discarded_patch_refetch_miss", events)
	}
}

type stubRefetcher struct {
	data *PatchData
	err  error
}

func (s stubRefetcher) Refetch(ctx context.Context, uuid, purl string) (*PatchData, error) {
	return s.data, s.err
}

func TestRecoveryReconstructsViaRefetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	content := `{
  "patches": {
    "pkg:npm/bad@1.0.0": {
      "uuid": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
      "files": {}
    }
  }
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	replacement := PatchRecord{
		UUID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Files: map[string]FileEntry{
			"index.js": {
				BeforeHash: mustHash(t, "473a0f4c3be8a93681a267e3b1e9a7dcda1185436fe141f7749120a303721813"),
				AfterHash:  mustHash(t, "6e8f5f4c3be8a93681a267e3b1e9a7dcda1185436fe141f7749120a303721813"),
			},
		},
		Tier: TierFree,
	}
	refetcher := stubRefetcher{data: &PatchData{PURL: "pkg:npm/bad@1.0.0", Record: replacement}}

	var events []Event
	store := NewStore(path)
	m, err := store.Load(context.Background(), refetcher, EventSinkFunc(func(e Event) {
		events = append(events, e)
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	rec, ok := m.Patches["pkg:npm/bad@1.0.0"]
	if !ok {
		t.Fatal("refetched record was not installed")
	}
	if len(rec.Files) != 1 {
		t.Errorf("recovered record has %d files, want 1", len(rec.Files))
	}

	var sawRecovered bool
	for _, e := range events {
		if e.Kind == EventRecoveredPatch {
			sawRecovered = true
		}
	}
	if !sawRecovered {
		t.Errorf("events = %+v, want recovered_patch", events)
	}
}

func TestRecoveryDiscardsMismatchedPURLRefetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	content := `{
  "patches": {
    "pkg:npm/bad@1.0.0": {
      "uuid": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
      "files": {}
    }
  }
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	refetcher := stubRefetcher{data: &PatchData{PURL: "pkg:npm/other@2.0.0", Record: PatchRecord{UUID: "x"}}}

	var events []Event
	store := NewStore(path)
	m, err := store.Load(context.Background(), refetcher, EventSinkFunc(func(e Event) {
		events = append(events, e)
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := m.Patches["pkg:npm/bad@1.0.0"]; ok {
		t.Error("mismatched-PURL refetch result should have been discarded")
	}

	var sawMismatch bool
	for _, e := range events {
		if e.Kind == EventDiscardedPatchPURL {
			sawMismatch = true
		}
	}
	if !sawMismatch {
		t.Errorf("events = %+v, want discarded_patch_purl_mismatch", events)
	}
}

func TestRecoveryDiscardsMalformedUUID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	content := `{
  "patches": {
    "pkg:npm/good@1.0.0": {
      "uuid": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
      "files": {},
      "tier": "free"
    },
    "pkg:npm/bad@1.0.0": {
      "uuid": "not-a-uuid",
      "files": {}
    }
  }
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var events []Event
	store := NewStore(path)
	m, err := store.Load(context.Background(), nil, EventSinkFunc(func(e Event) {
		events = append(events, e)
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := m.Patches["pkg:npm/good@1.0.0"]; !ok {
		t.Error("valid sibling record was dropped during recovery")
	}
	if _, ok := m.Patches["pkg:npm/bad@1.0.0"]; ok {
		t.Error("record with malformed uuid survived recovery without a refetcher")
	}

	var sawInvalid bool
	for _, e := range events {
		if e.Kind == EventInvalidPatch {
			sawInvalid = true
		}
	}
	if !sawInvalid {
		t.Errorf("events = %+v, want invalid_patch", events)
	}
}
