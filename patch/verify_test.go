package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/socketdev/socket-patch/githash"
	"github.com/socketdev/socket-patch/manifest"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTargetPathStripsPackagePrefix(t *testing.T) {
	got := TargetPath("/pkg", "package/index.js")
	want := filepath.Join("/pkg", "index.js")
	if got != want {
		t.Errorf("TargetPath() = %q, want %q", got, want)
	}
}

func TestVerifyFilePatchStatuses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.js", "original")

	entry := manifest.FileEntry{
		BeforeHash: githash.SumBytes([]byte("original")),
		AfterHash:  githash.SumBytes([]byte("patched")),
	}

	res, err := VerifyFilePatch(dir, "index.js", entry)
	if err != nil {
		t.Fatalf("VerifyFilePatch() error = %v", err)
	}
	if res.Status != StatusReady {
		t.Errorf("Status = %q, want %q", res.Status, StatusReady)
	}

	writeFile(t, dir, "index.js", "patched")
	res, err = VerifyFilePatch(dir, "index.js", entry)
	if err != nil {
		t.Fatalf("VerifyFilePatch() error = %v", err)
	}
	if res.Status != StatusAlreadyPatched {
		t.Errorf("Status = %q, want %q", res.Status, StatusAlreadyPatched)
	}

	writeFile(t, dir, "index.js", "user edits")
	res, err = VerifyFilePatch(dir, "index.js", entry)
	if err != nil {
		t.Fatalf("VerifyFilePatch() error = %v", err)
	}
	if res.Status != StatusHashMismatch {
		t.Errorf("Status = %q, want %q", res.Status, StatusHashMismatch)
	}

	os.Remove(filepath.Join(dir, "index.js"))
	res, err = VerifyFilePatch(dir, "index.js", entry)
	if err != nil {
		t.Fatalf("VerifyFilePatch() error = %v", err)
	}
	if res.Status != StatusNotFound {
		t.Errorf("Status = %q, want %q", res.Status, StatusNotFound)
	}
}

func TestVerifyFileRollbackStatuses(t *testing.T) {
	dir := t.TempDir()
	entry := manifest.FileEntry{
		BeforeHash: githash.SumBytes([]byte("original")),
		AfterHash:  githash.SumBytes([]byte("patched")),
	}

	writeFile(t, dir, "index.js", "patched")
	res, err := VerifyFileRollback(dir, "index.js", entry)
	if err != nil {
		t.Fatalf("VerifyFileRollback() error = %v", err)
	}
	if res.Status != StatusReadyToRollback {
		t.Errorf("Status = %q, want %q", res.Status, StatusReadyToRollback)
	}

	writeFile(t, dir, "index.js", "original")
	res, err = VerifyFileRollback(dir, "index.js", entry)
	if err != nil {
		t.Fatalf("VerifyFileRollback() error = %v", err)
	}
	if res.Status != StatusAlreadyOriginal {
		t.Errorf("Status = %q, want %q", res.Status, StatusAlreadyOriginal)
	}
}
