package patch

import (
	"context"
	"testing"

	"github.com/socketdev/socket-patch/githash"
	"github.com/socketdev/socket-patch/manifest"
	"github.com/socketdev/socket-patch/patcherr"
)

func TestApplyPackageVariantsPicksSecondVariant(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "__init__.py", "variant-b-original")

	aBefore := githash.SumBytes([]byte("variant-a-original"))
	aAfter := githash.SumBytes([]byte("variant-a-patched"))
	bBefore := githash.SumBytes([]byte("variant-b-original"))
	bAfter := githash.SumBytes([]byte("variant-b-patched"))

	store := newMemStore()
	store.blobs[aAfter] = []byte("variant-a-patched")
	store.blobs[bAfter] = []byte("variant-b-patched")

	d := Driver{Store: store}
	variantA := ApplyInput{
		PURL:        "pkg:pypi/requests@2.28.0?artifact_id=aaa",
		PackagePath: dir,
		Files:       map[string]manifest.FileEntry{"__init__.py": {BeforeHash: aBefore, AfterHash: aAfter}},
	}
	variantB := ApplyInput{
		PURL:        "pkg:pypi/requests@2.28.0?artifact_id=bbb",
		PackagePath: dir,
		Files:       map[string]manifest.FileEntry{"__init__.py": {BeforeHash: bBefore, AfterHash: bAfter}},
	}

	result, err := ApplyPackageVariants(context.Background(), d, []ApplyInput{variantA, variantB})
	if err != nil {
		t.Fatalf("ApplyPackageVariants() error = %v", err)
	}
	if result.PURL != variantB.PURL {
		t.Errorf("matched PURL = %q, want the bbb variant", result.PURL)
	}

	// A second call with the base PURL's matching variant now observes
	// already-patched cross-variant dedup semantics.
	again, err := ApplyPackageVariants(context.Background(), d, []ApplyInput{variantB})
	if err != nil {
		t.Fatalf("second ApplyPackageVariants() error = %v", err)
	}
	if len(again.FilesPatched) != 0 {
		t.Errorf("second call FilesPatched = %v, want empty (already-patched)", again.FilesPatched)
	}
}

func TestApplyPackageVariantsExhausted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "__init__.py", "unrelated content")

	aBefore := githash.SumBytes([]byte("variant-a-original"))
	aAfter := githash.SumBytes([]byte("variant-a-patched"))

	d := Driver{Store: newMemStore()}
	_, err := ApplyPackageVariants(context.Background(), d, []ApplyInput{
		{PURL: "pkg:pypi/requests@2.28.0?artifact_id=aaa", PackagePath: dir, Files: map[string]manifest.FileEntry{"__init__.py": {BeforeHash: aBefore, AfterHash: aAfter}}},
	})
	if err == nil {
		t.Fatal("ApplyPackageVariants() error = nil, want VariantExhausted")
	}
	code, ok := patcherr.CodeOf(err)
	if !ok || code != patcherr.ErrorCodeVariantExhausted {
		t.Errorf("CodeOf(err) = (%v, %v), want ErrorCodeVariantExhausted", code, ok)
	}
}
