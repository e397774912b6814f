package patcherr

import (
	"errors"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(ErrorCodeFileNotFound, "package %s missing %s", "left-pad", "index.js")
	want := "patch target file not found: package left-pad missing index.js"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrorCodePostWriteHashMismatch, cause, "writing index.js")
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
	if got := errors.Unwrap(err); got != cause {
		t.Fatalf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestIsComparesCode(t *testing.T) {
	a := New(ErrorCodeHashMismatch, "a")
	b := New(ErrorCodeHashMismatch, "b")
	c := New(ErrorCodeBlobMissing, "c")

	if !errors.Is(a, b) {
		t.Error("same-code errors should satisfy errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("different-code errors should not satisfy errors.Is")
	}
}

func TestCodeOf(t *testing.T) {
	err := New(ErrorCodeVariantExhausted, "no match")
	code, ok := CodeOf(err)
	if !ok || code != ErrorCodeVariantExhausted {
		t.Fatalf("CodeOf() = (%v, %v), want (%v, true)", code, ok, ErrorCodeVariantExhausted)
	}

	_, ok = CodeOf(errors.New("plain"))
	if ok {
		t.Fatal("CodeOf() on a plain error should report false")
	}
}
