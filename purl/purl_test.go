package purl

import "testing"

func TestParseNPMUnscoped(t *testing.T) {
	p, err := Parse("pkg:npm/test-pkg@1.2.3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Ecosystem != NPM || p.Namespace != "" || p.Name != "test-pkg" || p.Version != "1.2.3" {
		t.Fatalf("unexpected parse: %+v", p)
	}
}

func TestParseNPMScoped(t *testing.T) {
	p, err := Parse("pkg:npm/@babel/core@7.20.0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Namespace != "@babel" || p.Name != "core" || p.Version != "7.20.0" {
		t.Fatalf("unexpected parse: %+v", p)
	}
}

func TestParsePyPIWithQualifiers(t *testing.T) {
	p, err := Parse("pkg:pypi/requests@2.28.0?artifact_id=aaa")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Ecosystem != PyPI || p.Name != "requests" || p.Version != "2.28.0" {
		t.Fatalf("unexpected parse: %+v", p)
	}
	if got := p.Qualifiers.Get("artifact_id"); got != "aaa" {
		t.Fatalf("qualifier artifact_id = %q, want aaa", got)
	}
	base := p.Base()
	if base.HasQualifiers() {
		t.Fatalf("Base() retained qualifiers: %+v", base)
	}
	if base.String() != "pkg:pypi/requests@2.28.0" {
		t.Fatalf("Base().String() = %q", base.String())
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"npm/test-pkg@1.0.0",
		"pkg:npm/test-pkg",
		"pkg:golang/github.com/foo/bar@v1.0.0", // unsupported ecosystem
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", c)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	cases := []string{
		"pkg:npm/test-pkg@1.2.3",
		"pkg:npm/@babel/core@7.20.0",
		"pkg:pypi/requests@2.28.0",
	}
	for _, c := range cases {
		p, err := Parse(c)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c, err)
		}
		if got := p.String(); got != c {
			t.Errorf("round trip: Parse(%q).String() = %q", c, got)
		}
	}
}

func TestQualifierOrderStable(t *testing.T) {
	p, err := Parse("pkg:pypi/foo@1.0.0?b=2&a=1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := p.String(), "pkg:pypi/foo@1.0.0?a=1&b=2"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestIsPURL(t *testing.T) {
	if !IsPURL("pkg:npm/foo@1.0.0") {
		t.Error("expected true for pkg: prefix")
	}
	if IsPURL("550e8400-e29b-41d4-a716-446655440000") {
		t.Error("expected false for a uuid")
	}
}
