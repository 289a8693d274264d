package semver

import "testing"

func TestSatisfies(t *testing.T) {
	c := MustParseConstraint("^1.2.0")

	if !Satisfies(MustParseVersion("1.2.0"), c) {
		t.Fatalf("expected 1.2.0 to satisfy ^1.2.0")
	}
	if !Satisfies(MustParseVersion("1.9.9"), c) {
		t.Fatalf("expected 1.9.9 to satisfy ^1.2.0")
	}
	if Satisfies(MustParseVersion("2.0.0"), c) {
		t.Fatalf("expected 2.0.0 to NOT satisfy ^1.2.0")
	}
}

func TestSatisfies_OrRange(t *testing.T) {
	c := MustParseConstraint("18 || 19")

	if !Satisfies(MustParseVersion("18.2.0"), c) {
		t.Fatalf("expected 18.2.0 to satisfy 18 || 19")
	}
	if !Satisfies(MustParseVersion("19.0.1"), c) {
		t.Fatalf("expected 19.0.1 to satisfy 18 || 19")
	}
	if Satisfies(MustParseVersion("17.0.2"), c) {
		t.Fatalf("expected 17.0.2 to NOT satisfy 18 || 19")
	}
}

func TestParseVersion_StripsLeadingV(t *testing.T) {
	v := MustParseVersion("v1.2.3")
	if v.String() != "1.2.3" {
		t.Fatalf("expected 1.2.3, got %q", v.String())
	}
	if CleanVersion("=2.0.0") != "2.0.0" {
		t.Fatalf("expected leading = to be stripped")
	}
}

func TestParseConstraint_EmptyIsAny(t *testing.T) {
	c := MustParseConstraint("")
	if c.String() != "*" {
		t.Fatalf("expected *, got %q", c.String())
	}
	if !Satisfies(MustParseVersion("0.0.1"), c) {
		t.Fatalf("expected empty range to accept 0.0.1")
	}
}

func TestIsConstraint(t *testing.T) {
	if IsConstraint("latest") {
		t.Fatalf("expected latest to be a dist-tag")
	}
	if !IsConstraint(">=1.0.0 <2.0.0") {
		t.Fatalf("expected >=1.0.0 <2.0.0 to be a range")
	}
}

func TestSatisfiesRaw(t *testing.T) {
	if !SatisfiesRaw("1.0.0", "*") {
		t.Fatalf("expected 1.0.0 to satisfy *")
	}
	if SatisfiesRaw("not-a-version", "*") {
		t.Fatalf("expected unparseable version to never satisfy")
	}
}

func TestMaxSatisfying(t *testing.T) {
	c := MustParseConstraint(">=1.0.0 <2.0.0")
	candidates := []Version{
		MustParseVersion("0.9.0"),
		MustParseVersion("1.0.0"),
		MustParseVersion("1.5.0"),
		MustParseVersion("2.0.0"),
	}

	best, ok := MaxSatisfying(c, candidates)
	if !ok {
		t.Fatalf("expected to find a satisfying version")
	}
	if Compare(best, MustParseVersion("1.5.0")) != 0 {
		t.Fatalf("expected best=1.5.0")
	}
}
