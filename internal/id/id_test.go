package id

import "testing"

func TestNewProducesDistinctNonNilIDs(t *testing.T) {
	a := New()
	b := New()

	if a.IsNil() || b.IsNil() {
		t.Fatal("New() must never return the nil identifier")
	}
	if a == b {
		t.Fatal("two calls to New() produced the same identifier")
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := New()

	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", want.String(), err)
	}
	if got != want {
		t.Fatalf("round-trip mismatch: got %s, want %s", got, want)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected an error parsing a non-uuid string")
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	want := New()

	text, err := want.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var got ID
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got != want {
		t.Fatalf("round-trip mismatch: got %s, want %s", got, want)
	}
}

func TestNilIsZeroValue(t *testing.T) {
	var zero ID
	if !zero.IsNil() {
		t.Fatal("zero value ID must report IsNil")
	}
	if zero != Nil {
		t.Fatal("zero value ID must equal Nil")
	}
}
