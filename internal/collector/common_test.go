package collector

import (
	"testing"
	"time"
)

func TestParseAge(t *testing.T) {
	cases := []struct {
		in   string
		want *int
	}{
		{"34", intp(34)},
		{" 15 ", intp(15)},
		{"15-17", intp(15)},
		{"", nil},
		{"unknown", nil},
		{"-3", nil},
		{"200", nil},
	}
	for _, tc := range cases {
		got := parseAge(tc.in)
		switch {
		case tc.want == nil && got != nil:
			t.Fatalf("parseAge(%q) = %d, want nil", tc.in, *got)
		case tc.want != nil && (got == nil || *got != *tc.want):
			t.Fatalf("parseAge(%q) = %v, want %d", tc.in, got, *tc.want)
		}
	}
}

func intp(n int) *int { return &n }

func TestSplitName(t *testing.T) {
	cases := []struct {
		in          string
		first, last string
	}{
		{"Doe, John", "John", "Doe"},
		{"John Doe", "John", "Doe"},
		{"Mary Jane Watson", "Mary Jane", "Watson"},
		{"Cher", "Cher", ""},
		{"  ", "", ""},
	}
	for _, tc := range cases {
		first, last := splitName(tc.in)
		if first != tc.first || last != tc.last {
			t.Fatalf("splitName(%q) = (%q, %q), want (%q, %q)", tc.in, first, last, tc.first, tc.last)
		}
	}
}

func TestParseDateOrNil(t *testing.T) {
	want := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2026-01-10", "01/10/2026", "January 10, 2026"} {
		got := parseDateOrNil(in)
		if got == nil || !got.Equal(want) {
			t.Fatalf("parseDateOrNil(%q) = %v, want %s", in, got, want)
		}
	}
	if parseDateOrNil("not a date") != nil {
		t.Fatalf("unparseable dates yield nil")
	}
	if parseDateOrNil("") != nil {
		t.Fatalf("empty dates yield nil")
	}
}

func TestValidPerson(t *testing.T) {
	if validPerson(PersonPayload{FirstName: "Ana"}) {
		t.Fatalf("a record without any location is invalid")
	}
	if validPerson(PersonPayload{State: "FL"}) {
		t.Fatalf("a record without a name is invalid")
	}
	if !validPerson(PersonPayload{LastName: "Reyes", County: "Hillsborough"}) {
		t.Fatalf("last name plus county is enough")
	}
}

func TestSourceDefinitionDefaults(t *testing.T) {
	var def SourceDefinition
	if def.Interval() != 60*time.Minute {
		t.Fatalf("default interval should be an hour, got %s", def.Interval())
	}
	if def.FetchTimeout() != 30*time.Second {
		t.Fatalf("default fetch timeout should be 30s, got %s", def.FetchTimeout())
	}
}
