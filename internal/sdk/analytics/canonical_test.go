package analytics

import (
	"strings"
	"testing"

	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

func TestCanonicalizeAssignmentIncludesNonePlaceholder(t *testing.T) {
	results := map[string]rules.Variant{
		"flag-a": {Key: "on"},
		"flag-b": {},
	}
	got := CanonicalizeAssignment("u1", "", results)
	want := "u1 None flag-a on flag-b None "
	if got != want {
		t.Errorf("CanonicalizeAssignment = %q, want %q", got, want)
	}
}

func TestCanonicalizeExposureSkipsEmptyVariant(t *testing.T) {
	results := map[string]rules.Variant{
		"flag-a": {Key: "on"},
		"flag-b": {},
	}
	got := CanonicalizeExposure("u1", "d1", results)
	if strings.Contains(got, "flag-b") {
		t.Errorf("expected flag-b to be omitted from exposure canonicalization, got %q", got)
	}
	if !strings.Contains(got, "flag-a on") {
		t.Errorf("expected flag-a to be present, got %q", got)
	}
}

func TestAssignmentInsertIDStableWithinSameDay(t *testing.T) {
	results := map[string]rules.Variant{"flag-a": {Key: "on"}}
	dayStart := int64(1_700_000_000_000)

	a := AssignmentInsertID("u1", "d1", results, dayStart)
	b := AssignmentInsertID("u1", "d1", results, dayStart+1000)
	if a != b {
		t.Errorf("expected insert ids within the same day to match: %q vs %q", a, b)
	}

	c := AssignmentInsertID("u1", "d1", results, dayStart+dayMillis)
	if a == c {
		t.Errorf("expected insert ids across different days to differ")
	}
}

func TestExposureInsertIDDiffersPerFlag(t *testing.T) {
	results := map[string]rules.Variant{
		"flag-a": {Key: "on"},
		"flag-b": {Key: "off"},
	}
	idA := ExposureInsertID("u1", "d1", "flag-a", results, 1000, 86400000)
	idB := ExposureInsertID("u1", "d1", "flag-b", results, 1000, 86400000)
	if idA == idB {
		t.Errorf("expected distinct exposure insert ids per flag")
	}
}
