package retrieval

import "testing"

func TestDamerauLevenshteinCapped_ExactMatch(t *testing.T) {
	t.Parallel()

	if d := damerauLevenshteinCapped("roadmap", "roadmap", 1); d != 0 {
		t.Fatalf("expected 0, got %d", d)
	}
}

func TestDamerauLevenshteinCapped_OneSubstitution(t *testing.T) {
	t.Parallel()

	if d := damerauLevenshteinCapped("roadmap", "roadmep", 1); d != 1 {
		t.Fatalf("expected 1, got %d", d)
	}
}

func TestDamerauLevenshteinCapped_OneTransposition(t *testing.T) {
	t.Parallel()

	if d := damerauLevenshteinCapped("roadmap", "raodmap", 1); d != 1 {
		t.Fatalf("expected 1, got %d", d)
	}
}

func TestDamerauLevenshteinCapped_RejectsBeyondCap(t *testing.T) {
	t.Parallel()

	if d := damerauLevenshteinCapped("roadmap", "totallydifferent", 1); d != -1 {
		t.Fatalf("expected -1, got %d", d)
	}
}
