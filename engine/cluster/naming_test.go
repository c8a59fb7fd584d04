package cluster

import (
	"context"
	"testing"

	"github.com/jmagar/core-sub000/domain"
)

func TestNameClustersParsesVerdict(t *testing.T) {
	store := newFakeStore()
	store.clusters["c1"] = domain.Cluster{
		UUID:        "c1",
		UserID:      "user-1",
		Size:        10,
		TopSubjects: []string{"Alice"},
		NeedsNaming: true,
	}

	e := testEngine(store, &fakeGenerator{text: `<output>{"name":"Alice's world","description":"facts about Alice"}</output>`})
	if _, err := e.nameClusters(context.Background(), "user-1"); err != nil {
		t.Fatalf("nameClusters() error = %v", err)
	}
	saved := store.clusters["c1"]
	if saved.Name != "Alice's world" || saved.NeedsNaming {
		t.Fatalf("cluster after naming = %+v", saved)
	}
}

func TestNameClustersFallsBackOnParseFailure(t *testing.T) {
	store := newFakeStore()
	store.clusters["abcdef1234567890"] = domain.Cluster{
		UUID:        "abcdef1234567890",
		UserID:      "user-1",
		Size:        10,
		TopSubjects: []string{"Alice"},
		NeedsNaming: true,
	}

	e := testEngine(store, &fakeGenerator{text: "not a valid envelope"})
	if _, err := e.nameClusters(context.Background(), "user-1"); err != nil {
		t.Fatalf("nameClusters() error = %v", err)
	}
	saved := store.clusters["abcdef1234567890"]
	if saved.Name != "Cluster abcdef12" {
		t.Fatalf("Name = %q, want fallback", saved.Name)
	}
	if saved.NeedsNaming {
		t.Fatalf("NeedsNaming still true after fallback")
	}
}

func TestDistinctiveTermsRanksByTFIDF(t *testing.T) {
	df := map[string]int{"common": 5, "rare": 1}
	terms := distinctiveTerms([]string{"common", "rare"}, 2, df, 5)
	if len(terms) != 2 {
		t.Fatalf("distinctiveTerms() = %v, want 2 terms", terms)
	}
	if terms[0] != "rare" {
		t.Fatalf("distinctiveTerms()[0] = %q, want %q (higher IDF)", terms[0], "rare")
	}
}

func TestFallbackNameTruncatesToEightChars(t *testing.T) {
	if got := fallbackName("0123456789abcdef"); got != "Cluster 01234567" {
		t.Fatalf("fallbackName() = %q", got)
	}
}
