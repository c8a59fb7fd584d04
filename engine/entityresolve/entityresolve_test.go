package entityresolve

import (
	"context"
	"testing"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/llm"
)

type fakeStore struct {
	similar    []domain.Entity
	predicates []domain.Entity
}

func (f *fakeStore) FindSimilarEntities(_ context.Context, _ []float32, _ string, _ int, _ float32) ([]domain.Entity, error) {
	return f.similar, nil
}

func (f *fakeStore) FindExactPredicateMatches(_ context.Context, _, _ string) ([]domain.Entity, error) {
	return f.predicates, nil
}

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) Generate(_ context.Context, _ llm.GenerateOpts) (llm.GenerateResult, error) {
	return llm.GenerateResult{Text: f.text}, f.err
}

func idSeq(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func TestResolveNoCandidatesMintsNew(t *testing.T) {
	store := &fakeStore{}
	r := New(store, &fakeGenerator{})
	res, err := r.Resolve(context.Background(), "u1", []Extracted{{Name: "Alice"}}, idSeq("e"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.NewEntities) != 1 || res.ResolvedIDs["Alice"] != "e1" {
		t.Fatalf("Resolve() = %+v", res)
	}
}

func TestResolvePredicateAlwaysDuplicate(t *testing.T) {
	store := &fakeStore{predicates: []domain.Entity{{UUID: "p-existing", Name: "lives_in", Type: "Predicate"}}}
	r := New(store, &fakeGenerator{})
	res, err := r.Resolve(context.Background(), "u1", []Extracted{{Name: "lives_in", Type: "Predicate"}}, idSeq("e"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.ResolvedIDs["lives_in"] != "p-existing" {
		t.Fatalf("ResolvedIDs = %+v, want existing predicate reused", res.ResolvedIDs)
	}
	if len(res.NewEntities) != 0 {
		t.Fatalf("NewEntities = %+v, want none", res.NewEntities)
	}
}

func TestResolveVerdictDuplicate(t *testing.T) {
	store := &fakeStore{similar: []domain.Entity{{UUID: "existing-1", Name: "Alice Smith"}}}
	gen := &fakeGenerator{text: `<output>[{"id":0,"name":"Alice","duplicate_idx":0}]</output>`}
	r := New(store, gen)
	res, err := r.Resolve(context.Background(), "u1", []Extracted{{Name: "Alice"}}, idSeq("e"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.ResolvedIDs["Alice"] != "existing-1" {
		t.Fatalf("ResolvedIDs = %+v", res.ResolvedIDs)
	}
}

func TestResolveUnparseableFallsBackToNew(t *testing.T) {
	store := &fakeStore{similar: []domain.Entity{{UUID: "existing-1", Name: "Alice Smith"}}}
	gen := &fakeGenerator{text: "not valid output"}
	r := New(store, gen)
	res, err := r.Resolve(context.Background(), "u1", []Extracted{{Name: "Alice"}}, idSeq("e"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.NewEntities) != 1 || res.ResolvedIDs["Alice"] != "e1" {
		t.Fatalf("Resolve() fallback = %+v", res)
	}
}
