package statementresolve

import (
	"context"
	"testing"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/llm"
)

type fakeStore struct {
	contradictory []domain.Statement
	sameSubObj    []domain.Statement
	similar       []domain.Statement
	episodeStmts  map[string][]domain.Statement
	triples       map[string]domain.Triple
}

func (f *fakeStore) FindContradictoryStatements(_ context.Context, _, _, _ string) ([]domain.Statement, error) {
	return f.contradictory, nil
}

func (f *fakeStore) FindStatementsWithSameSubjectObject(_ context.Context, _, _, _, _ string) ([]domain.Statement, error) {
	return f.sameSubObj, nil
}

func (f *fakeStore) FindSimilarStatements(_ context.Context, _ []float32, _ string, _ int, _ float32) ([]domain.Statement, error) {
	return f.similar, nil
}

func (f *fakeStore) GetEpisodeStatements(_ context.Context, epUUID string) ([]domain.Statement, error) {
	return f.episodeStmts[epUUID], nil
}

func (f *fakeStore) GetTripleForStatement(_ context.Context, uuid string) (domain.Triple, error) {
	return f.triples[uuid], nil
}

type fakeGenerator struct{ text string }

func (f *fakeGenerator) Generate(_ context.Context, _ llm.GenerateOpts) (llm.GenerateResult, error) {
	return llm.GenerateResult{Text: f.text}, nil
}

func TestResolveNoCandidatesAddsVerbatim(t *testing.T) {
	store := &fakeStore{episodeStmts: map[string][]domain.Statement{}}
	r := New(store, &fakeGenerator{})
	triples := []NewTriple{{Triple: domain.Triple{Fact: "John lives in NY"}}}
	res, err := r.Resolve(context.Background(), "u1", nil, triples)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Triples) != 1 || len(res.Invalidate) != 0 {
		t.Fatalf("Resolve() = %+v", res)
	}
}

func TestResolveDuplicateReplacesTriple(t *testing.T) {
	store := &fakeStore{
		contradictory: []domain.Statement{{UUID: "s-existing"}},
		triples:       map[string]domain.Triple{"s-existing": {Fact: "John lives in NY"}},
	}
	gen := &fakeGenerator{text: `<output>[{"statementId":0,"isDuplicate":true,"duplicateId":"s-existing","contradictions":[]}]</output>`}
	r := New(store, gen)
	triples := []NewTriple{{Triple: domain.Triple{SubjectID: "sub1", PredicateID: "pred1", Fact: "John lives in NY"}}}
	res, err := r.Resolve(context.Background(), "u1", nil, triples)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Triples[0].StatementID != "s-existing" {
		t.Fatalf("Triples[0].StatementID = %q, want s-existing", res.Triples[0].StatementID)
	}
}

func TestResolveContradictionInvalidates(t *testing.T) {
	store := &fakeStore{
		contradictory: []domain.Statement{{UUID: "s-old"}},
		triples:       map[string]domain.Triple{"s-old": {Fact: "John lives in SF"}},
	}
	gen := &fakeGenerator{text: `<output>[{"statementId":0,"isDuplicate":false,"duplicateId":"","contradictions":["s-old"]}]</output>`}
	r := New(store, gen)
	triples := []NewTriple{{Triple: domain.Triple{SubjectID: "sub1", PredicateID: "pred1", Fact: "John lives in NY"}}}
	res, err := r.Resolve(context.Background(), "u1", nil, triples)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Invalidate) != 1 || res.Invalidate[0] != "s-old" {
		t.Fatalf("Invalidate = %v", res.Invalidate)
	}
	if res.Triples[0].StatementID != "" {
		t.Fatalf("Triples[0].StatementID = %q, want empty (new statement)", res.Triples[0].StatementID)
	}
}

func TestResolveUnparseableFallsBackVerbatim(t *testing.T) {
	store := &fakeStore{contradictory: []domain.Statement{{UUID: "s-old"}}, triples: map[string]domain.Triple{}}
	gen := &fakeGenerator{text: "garbage"}
	r := New(store, gen)
	triples := []NewTriple{{Triple: domain.Triple{SubjectID: "sub1", PredicateID: "pred1", Fact: "fact"}}}
	res, err := r.Resolve(context.Background(), "u1", nil, triples)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Invalidate) != 0 || res.Triples[0].StatementID != "" {
		t.Fatalf("Resolve() fallback = %+v", res)
	}
}
