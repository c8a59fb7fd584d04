package space

import (
	"context"
	"testing"
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/llm"
)

type fakeStore struct {
	spaces        map[string]domain.Space
	spacesByName  map[[2]string]string // (workspaceID, name) -> uuid
	statements    map[string]domain.Statement
	bySpace       map[string][]string // spaceUUID -> statement uuids
	deletedSpaces map[string]bool
	analyzeCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		spaces:        make(map[string]domain.Space),
		spacesByName:  make(map[[2]string]string),
		statements:    make(map[string]domain.Statement),
		bySpace:       make(map[string][]string),
		deletedSpaces: make(map[string]bool),
	}
}

func (f *fakeStore) SaveSpace(_ context.Context, sp domain.Space) error {
	f.spaces[sp.UUID] = sp
	f.spacesByName[[2]string{sp.WorkspaceID, sp.Name}] = sp.UUID
	return nil
}

func (f *fakeStore) GetSpacesForWorkspace(_ context.Context, workspaceID string) ([]domain.Space, error) {
	var out []domain.Space
	for _, sp := range f.spaces {
		if sp.WorkspaceID == workspaceID && sp.IsActive {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSpaceByName(_ context.Context, workspaceID, name string) (domain.Space, bool, error) {
	uuid, ok := f.spacesByName[[2]string{workspaceID, name}]
	if !ok {
		return domain.Space{}, false, nil
	}
	return f.spaces[uuid], true, nil
}

func (f *fakeStore) GetSpaceByUUID(_ context.Context, spaceUUID string) (domain.Space, bool, error) {
	sp, ok := f.spaces[spaceUUID]
	return sp, ok, nil
}

func (f *fakeStore) AssignStatementToSpace(_ context.Context, statementUUID, spaceUUID, method string) error {
	st := f.statements[statementUUID]
	st.SpaceIDs = append(st.SpaceIDs, spaceUUID)
	f.statements[statementUUID] = st
	f.bySpace[spaceUUID] = append(f.bySpace[spaceUUID], statementUUID)
	_ = method
	return nil
}

func (f *fakeStore) RemoveStatementFromSpace(_ context.Context, statementUUID, spaceUUID string) error {
	var kept []string
	for _, id := range f.bySpace[spaceUUID] {
		if id != statementUUID {
			kept = append(kept, id)
		}
	}
	f.bySpace[spaceUUID] = kept
	return nil
}

func (f *fakeStore) GetSpaceStatements(_ context.Context, spaceUUID, _ string) ([]domain.Statement, error) {
	var out []domain.Statement
	for _, id := range f.bySpace[spaceUUID] {
		out = append(out, f.statements[id])
	}
	return out, nil
}

func (f *fakeStore) GetValidStatements(_ context.Context, userID string) ([]domain.Statement, error) {
	var out []domain.Statement
	for _, st := range f.statements {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteSpace(_ context.Context, spaceUUID string) error {
	sp := f.spaces[spaceUUID]
	sp.IsActive = false
	f.spaces[spaceUUID] = sp
	f.deletedSpaces[spaceUUID] = true
	return nil
}

func (f *fakeStore) MarkSpaceAnalyzed(_ context.Context, spaceUUID string, expectedCount, newCount int) (bool, error) {
	sp, ok := f.spaces[spaceUUID]
	if !ok || sp.StatementCountAtLastTrigger != expectedCount {
		return false, nil
	}
	f.analyzeCalls++
	now := time.Now()
	sp.StatementCountAtLastTrigger = newCount
	sp.LastPatternTrigger = &now
	f.spaces[spaceUUID] = sp
	return true, nil
}

type fakeGenerator struct{ text string }

func (f *fakeGenerator) Generate(_ context.Context, _ llm.GenerateOpts) (llm.GenerateResult, error) {
	return llm.GenerateResult{Text: f.text}, nil
}

func TestCreateSpaceRejectsDuplicateName(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakeGenerator{})

	n := 0
	newUUID := func() string { n++; return "id" }

	sp := domain.Space{Name: "Travel", WorkspaceID: "ws1"}
	if _, err := svc.CreateSpace(context.Background(), sp, newUUID); err != nil {
		t.Fatalf("first CreateSpace() error = %v", err)
	}
	if _, err := svc.CreateSpace(context.Background(), sp, newUUID); err == nil {
		t.Fatalf("second CreateSpace() error = nil, want ErrSpaceNameTaken")
	}
}

func TestCreateSpaceRejectsInvalidParams(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakeGenerator{})

	_, err := svc.CreateSpace(context.Background(), domain.Space{WorkspaceID: "ws1"}, func() string { return "id" })
	if err == nil {
		t.Fatalf("CreateSpace() with empty name error = nil, want validation error")
	}
}

func TestUpdateSpaceRenamesAndChecksUniqueness(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakeGenerator{})
	n := 0
	newUUID := func() string { n++; return "space-" + string(rune('0'+n)) }

	a, _ := svc.CreateSpace(context.Background(), domain.Space{Name: "Travel", WorkspaceID: "ws1"}, newUUID)
	b, _ := svc.CreateSpace(context.Background(), domain.Space{Name: "Work", WorkspaceID: "ws1"}, newUUID)

	if _, err := svc.UpdateSpace(context.Background(), b.UUID, a.Name, "desc"); err == nil {
		t.Fatalf("UpdateSpace() renaming to taken name error = nil")
	}

	updated, err := svc.UpdateSpace(context.Background(), b.UUID, "Career", "new desc")
	if err != nil {
		t.Fatalf("UpdateSpace() error = %v", err)
	}
	if updated.Name != "Career" || updated.Description != "new desc" {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestDeleteSpaceMissingReturnsNotFound(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakeGenerator{})
	if err := svc.DeleteSpace(context.Background(), "missing"); err != domain.ErrSpaceNotFound {
		t.Fatalf("DeleteSpace() error = %v, want ErrSpaceNotFound", err)
	}
}

func TestAssignUnassignedStatementsAcceptsValidVerdict(t *testing.T) {
	store := newFakeStore()
	store.spaces["space-1"] = domain.Space{UUID: "space-1", WorkspaceID: "ws1", Name: "Travel", IsActive: true}
	store.statements["s1"] = domain.Statement{UUID: "s1", UserID: "user-1", Fact: "booked a flight to Tokyo"}

	gen := &fakeGenerator{text: `<output>[{"statementId": 0, "spaceId": "space-1"}]</output>`}
	svc := New(store, gen)

	res, err := svc.AssignUnassignedStatements(context.Background(), "user-1", "ws1")
	if err != nil {
		t.Fatalf("AssignUnassignedStatements() error = %v", err)
	}
	if res.Assigned != 1 {
		t.Fatalf("Assigned = %d, want 1", res.Assigned)
	}
	if len(store.statements["s1"].SpaceIDs) != 1 {
		t.Fatalf("statement not assigned: %+v", store.statements["s1"])
	}
}

func TestAssignUnassignedStatementsFallsBackOnParseFailure(t *testing.T) {
	store := newFakeStore()
	store.spaces["space-1"] = domain.Space{UUID: "space-1", WorkspaceID: "ws1", Name: "Travel", IsActive: true}
	store.statements["s1"] = domain.Statement{UUID: "s1", UserID: "user-1", Fact: "booked a flight"}

	gen := &fakeGenerator{text: "not an envelope"}
	svc := New(store, gen)

	res, err := svc.AssignUnassignedStatements(context.Background(), "user-1", "ws1")
	if err != nil {
		t.Fatalf("AssignUnassignedStatements() error = %v", err)
	}
	if res.Assigned != 0 {
		t.Fatalf("Assigned = %d, want 0 on parse failure", res.Assigned)
	}
}

func TestAssignUnassignedStatementsNoSpacesIsNoop(t *testing.T) {
	store := newFakeStore()
	store.statements["s1"] = domain.Statement{UUID: "s1", UserID: "user-1", Fact: "fact"}
	svc := New(store, &fakeGenerator{text: `<output>[]</output>`})

	res, err := svc.AssignUnassignedStatements(context.Background(), "user-1", "ws1")
	if err != nil {
		t.Fatalf("AssignUnassignedStatements() error = %v", err)
	}
	if res.Assigned != 0 {
		t.Fatalf("Assigned = %d, want 0", res.Assigned)
	}
}

func TestCheckGrowthTriggerFiresWhenNeverAnalyzed(t *testing.T) {
	store := newFakeStore()
	store.spaces["space-1"] = domain.Space{UUID: "space-1", StatementCountAtLastTrigger: 0}
	store.bySpace["space-1"] = []string{"s1", "s2"}
	store.statements["s1"] = domain.Statement{UUID: "s1"}
	store.statements["s2"] = domain.Statement{UUID: "s2"}

	svc := New(store, &fakeGenerator{})
	fired, err := svc.CheckGrowthTrigger(context.Background(), "space-1", "user-1")
	if err != nil {
		t.Fatalf("CheckGrowthTrigger() error = %v", err)
	}
	if !fired {
		t.Fatalf("fired = false, want true (never analyzed)")
	}
	if store.spaces["space-1"].StatementCountAtLastTrigger != 2 {
		t.Fatalf("counter not updated: %+v", store.spaces["space-1"])
	}
}

func TestCheckGrowthTriggerRespectsThreshold(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.spaces["space-1"] = domain.Space{UUID: "space-1", StatementCountAtLastTrigger: 5, LastPatternTrigger: &now}
	for i := 0; i < 10; i++ {
		id := "s" + string(rune('0'+i))
		store.statements[id] = domain.Statement{UUID: id}
		store.bySpace["space-1"] = append(store.bySpace["space-1"], id)
	}

	svc := New(store, &fakeGenerator{})
	fired, err := svc.CheckGrowthTrigger(context.Background(), "space-1", "user-1")
	if err != nil {
		t.Fatalf("CheckGrowthTrigger() error = %v", err)
	}
	if fired {
		t.Fatalf("fired = true, want false (delta %d < threshold)", 10-5)
	}
}

func TestCheckGrowthTriggerUnknownSpace(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakeGenerator{})
	if _, err := svc.CheckGrowthTrigger(context.Background(), "missing", "user-1"); err != domain.ErrSpaceNotFound {
		t.Fatalf("CheckGrowthTrigger() error = %v, want ErrSpaceNotFound", err)
	}
}
