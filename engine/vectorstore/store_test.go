package vectorstore

import "testing"

func TestCollectionName(t *testing.T) {
	s := &Store{prefix: "core"}
	if got := s.collectionName(KindStatement); got != "core_statement" {
		t.Fatalf("expected core_statement, got %s", got)
	}
}

func TestToQdrantValue(t *testing.T) {
	cases := []any{"x", 1, int64(2), 1.5, true, []int{1, 2}}
	for _, c := range cases {
		v := toQdrantValue(c)
		if v == nil || v.Kind == nil {
			t.Fatalf("expected non-nil value for %v", c)
		}
	}
}

func TestFieldMatch(t *testing.T) {
	cond := fieldMatch("user_id", "u1")
	fc := cond.GetField()
	if fc.GetKey() != "user_id" {
		t.Fatalf("expected key user_id, got %s", fc.GetKey())
	}
	if fc.GetMatch().GetKeyword() != "u1" {
		t.Fatalf("expected keyword u1, got %s", fc.GetMatch().GetKeyword())
	}
}
