package graphstore

import (
	"testing"
	"time"
)

func TestStrProp(t *testing.T) {
	props := map[string]any{"name": "alice", "other": 5}
	if got := strProp(props, "name"); got != "alice" {
		t.Fatalf("strProp() = %q, want alice", got)
	}
	if got := strProp(props, "missing"); got != "" {
		t.Fatalf("strProp() missing = %q, want empty", got)
	}
}

func TestIntProp(t *testing.T) {
	cases := map[string]any{"a": int64(3), "b": 4, "c": float64(5)}
	for key, want := range map[string]int{"a": 3, "b": 4, "c": 5} {
		if got := intProp(cases, key); got != want {
			t.Fatalf("intProp(%s) = %d, want %d", key, got, want)
		}
	}
}

func TestFloatProp(t *testing.T) {
	props := map[string]any{"a": float64(1.5), "b": int64(2)}
	if got := floatProp(props, "a"); got != 1.5 {
		t.Fatalf("floatProp(a) = %v, want 1.5", got)
	}
	if got := floatProp(props, "b"); got != 2 {
		t.Fatalf("floatProp(b) = %v, want 2", got)
	}
}

func TestTimeProp(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	props := map[string]any{"created_at": now.Format(rfc3339)}
	got := timeProp(props, "created_at")
	if !got.Equal(now) {
		t.Fatalf("timeProp() = %v, want %v", got, now)
	}
	if !timeProp(props, "missing").IsZero() {
		t.Fatal("timeProp() missing should be zero value")
	}
}

func TestTimePtrProp(t *testing.T) {
	if timePtrProp(map[string]any{}, "invalid_at") != nil {
		t.Fatal("timePtrProp() on missing key should be nil")
	}
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	props := map[string]any{"invalid_at": now.Format(rfc3339)}
	got := timePtrProp(props, "invalid_at")
	if got == nil || !got.Equal(now) {
		t.Fatalf("timePtrProp() = %v, want %v", got, now)
	}
}

func TestStringSliceProp(t *testing.T) {
	props := map[string]any{"labels": []any{"a", "b", 3}}
	got := stringSliceProp(props, "labels")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("stringSliceProp() = %v", got)
	}
}

func TestJSONPropRoundtrip(t *testing.T) {
	src := map[string]any{"confidence": 0.9}
	encoded := toJSON(src)
	props := map[string]any{"attributes": encoded}
	attrs := jsonProp(props, "attributes")
	conf, ok := attrs.Confidence()
	if !ok || conf != 0.9 {
		t.Fatalf("jsonProp() roundtrip confidence = %v, ok=%v", conf, ok)
	}
}

func TestMapStringStringProp(t *testing.T) {
	encoded := toJSON(map[string]string{"color": "red"})
	props := map[string]any{"attributes": encoded}
	got := mapStringStringProp(props, "attributes")
	if got["color"] != "red" {
		t.Fatalf("mapStringStringProp() = %v", got)
	}
	if mapStringStringProp(map[string]any{}, "missing") != nil {
		t.Fatal("mapStringStringProp() on missing key should be nil")
	}
}
