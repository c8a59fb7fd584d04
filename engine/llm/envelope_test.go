package llm

import "testing"

func TestParseEnvelope(t *testing.T) {
	text := "some preamble\n<output>{\"ok\":true}</output>\ntrailing"
	got, err := ParseEnvelope(text)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if got != `{"ok":true}` {
		t.Fatalf("ParseEnvelope() = %q", got)
	}
}

func TestParseEnvelopeMissing(t *testing.T) {
	if _, err := ParseEnvelope("no tags here"); err == nil {
		t.Fatal("ParseEnvelope() expected error for missing tag")
	}
}

func TestParseEnvelopeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	text := `<output>{"name":"alice"}</output>`
	var p payload
	if err := ParseEnvelopeJSON(text, &p); err != nil {
		t.Fatalf("ParseEnvelopeJSON() error = %v", err)
	}
	if p.Name != "alice" {
		t.Fatalf("ParseEnvelopeJSON() = %+v", p)
	}
}

func TestParseEnvelopeJSONInvalid(t *testing.T) {
	var p map[string]any
	if err := ParseEnvelopeJSON(`<output>not json</output>`, &p); err == nil {
		t.Fatal("ParseEnvelopeJSON() expected error for invalid JSON")
	}
}
