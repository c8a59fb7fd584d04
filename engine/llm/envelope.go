package llm

import (
	"encoding/json"
	"regexp"

	"github.com/jmagar/core-sub000/domain"
)

var envelopeRe = regexp.MustCompile(`(?s)<output>(.*?)</output>`)

// ParseEnvelope extracts the content of the first <output>...</output>
// block from a generator completion. Every prompt in this system asks
// the model to wrap its structured answer in this tag; parsing it is
// common infrastructure even though interpreting the contents is each
// caller's own job (spec §4.2).
func ParseEnvelope(text string) (string, error) {
	m := envelopeRe.FindStringSubmatch(text)
	if m == nil {
		return "", domain.NewParseError("envelope", errNoOutputTag)
	}
	return m[1], nil
}

// ParseEnvelopeJSON extracts the envelope and unmarshals it as JSON into
// dst, the shape nearly every extraction/resolution prompt uses.
func ParseEnvelopeJSON(text string, dst any) error {
	raw, err := ParseEnvelope(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return domain.NewParseError("envelope-json", err)
	}
	return nil
}

var errNoOutputTag = &parseTagError{}

type parseTagError struct{}

func (e *parseTagError) Error() string { return "no <output> tag found in completion" }
