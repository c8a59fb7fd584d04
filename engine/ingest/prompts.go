package ingest

import (
	"fmt"
	"strings"

	"github.com/jmagar/core-sub000/domain"
)

// normalizationSystemPrompt varies slightly for conversation vs document
// episodes per spec §4.6 step 2.
func normalizationSystemPrompt(t domain.IngestType) string {
	base := `You turn a raw episode into a normalized, third-person memory statement. Preserve every fact, date, and name. Resolve pronouns using the session context when given. If the episode body contains nothing worth remembering (greetings, acknowledgements, filler), respond with exactly the token ` + domain.NothingToRemember + ` instead of an episode. Respond only with the requested <output> block.`
	if t == domain.IngestDocument {
		return base + " The episode body is an excerpt of a larger document; normalize it as a standalone passage."
	}
	return base
}

func buildNormalizationPrompt(s state) string {
	var b strings.Builder
	if s.sessionContext != "" {
		b.WriteString("## Session context\n")
		b.WriteString(s.sessionContext)
		b.WriteString("\n")
	}
	if s.relatedMemories != "" {
		b.WriteString(s.relatedMemories)
		b.WriteString("\n")
	}
	b.WriteString("## Episode\n")
	b.WriteString(s.req.EpisodeBody)
	b.WriteString("\n\nRespond with <output>normalized text, or ")
	b.WriteString(domain.NothingToRemember)
	b.WriteString("</output>\n")
	return b.String()
}

const entityExtractionSystemPrompt = `Extract every distinct named entity (person, place, organization, object, concept) mentioned in the episode. Respond only with the requested <output> JSON array of entity name strings, deduplicated, no pronouns.`

func buildEntityExtractionPrompt(s state) string {
	return fmt.Sprintf("## Episode\n%s\n\nRespond with <output>[\"entity name\", ...]</output>\n", s.episode.Content)
}

const statementExtractionSystemPrompt = `Extract every factual relationship between the given entities as a (source, predicate, target) triple grounded in the episode text. source and target must each exactly match one of the supplied entity names. predicate is a short snake_case relation name. fact is the natural-language sentence the triple is extracted from. Never emit a triple whose source and target are the same entity. Respond only with the requested <output> JSON array.`

func buildStatementExtractionPrompt(s state) string {
	var b strings.Builder
	b.WriteString("## Entities\n")
	for _, n := range s.extractedNames {
		fmt.Fprintf(&b, "- %s\n", n)
	}
	b.WriteString("\n## Episode\n")
	b.WriteString(s.episode.Content)
	b.WriteString("\n\nRespond with <output>[{\"source\": \"...\", \"predicate\": \"...\", \"target\": \"...\", \"fact\": \"...\"}, ...]</output>\n")
	return b.String()
}
