package chunker

import (
	"regexp"
	"strings"
)

var headerRe = regexp.MustCompile(`(?m)^(#{1,6}\s+.*|={3,}|-{3,})$`)

// section is one major-section split of the document: an optional
// header line plus the body text that follows it up to the next header.
type section struct {
	Header string
	Body   string
}

// splitSections splits text on major-section headers (spec §4.3 step
// i): `^(#{1,6}\s+.*|={3,}|-{3,})$`, multiline.
func splitSections(text string) []section {
	locs := headerRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []section{{Body: text}}
	}

	var out []section
	if locs[0][0] > 0 {
		out = append(out, section{Body: text[:locs[0][0]]})
	}
	for i, loc := range locs {
		header := strings.TrimSpace(text[loc[0]:loc[1]])
		bodyStart := loc[1]
		bodyEnd := len(text)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		out = append(out, section{Header: header, Body: text[bodyStart:bodyEnd]})
	}
	return out
}

// splitParagraphs splits a section body on blank lines (spec §4.3 step iii).
func splitParagraphs(text string) []string {
	raw := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	var out []string
	for _, p := range raw {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// deriveContext returns the chunk's label: its section title, or the
// first non-header line truncated to 100 chars (spec §4.3).
func deriveContext(header, body string) string {
	if header != "" {
		return header
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 100 {
			return line[:100]
		}
		return line
	}
	return ""
}
