package chunker

import "strings"

// Config holds the token thresholds the chunking algorithm is tuned
// around (spec §4.3 defaults).
type Config struct {
	Target       int
	Min          int
	Max          int
	MinParagraph int
}

// DefaultConfig returns spec §4.3's stated defaults.
func DefaultConfig() Config {
	return Config{Target: 3000, Min: 1000, Max: 5000, MinParagraph: 100}
}

// TextChunk is one emitted piece of a chunked document.
type TextChunk struct {
	Text        string
	Index       int
	Context     string
	ContentHash string
}

// Result is the full chunking output for one document (spec §4.3).
type Result struct {
	Chunks      []TextChunk
	TotalChunks int
	ContentHash string
	ChunkHashes []string
}

// Chunk splits originalContent into deterministic, token-bounded pieces.
// Same input always yields identical ContentHash/ChunkHashes/boundaries
// (spec §4.3 "Determinism").
func Chunk(originalContent string, cfg Config) Result {
	if cfg.Target <= 0 {
		cfg = DefaultConfig()
	}

	sections := splitSections(originalContent)

	var chunks []TextChunk
	var buf strings.Builder
	bufTokens := 0
	bufContext := ""

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			return
		}
		chunks = append(chunks, TextChunk{Text: text, Index: len(chunks), Context: bufContext})
		buf.Reset()
		bufTokens = 0
		bufContext = ""
	}

	appendText := func(s string) {
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(s)
		bufTokens += countTokens(s)
	}

	for _, sec := range sections {
		secCtx := deriveContext(sec.Header, sec.Body)
		secText := sec.Body
		if sec.Header != "" {
			secText = sec.Header + "\n" + sec.Body
		}
		secTokens := countTokens(secText)

		// Step ii: a whole new section that would blow past MAX forces a
		// flush of whatever's accumulated so far, as long as it already
		// clears MIN.
		if bufTokens > 0 && bufTokens+secTokens > cfg.Max && bufTokens >= cfg.Min {
			flush()
		}
		if bufContext == "" {
			bufContext = secCtx
		}

		paragraphs := splitParagraphs(secText)
		if len(paragraphs) < 2 {
			appendText(strings.TrimSpace(secText))
			continue
		}

		// Step iii: once the running total would cross TARGET partway
		// through a multi-paragraph section, find the paragraph boundary
		// that lands closest to TARGET and split there.
		splitAt := -1
		bestDiff := -1
		running := bufTokens
		for i, p := range paragraphs {
			running += countTokens(p)
			if running < cfg.Target {
				continue
			}
			after := secTokens + bufTokens - running
			if running < cfg.Min || after < cfg.MinParagraph {
				continue
			}
			diff := running - cfg.Target
			if diff < 0 {
				diff = -diff
			}
			if splitAt == -1 || diff < bestDiff {
				splitAt = i
				bestDiff = diff
			}
		}

		if splitAt == -1 {
			appendText(strings.TrimSpace(secText))
			continue
		}

		appendText(strings.Join(paragraphs[:splitAt+1], "\n\n"))
		flush()
		bufContext = secCtx
		appendText(strings.Join(paragraphs[splitAt+1:], "\n\n"))
	}

	// Step iv: the final residue stands as its own chunk if it clears
	// MIN_PARAGRAPH or there is no earlier chunk to fold it into.
	if bufTokens >= cfg.MinParagraph {
		flush()
	} else if bufTokens > 0 && len(chunks) > 0 {
		// Too small to stand alone: fold into the previous chunk.
		last := chunks[len(chunks)-1]
		last.Text = last.Text + "\n\n" + strings.TrimSpace(buf.String())
		chunks[len(chunks)-1] = last
	} else if bufTokens > 0 {
		flush()
	}

	hashes := make([]string, len(chunks))
	for i := range chunks {
		chunks[i].ContentHash = contentHash(chunks[i].Text)
		hashes[i] = chunks[i].ContentHash
	}

	return Result{
		Chunks:      chunks,
		TotalChunks: len(chunks),
		ContentHash: contentHash(originalContent),
		ChunkHashes: hashes,
	}
}
