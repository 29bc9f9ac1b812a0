// Package chunk turns raw document text into bounded, overlapping,
// metadata-rich chunks suitable for embedding and indexing.
//
// The splitter works on structural boundaries first (markdown headings,
// paragraph breaks, sentence ends), accumulating spans up to the target
// size and hard-splitting at the maximum size only when no boundary is
// available. Each chunk is scored for information density and coherence;
// quality filtering drops low-value chunks but never all chunks of a
// document.
package chunk

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ddunnock/mnemosyne/internal/log"
)

// Chunker splits documents according to a fixed set of options.
// It is stateless and safe for concurrent use.
type Chunker struct {
	opts   Options
	logger log.Logger
}

// New creates a Chunker. A nil logger falls back to a no-op logger.
func New(opts Options, logger log.Logger) (*Chunker, error) {
	if opts.MinSize <= 0 || opts.TargetSize < opts.MinSize || opts.MaxSize < opts.TargetSize {
		return nil, fmt.Errorf("invalid chunk sizes: min=%d target=%d max=%d",
			opts.MinSize, opts.TargetSize, opts.MaxSize)
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.MinSize {
		return nil, fmt.Errorf("invalid overlap %d: must be in [0, minSize)", opts.Overlap)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Chunker{opts: opts, logger: logger}, nil
}

// Split chunks one document. An empty document yields zero chunks and nil
// error (a no-op, per the ingestion contract). A document shorter than
// MinSize yields exactly one chunk holding the full text.
func (c *Chunker) Split(docID, docTitle, text string) []Chunk {
	if text == "" {
		return nil
	}

	now := time.Now()

	if len(text) < c.opts.MinSize {
		ch := c.buildChunk(docID, docTitle, 0, text, nil, now)
		return []Chunk{ch}
	}

	spans := c.cutSpans(text)
	headings := scanHeadings(text)

	chunks := make([]Chunk, 0, len(spans))
	for i, sp := range spans {
		// Prepend the trailing overlap of the previous span to preserve
		// cross-boundary context. Span starts are always >= MinSize for
		// i > 0, and overlap < MinSize, so the slice is in range.
		lo := sp.start
		if i > 0 && c.opts.Overlap > 0 {
			lo = sp.start - c.opts.Overlap
		}
		ch := c.buildChunk(docID, docTitle, i, text[lo:sp.end], breadcrumbAt(headings, sp.start), now)
		chunks = append(chunks, ch)
	}

	if c.opts.QualityFilter {
		chunks = c.filterByQuality(docID, chunks)
	}

	return chunks
}

type span struct {
	start, end int
}

// cutSpans computes the contiguous core spans of the document. The spans
// partition the text exactly: span[i].end == span[i+1].start.
func (c *Chunker) cutSpans(text string) []span {
	var boundaries []int
	if c.opts.RespectBoundary {
		boundaries = scanBoundaries(text)
	}

	var spans []span
	start := 0
	for start < len(text) {
		remaining := len(text) - start
		if remaining <= c.opts.TargetSize {
			spans = append(spans, span{start, len(text)})
			break
		}

		limit := start + c.opts.MaxSize
		if limit > len(text) {
			limit = len(text)
		}

		cut := bestBoundary(boundaries, start+c.opts.MinSize, limit, start+c.opts.TargetSize)
		if cut < 0 {
			if remaining <= c.opts.MaxSize {
				// No boundary, but the remainder fits under the hard cap.
				spans = append(spans, span{start, len(text)})
				break
			}
			cut = start + c.opts.MaxSize
		}

		spans = append(spans, span{start, cut})
		start = cut
	}
	return spans
}

// bestBoundary returns the boundary in [lo, hi] closest to ideal, or -1.
func bestBoundary(boundaries []int, lo, hi, ideal int) int {
	best := -1
	bestDist := -1
	i := sort.SearchInts(boundaries, lo)
	for ; i < len(boundaries) && boundaries[i] <= hi; i++ {
		d := boundaries[i] - ideal
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best = boundaries[i]
			bestDist = d
		}
	}
	return best
}

// scanBoundaries collects candidate cut indices in ascending order:
// heading line starts, paragraph breaks, and sentence ends. A cut at
// index i means one span ends at i and the next begins at i.
func scanBoundaries(text string) []int {
	set := make(map[int]struct{})

	// Heading starts: cut before the '#' so the heading leads its section.
	lineStart := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			if lineStart > 0 && strings.HasPrefix(text[lineStart:i], "#") {
				set[lineStart] = struct{}{}
			}
			lineStart = i + 1
		}
	}

	// Paragraph breaks: cut after the blank line.
	for i := 0; i+1 < len(text); i++ {
		if text[i] == '\n' && text[i+1] == '\n' {
			set[i+2] = struct{}{}
		}
	}

	// Sentence ends: cut after terminal punctuation + space/newline.
	for i := 0; i+1 < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' || text[i+1] == '\n' {
				set[i+2] = struct{}{}
			}
		}
	}

	out := make([]int, 0, len(set))
	for b := range set {
		if b > 0 && b < len(text) {
			out = append(out, b)
		}
	}
	sort.Ints(out)
	return out
}

// heading is a parsed markdown heading with its byte offset.
type heading struct {
	offset int
	level  int
	title  string
}

func scanHeadings(text string) []heading {
	var out []heading
	lineStart := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			line := text[lineStart:i]
			if level := headingLevel(line); level > 0 {
				out = append(out, heading{
					offset: lineStart,
					level:  level,
					title:  strings.TrimSpace(strings.TrimLeft(line, "# ")),
				})
			}
			lineStart = i + 1
		}
	}
	return out
}

func headingLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(line) || line[n] != ' ' {
		return 0
	}
	return n
}

// breadcrumbAt returns the heading path in effect at the given offset.
func breadcrumbAt(headings []heading, offset int) []string {
	var stack []heading
	for _, h := range headings {
		if h.offset > offset {
			break
		}
		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, h)
	}
	if len(stack) == 0 {
		return nil
	}
	path := make([]string, len(stack))
	for i, h := range stack {
		path[i] = h.title
	}
	return path
}

func (c *Chunker) buildChunk(docID, docTitle string, ordinal int, text string, section []string, now time.Time) Chunk {
	density, coherence := scoreQuality(text)
	return Chunk{
		ID:            fmt.Sprintf("%s#%d", docID, ordinal),
		DocID:         docID,
		DocTitle:      docTitle,
		Ordinal:       ordinal,
		Text:          text,
		CharLen:       len(text),
		TokenEstimate: estimateTokens(text),
		SectionPath:   section,
		ContentType:   classify(text),
		Keywords:      extractKeywords(text, 8),
		Density:       density,
		Coherence:     coherence,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
}

// filterByQuality drops chunks scoring below the threshold. A document
// never loses all of its chunks: if every chunk fails, the single
// highest-scoring chunk is retained.
func (c *Chunker) filterByQuality(docID string, chunks []Chunk) []Chunk {
	kept := make([]Chunk, 0, len(chunks))
	bestIdx := 0
	for i, ch := range chunks {
		if qualityScore(ch) >= c.opts.QualityThreshold {
			kept = append(kept, ch)
		}
		if qualityScore(ch) > qualityScore(chunks[bestIdx]) {
			bestIdx = i
		}
	}
	if len(kept) == 0 && len(chunks) > 0 {
		c.logger.Debug("all chunks below quality threshold, keeping best",
			"doc_id", docID, "score", qualityScore(chunks[bestIdx]))
		kept = append(kept, chunks[bestIdx])
	}
	if dropped := len(chunks) - len(kept); dropped > 0 {
		c.logger.Debug("dropped low-quality chunks", "doc_id", docID, "dropped", dropped)
	}
	return kept
}

func qualityScore(ch Chunk) float64 {
	return 0.5*ch.Density + 0.5*ch.Coherence
}

// estimateTokens provides a rough token count: rune count divided by 2 is
// a conservative estimate covering both English and CJK text.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// classify tags a chunk with a coarse content type used for metadata
// filtering at retrieval time.
func classify(text string) string {
	if strings.Contains(text, "```") {
		return ContentCode
	}

	lines := strings.Split(text, "\n")
	numbered, linkish, indented := 0, 0, 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 2 && trimmed[0] >= '1' && trimmed[0] <= '9' && (trimmed[1] == '.' || trimmed[1] == ')') {
			numbered++
		}
		if strings.Contains(trimmed, "](") || strings.Contains(trimmed, "http://") || strings.Contains(trimmed, "https://") {
			linkish++
		}
		if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
			indented++
		}
	}

	switch {
	case len(lines) > 2 && indented*2 > len(lines):
		return ContentCode
	case numbered >= 3:
		return ContentProcedure
	case linkish >= 3:
		return ContentReference
	default:
		return ContentConcept
	}
}

// extractKeywords returns up to limit frequent terms, stopwords excluded.
// Ties are broken alphabetically for deterministic output.
func extractKeywords(text string, limit int) []string {
	freq := make(map[string]int)
	for _, tok := range Tokenize(text) {
		freq[tok]++
	}

	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

// Tokenize lowercases text and splits it into index terms, dropping
// stopwords and terms shorter than three characters. Shared with the
// keyword scoring in the vector store.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true,
	"have": true, "this": true, "that": true, "with": true, "they": true,
	"from": true, "will": true, "would": true, "there": true, "their": true,
	"what": true, "about": true, "which": true, "when": true, "were": true,
	"been": true, "more": true, "also": true, "into": true, "than": true,
	"then": true, "them": true, "these": true, "some": true, "its": true,
	"your": true, "each": true, "other": true, "such": true, "only": true,
}
