package chunk

import "time"

// Content classification tags attached to chunks during splitting.
const (
	ContentConcept   = "concept"
	ContentProcedure = "procedure"
	ContentReference = "reference"
	ContentCode      = "code"
)

// Chunk is a bounded span of source-document text prepared for indexing.
// Its Text is a contiguous slice of the source document, optionally
// prefixed with the trailing overlap of the previous chunk.
type Chunk struct {
	ID       string // stable: "<docID>#<ordinal>"
	DocID    string
	DocTitle string
	Ordinal  int

	Text          string
	CharLen       int
	TokenEstimate int

	SectionPath []string // heading breadcrumb at chunk start
	ContentType string   // one of the Content* constants
	Keywords    []string

	// Quality scores in [0,1].
	Density   float64
	Coherence float64

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Options configures the chunker.
type Options struct {
	TargetSize      int  // preferred chunk size in characters
	MinSize         int  // no cut produces a span shorter than this, except the final remainder
	MaxSize         int  // hard upper bound; forces a cut when no boundary is available
	Overlap         int  // trailing characters of the previous chunk prepended to the next
	RespectBoundary bool // prefer structural boundaries (headings, paragraphs, sentences)

	QualityFilter    bool
	QualityThreshold float64 // chunks scoring below are dropped (never all of them)
}

// DefaultOptions returns chunking defaults matching the application config.
func DefaultOptions() Options {
	return Options{
		TargetSize:       1200,
		MinSize:          200,
		MaxSize:          2000,
		Overlap:          150,
		RespectBoundary:  true,
		QualityFilter:    true,
		QualityThreshold: 0.3,
	}
}
