package domain

// DocumentType distinguishes a case's summary record from its content chunks.
type DocumentType string

const (
	DocumentSummary DocumentType = "summary"
	DocumentContent DocumentType = "content"
)

// CaseMetadata is the fixed payload record attached to every indexed
// document. Unknown payload keys from the search service are dropped at
// decode time rather than passed through.
type CaseMetadata struct {
	CaseID       string
	CaseNumber   string
	Court        string
	DecisionDate string
	Judge        string
	URL          string
	ChunkIndex   int
	DocumentType DocumentType
}

// SearchHit is a single scored record returned by the vector search service.
type SearchHit struct {
	Content  string
	Score    float64
	Metadata CaseMetadata
}

// SearchFilter restricts a vector search to a document type and/or a case.
// Zero-valued fields are not applied.
type SearchFilter struct {
	DocumentType DocumentType
	CaseID       string
}

// CaseDocuments groups the retrieved material for a single case: at most
// one summary plus its content chunks, ordered ascending by chunk index.
type CaseDocuments struct {
	Metadata CaseMetadata
	Summary  string
	Chunks   []SearchHit
}

// AggregatedContext is the formatted document context for one retrieval
// call. Cases appear in the order they were first discovered.
type AggregatedContext struct {
	Cases     []CaseDocuments
	Text      string
	Truncated bool
}
