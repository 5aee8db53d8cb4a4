// Package archival implements the per-user content-addressed fact store:
// BM25 keyword search and brute-force cosine vector search over
// modernc.org/sqlite, combined into a hybrid ranking.
package archival

// FactSource is the closed set of places a fact can originate from.
type FactSource string

const (
	SourceArchival    FactSource = "archival"
	SourceConversation FactSource = "conversation"
	SourceWorker      FactSource = "worker"
	SourceImport      FactSource = "import"
	SourceCLI         FactSource = "cli"
)

// Valid reports whether s is one of the known sources.
func (s FactSource) Valid() bool {
	switch s {
	case SourceArchival, SourceConversation, SourceWorker, SourceImport, SourceCLI:
		return true
	}
	return false
}

// Fact is an immutable, content-addressed archival memory entry.
type Fact struct {
	ID          string
	Content     string
	Source      FactSource
	TimestampMs int64
	ContentHash string // first 16 hex chars of sha256(content)
	Embedding   []float32
}

// SearchResult is one hit from searchKeyword, searchVector, or hybridSearch.
type SearchResult struct {
	Fact
	Score     float64
	MatchedBy []string // "keyword", "vector"
}
