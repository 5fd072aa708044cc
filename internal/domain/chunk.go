package domain

import "fmt"

// Chunk metadata keys written at ingestion time
const (
	MetadataKeySource   = "source"
	MetadataKeyPage     = "page"
	MetadataKeyChunkID  = "chunk_id"
	MetadataKeyFilePath = "file_path"
	MetadataKeyFileType = "file_type"
)

// ChunkRecord is the unit stored in the vector index
type ChunkRecord struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Source returns the source document name, or "Unknown"
func (r ChunkRecord) Source() string {
	if s, ok := r.Metadata[MetadataKeySource].(string); ok && s != "" {
		return s
	}
	return "Unknown"
}

// Page returns the page number if one was recorded.
// Metadata decoded from JSON carries numbers as float64.
func (r ChunkRecord) Page() (int, bool) {
	switch v := r.Metadata[MetadataKeyPage].(type) {
	case int:
		return v, v > 0
	case int64:
		return int(v), v > 0
	case float64:
		return int(v), v > 0
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n, n > 0
		}
	}
	return 0, false
}

// RetrievedChunk is a chunk returned by the retrieval engine together with
// its scores. Scores are computed at query time and never persisted.
type RetrievedChunk struct {
	ChunkRecord
	Similarity float64 `json:"similarity_score"`
	Relevance  float64 `json:"relevance_score,omitempty"`
}
