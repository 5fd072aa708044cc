package domain

// QueryType is the closed set of classifications a query can receive
type QueryType string

const (
	QueryTypeGeneral       QueryType = "GENERAL"
	QueryTypePolicy        QueryType = "POLICY"
	QueryTypeClarification QueryType = "CLARIFICATION"
)

// Valid reports whether t is one of the three known classifications
func (t QueryType) Valid() bool {
	switch t {
	case QueryTypeGeneral, QueryTypePolicy, QueryTypeClarification:
		return true
	}
	return false
}

// Method describes how an answer was produced
type Method string

const (
	MethodDirect Method = "direct"
	MethodRAG    Method = "rag"
)

// Metadata keys of AgentResponse
const (
	MetaQueryType          = "query_type"
	MetaMethod             = "method"
	MetaProcessingTime     = "processing_time"
	MetaProvider           = "provider"
	MetaEnvironment        = "environment"
	MetaRetrievedDocuments = "retrieved_documents"
	MetaClassifiedBy       = "classified_by"
	MetaError              = "error"
)

// AskRequest is the inbound query
type AskRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// AgentResponse is the result of processing one turn
type AgentResponse struct {
	Answer    string         `json:"answer"`
	Source    []string       `json:"source"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata"`

	// Details backs the detailed endpoint; one entry per Source
	Details []SourceDetail `json:"-"`
}

// Failed reports whether the turn ended on the error path
func (r *AgentResponse) Failed() bool {
	_, ok := r.Metadata[MetaError]
	return ok
}

// SourceDetail is a source entry of the detailed response
type SourceDetail struct {
	Document       string   `json:"document"`
	Page           *int     `json:"page,omitempty"`
	ChunkID        string   `json:"chunk_id,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// DetailedAskResponse flattens method and timing out of the metadata
type DetailedAskResponse struct {
	Answer         string         `json:"answer"`
	Sources        []SourceDetail `json:"sources"`
	SessionID      string         `json:"session_id"`
	Method         string         `json:"method"`
	ProcessingTime float64        `json:"processing_time"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Stats is the aggregate statistics payload
type Stats struct {
	Memory        MemoryStats `json:"memory"`
	Provider      string      `json:"provider"`
	Environment   string      `json:"environment"`
	VectorStore   string      `json:"vector_store"`
	IndexedChunks int         `json:"indexed_chunks"`
}

// Stream chunk types
const (
	ChunkSources = "sources"
	ChunkContent = "content"
	ChunkDone    = "done"
	ChunkError   = "error"
)

// StreamChunk is one server-sent event of a streamed answer
type StreamChunk struct {
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`
	Sources   []string       `json:"sources,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
