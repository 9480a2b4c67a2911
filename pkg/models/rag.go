package models

import "time"

// KnowledgeBase is a named set of documents used for retrieval-augmented
// prompting. A knowledge base may be attached to any number of agents.
type KnowledgeBase struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	AgentIDs  []string  `json:"agent_ids,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentStatus tracks the indexing lifecycle of a document.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentIndexing DocumentStatus = "indexing"
	DocumentIndexed  DocumentStatus = "indexed"
	DocumentFailed   DocumentStatus = "failed"
)

// Document is a source file belonging to a knowledge base. Raw bytes are
// referenced either inline (base64) or by file path.
type Document struct {
	ID              string         `json:"id"`
	KnowledgeBaseID string         `json:"knowledge_base_id"`
	Filename        string         `json:"filename"`
	ContentType     string         `json:"content_type"`
	ContentBase64   string         `json:"content_base64,omitempty"`
	FilePath        string         `json:"file_path,omitempty"`
	Status          DocumentStatus `json:"status"`
	Error           string         `json:"error,omitempty"`
	ChunkCount      int            `json:"chunk_count"`
	CreatedAt       time.Time      `json:"created_at"`
}

// DocumentChunk is the unit of retrieval. Indices are contiguous and
// monotonic within a document; reindexing replaces all chunks atomically.
type DocumentChunk struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	ChunkIndex      int       `json:"chunk_index"`
	Content         string    `json:"content"`
	Embedding       []float64 `json:"embedding,omitempty"`
	Filename        string    `json:"filename,omitempty"`
}
