// Package rag implements document indexing and retrieval for
// knowledge bases: parse, chunk, optionally embed, then search by
// cosine similarity or keyword fallback.
package rag

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/primehq/prime/pkg/models"
)

const (
	// searchChunkLimit caps how many chunks one search loads.
	searchChunkLimit = 2000

	// maxQueryKeywords bounds keyword-mode query terms.
	maxQueryKeywords = 8

	// maxIndexError truncates stored failure messages.
	maxIndexError = 500
)

// Store persists RAG entities. Implemented by the storage layer.
type Store interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, indexError string, chunkCount int) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	ListChunks(ctx context.Context, knowledgeBaseID string, limit int) ([]models.DocumentChunk, error)
	ListKnowledgeBasesForAgent(ctx context.Context, agentID string) ([]models.KnowledgeBase, error)
}

// SearchResult is one retrieval hit.
type SearchResult struct {
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
}

// Service runs the indexing pipeline and retrieval.
type Service struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEmbedder sets the vector embedder. Without one, documents are
// indexed unembedded and retrieval uses keyword matching.
func WithEmbedder(e Embedder) Option {
	return func(s *Service) { s.embedder = e }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService builds a RAG service over the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "rag")
	return s
}

// IndexDocument runs the full pipeline for one document: load bytes,
// parse, chunk, embed when an embedder is configured, and atomically
// replace any prior chunks. The document ends indexed or failed.
func (s *Service) IndexDocument(ctx context.Context, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if err := s.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentIndexing, "", 0); err != nil {
		return fmt.Errorf("mark indexing: %w", err)
	}

	chunks, err := s.buildChunks(ctx, doc)
	if err != nil {
		s.logger.Warn("indexing failed", "document_id", doc.ID, "filename", doc.Filename, "error", err)
		msg := err.Error()
		if len(msg) > maxIndexError {
			msg = msg[:maxIndexError]
		}
		if markErr := s.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentFailed, msg, 0); markErr != nil {
			return fmt.Errorf("mark failed: %w", markErr)
		}
		return err
	}

	if err := s.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}
	if err := s.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentIndexed, "", len(chunks)); err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	s.logger.Info("document indexed", "document_id", doc.ID, "filename", doc.Filename, "chunks", len(chunks))
	return nil
}

func (s *Service) buildChunks(ctx context.Context, doc *models.Document) ([]models.DocumentChunk, error) {
	raw, err := loadDocumentBytes(doc)
	if err != nil {
		return nil, err
	}
	text, err := extractText(raw, doc.ContentType, doc.Filename)
	if err != nil {
		return nil, err
	}
	pieces := chunkText(text)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("document %s has no extractable text", doc.Filename)
	}

	var vectors [][]float64
	if s.embedder != nil {
		vectors, err = s.embedder.Embed(ctx, pieces)
		if err != nil {
			// Embedding is best-effort: fall back to keyword-
			// searchable chunks rather than failing the document.
			s.logger.Warn("embedding failed, indexing without vectors", "document_id", doc.ID, "error", err)
			vectors = nil
		}
	}

	chunks := make([]models.DocumentChunk, len(pieces))
	for i, content := range pieces {
		chunks[i] = models.DocumentChunk{
			ID:              uuid.NewString(),
			DocumentID:      doc.ID,
			KnowledgeBaseID: doc.KnowledgeBaseID,
			ChunkIndex:      i,
			Content:         content,
			Filename:        doc.Filename,
		}
		if vectors != nil {
			chunks[i].Embedding = vectors[i]
		}
	}
	return chunks, nil
}

func loadDocumentBytes(doc *models.Document) ([]byte, error) {
	if doc.ContentBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(doc.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("decode document content: %w", err)
		}
		return raw, nil
	}
	if doc.FilePath != "" {
		raw, err := os.ReadFile(doc.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read document file: %w", err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("document %s has no content", doc.ID)
}

// Search retrieves the top-k chunks for a query within one knowledge
// base. Embedded chunks are ranked by cosine similarity against the
// embedded query; if none carry vectors (or no embedder is
// configured) keyword matching ranks by the fraction of distinct
// query terms each chunk contains.
func (s *Service) Search(ctx context.Context, knowledgeBaseID, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	chunks, err := s.store.ListChunks(ctx, knowledgeBaseID, searchChunkLimit)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	var embedded, plain []models.DocumentChunk
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			embedded = append(embedded, c)
		} else {
			plain = append(plain, c)
		}
	}

	if len(embedded) > 0 && s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{query})
		if err == nil && len(vectors) == 1 {
			return rankByCosine(embedded, vectors[0], topK), nil
		}
		s.logger.Warn("query embedding failed, using keyword search", "error", err)
		plain = chunks
	} else if len(embedded) > 0 {
		plain = chunks
	}

	return rankByKeywords(plain, query, topK), nil
}

func rankByCosine(chunks []models.DocumentChunk, queryVec []float64, topK int) []SearchResult {
	results := make([]SearchResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, SearchResult{
			Content:    c.Content,
			Score:      cosine(c.Embedding, queryVec),
			Filename:   c.Filename,
			ChunkIndex: c.ChunkIndex,
		})
	}
	sortResults(results)
	return capResults(results, topK)
}

func rankByKeywords(chunks []models.DocumentChunk, query string, topK int) []SearchResult {
	keywords := queryKeywords(query)
	if len(keywords) == 0 {
		return nil
	}
	var results []SearchResult
	for _, c := range chunks {
		content := strings.ToLower(c.Content)
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := math.Round(float64(hits)/float64(len(keywords))*10000) / 10000
		results = append(results, SearchResult{
			Content:    c.Content,
			Score:      score,
			Filename:   c.Filename,
			ChunkIndex: c.ChunkIndex,
		})
	}
	sortResults(results)
	return capResults(results, topK)
}

// queryKeywords tokenizes a query into up to maxQueryKeywords
// lowercase terms longer than two characters.
func queryKeywords(query string) []string {
	var keywords []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		term := strings.Trim(field, `.,;:!?"'()[]{}`)
		if len(term) <= 2 {
			continue
		}
		keywords = append(keywords, term)
		if len(keywords) >= maxQueryKeywords {
			break
		}
	}
	return keywords
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func capResults(results []SearchResult, topK int) []SearchResult {
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// AgentContext unions top-k results across every active knowledge
// base attached to the agent, re-ranks by score, and formats the
// survivors as a system prompt prefix. Empty when nothing matches.
func (s *Service) AgentContext(ctx context.Context, agentID, query string, topK int) (string, error) {
	if topK <= 0 {
		topK = 5
	}
	kbs, err := s.store.ListKnowledgeBasesForAgent(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("load knowledge bases: %w", err)
	}

	var all []SearchResult
	for _, kb := range kbs {
		if !kb.Active {
			continue
		}
		results, err := s.Search(ctx, kb.ID, query, topK)
		if err != nil {
			s.logger.Warn("knowledge base search failed", "kb_id", kb.ID, "error", err)
			continue
		}
		all = append(all, results...)
	}
	if len(all) == 0 {
		return "", nil
	}
	sortResults(all)
	all = capResults(all, topK)

	var b strings.Builder
	b.WriteString("Relevant knowledge base context:\n\n")
	for _, r := range all {
		fmt.Fprintf(&b, "[%s #%d] %s\n\n", r.Filename, r.ChunkIndex, r.Content)
	}
	return strings.TrimSpace(b.String()), nil
}
