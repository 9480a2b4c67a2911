package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/primehq/prime/pkg/models"
)

const kbColumns = `id, org_id, name, agent_ids, active, created_at`

func scanKnowledgeBase(row interface{ Scan(...any) error }) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	var agentIDs []byte
	if err := row.Scan(&kb.ID, &kb.OrgID, &kb.Name, &agentIDs, &kb.Active, &kb.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(agentIDs, &kb.AgentIDs); err != nil {
		return nil, err
	}
	return &kb, nil
}

// CreateKnowledgeBase inserts a knowledge base.
func (s *Store) CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	agentIDs, err := marshalJSON(kb.AgentIDs, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (`+kbColumns+`) VALUES (?,?,?,?,?,?)`,
		kb.ID, kb.OrgID, kb.Name, agentIDs, kb.Active, kb.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create knowledge base: %w", err)
	}
	return nil
}

// GetKnowledgeBase fetches a knowledge base by id.
func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	kb, err := scanKnowledgeBase(s.db.QueryRowContext(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get knowledge base: %w", err)
	}
	return kb, nil
}

// UpdateKnowledgeBase rewrites a knowledge base's mutable fields.
func (s *Store) UpdateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	agentIDs, err := marshalJSON(kb.AgentIDs, "[]")
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_bases SET name = ?, agent_ids = ?, active = ? WHERE id = ?`,
		kb.Name, agentIDs, kb.Active, kb.ID)
	if err != nil {
		return fmt.Errorf("storage: update knowledge base: %w", err)
	}
	return rowsAffected(res, "update knowledge base")
}

// DeleteKnowledgeBase removes a knowledge base with its documents and
// chunks.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE knowledge_base_id = ?`, id); err != nil {
		return fmt.Errorf("storage: delete knowledge base chunks: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE knowledge_base_id = ?`, id); err != nil {
		return fmt.Errorf("storage: delete knowledge base documents: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete knowledge base: %w", err)
	}
	return rowsAffected(res, "delete knowledge base")
}

// ListKnowledgeBases returns the org's knowledge bases, newest first.
func (s *Store) ListKnowledgeBases(ctx context.Context, orgID string) ([]models.KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list knowledge bases: %w", err)
	}
	defer rows.Close()

	kbs := []models.KnowledgeBase{}
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan knowledge base: %w", err)
		}
		kbs = append(kbs, *kb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list knowledge bases: %w", err)
	}
	return kbs, nil
}

// ListKnowledgeBasesForAgent returns active knowledge bases attached
// to the agent. Attachment lives in the agent_ids JSON column, so the
// filter runs in Go.
func (s *Store) ListKnowledgeBasesForAgent(ctx context.Context, agentID string) ([]models.KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("storage: list knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []models.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan knowledge base: %w", err)
		}
		for _, id := range kb.AgentIDs {
			if id == agentID {
				kbs = append(kbs, *kb)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list knowledge bases: %w", err)
	}
	return kbs, nil
}

const documentColumns = `id, knowledge_base_id, filename, content_type, content_base64, file_path, status, error, chunk_count, created_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var doc models.Document
	var status string
	if err := row.Scan(&doc.ID, &doc.KnowledgeBaseID, &doc.Filename, &doc.ContentType, &doc.ContentBase64,
		&doc.FilePath, &status, &doc.Error, &doc.ChunkCount, &doc.CreatedAt); err != nil {
		return nil, err
	}
	doc.Status = models.DocumentStatus(status)
	return &doc, nil
}

// CreateDocument inserts a document.
func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		doc.ID, doc.KnowledgeBaseID, doc.Filename, doc.ContentType, doc.ContentBase64,
		doc.FilePath, string(doc.Status), doc.Error, doc.ChunkCount, doc.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get document: %w", err)
	}
	return doc, nil
}

// UpdateDocumentStatus records an indexing transition.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, indexError string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, chunk_count = ? WHERE id = ?`,
		string(status), indexError, chunkCount, id)
	if err != nil {
		return fmt.Errorf("storage: update document status: %w", err)
	}
	return rowsAffected(res, "update document status")
}

// ListDocuments returns a knowledge base's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, knowledgeBaseID string) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE knowledge_base_id = ? ORDER BY created_at DESC`, knowledgeBaseID)
	if err != nil {
		return nil, fmt.Errorf("storage: list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document and its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("storage: delete document chunks: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete document: %w", err)
	}
	return rowsAffected(res, "delete document")
}

// ReplaceChunks atomically swaps a document's chunk set.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin replace chunks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("storage: clear chunks: %w", err)
	}
	for i := range chunks {
		chunk := &chunks[i]
		embedding, err := marshalJSON(chunk.Embedding, "null")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_chunks (id, document_id, knowledge_base_id, chunk_index, content, embedding, filename)
			 VALUES (?,?,?,?,?,?,?)`,
			chunk.ID, chunk.DocumentID, chunk.KnowledgeBaseID, chunk.ChunkIndex, chunk.Content,
			embedding, chunk.Filename); err != nil {
			return fmt.Errorf("storage: insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit replace chunks: %w", err)
	}
	return nil
}

// ListChunks returns a knowledge base's chunks for scoring.
func (s *Store) ListChunks(ctx context.Context, knowledgeBaseID string, limit int) ([]models.DocumentChunk, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, knowledge_base_id, chunk_index, content, embedding, filename
		 FROM document_chunks WHERE knowledge_base_id = ? ORDER BY document_id, chunk_index LIMIT ?`,
		knowledgeBaseID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var chunk models.DocumentChunk
		var embedding []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.KnowledgeBaseID, &chunk.ChunkIndex,
			&chunk.Content, &embedding, &chunk.Filename); err != nil {
			return nil, fmt.Errorf("storage: scan chunk: %w", err)
		}
		if err := unmarshalJSON(embedding, &chunk.Embedding); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list chunks: %w", err)
	}
	return chunks, nil
}
