package rag

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/primehq/prime/pkg/models"
)

type fakeStore struct {
	docs     map[string]*models.Document
	chunks   map[string][]models.DocumentChunk // by knowledge base
	kbs      []models.KnowledgeBase
	statuses []models.DocumentStatus
	replaced []models.DocumentChunk
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   make(map[string]*models.Document),
		chunks: make(map[string][]models.DocumentChunk),
	}
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return doc, nil
}

func (f *fakeStore) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentStatus, indexError string, chunkCount int) error {
	f.statuses = append(f.statuses, status)
	if doc, ok := f.docs[id]; ok {
		doc.Status = status
		doc.Error = indexError
		doc.ChunkCount = chunkCount
	}
	return nil
}

func (f *fakeStore) ReplaceChunks(_ context.Context, documentID string, chunks []models.DocumentChunk) error {
	f.replaced = chunks
	if len(chunks) > 0 {
		f.chunks[chunks[0].KnowledgeBaseID] = chunks
	}
	return nil
}

func (f *fakeStore) ListChunks(_ context.Context, kbID string, limit int) ([]models.DocumentChunk, error) {
	chunks := f.chunks[kbID]
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

func (f *fakeStore) ListKnowledgeBasesForAgent(_ context.Context, agentID string) ([]models.KnowledgeBase, error) {
	return f.kbs, nil
}

type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float64{1, 0}
		}
	}
	return out, nil
}

func TestIndexDocumentPlainText(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &models.Document{
		ID:              "d1",
		KnowledgeBaseID: "kb1",
		Filename:        "notes.txt",
		ContentBase64:   base64.StdEncoding.EncodeToString([]byte("alpha beta gamma delta")),
		Status:          models.DocumentPending,
	}

	svc := NewService(store)
	if err := svc.IndexDocument(context.Background(), "d1"); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	if store.docs["d1"].Status != models.DocumentIndexed {
		t.Errorf("status = %s", store.docs["d1"].Status)
	}
	if store.docs["d1"].ChunkCount != 1 {
		t.Errorf("chunk count = %d", store.docs["d1"].ChunkCount)
	}
	if len(store.replaced) != 1 || store.replaced[0].Content != "alpha beta gamma delta" {
		t.Errorf("chunks = %+v", store.replaced)
	}
	if got := store.statuses; len(got) != 2 || got[0] != models.DocumentIndexing || got[1] != models.DocumentIndexed {
		t.Errorf("status transitions = %v", got)
	}
}

func TestIndexDocumentFailureRecordsTruncatedError(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &models.Document{
		ID:              "d1",
		KnowledgeBaseID: "kb1",
		Filename:        "broken.pdf",
		ContentType:     "application/pdf",
		ContentBase64:   base64.StdEncoding.EncodeToString([]byte("not a pdf")),
	}

	svc := NewService(store)
	if err := svc.IndexDocument(context.Background(), "d1"); err == nil {
		t.Fatal("expected indexing error")
	}
	if store.docs["d1"].Status != models.DocumentFailed {
		t.Errorf("status = %s", store.docs["d1"].Status)
	}
	if store.docs["d1"].Error == "" || len(store.docs["d1"].Error) > maxIndexError {
		t.Errorf("error = %q", store.docs["d1"].Error)
	}
}

func TestIndexDocumentEmbedderFailureFallsBackUnembedded(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &models.Document{
		ID:              "d1",
		KnowledgeBaseID: "kb1",
		Filename:        "notes.txt",
		ContentBase64:   base64.StdEncoding.EncodeToString([]byte("some text to index")),
	}

	svc := NewService(store, WithEmbedder(&fakeEmbedder{err: fmt.Errorf("quota exceeded")}))
	if err := svc.IndexDocument(context.Background(), "d1"); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if store.docs["d1"].Status != models.DocumentIndexed {
		t.Errorf("status = %s", store.docs["d1"].Status)
	}
	if len(store.replaced) == 0 || store.replaced[0].Embedding != nil {
		t.Errorf("expected unembedded chunks, got %+v", store.replaced)
	}
}

func TestIndexDocumentDOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(w, `<?xml version="1.0"?><w:document xmlns:w="ns"><w:body>`+
		`<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>`+
		`</w:body></w:document>`)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	store.docs["d1"] = &models.Document{
		ID:              "d1",
		KnowledgeBaseID: "kb1",
		Filename:        "report.docx",
		ContentBase64:   base64.StdEncoding.EncodeToString(buf.Bytes()),
	}

	svc := NewService(store)
	if err := svc.IndexDocument(context.Background(), "d1"); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if len(store.replaced) != 1 {
		t.Fatalf("chunks = %d", len(store.replaced))
	}
	content := store.replaced[0].Content
	if !strings.Contains(content, "First paragraph.") || !strings.Contains(content, "Second paragraph.") {
		t.Errorf("content = %q", content)
	}
}

func TestSearchCosineRanking(t *testing.T) {
	store := newFakeStore()
	store.chunks["kb1"] = []models.DocumentChunk{
		{Content: "orthogonal", Embedding: []float64{0, 1}, Filename: "a.txt", ChunkIndex: 0},
		{Content: "aligned", Embedding: []float64{1, 0}, Filename: "a.txt", ChunkIndex: 1},
		{Content: "diagonal", Embedding: []float64{1, 1}, Filename: "b.txt", ChunkIndex: 0},
	}

	svc := NewService(store, WithEmbedder(&fakeEmbedder{vectors: map[string][]float64{"query": {1, 0}}}))
	results, err := svc.Search(context.Background(), "kb1", "query", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Content != "aligned" {
		t.Errorf("top result = %q", results[0].Content)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v", results)
	}
}

func TestSearchKeywordFallback(t *testing.T) {
	store := newFakeStore()
	store.chunks["kb1"] = []models.DocumentChunk{
		{Content: "The deployment pipeline uses blue green releases", Filename: "ops.md", ChunkIndex: 0},
		{Content: "Unrelated cooking recipe with tomatoes", Filename: "food.md", ChunkIndex: 0},
		{Content: "Deployment rollback steps for the pipeline", Filename: "ops.md", ChunkIndex: 1},
	}

	svc := NewService(store)
	results, err := svc.Search(context.Background(), "kb1", "deployment pipeline rollback", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d: %+v", len(results), results)
	}
	if results[0].Content != "Deployment rollback steps for the pipeline" {
		t.Errorf("top result = %q", results[0].Content)
	}
	if results[0].Score != 1 {
		t.Errorf("top score = %v, want 1", results[0].Score)
	}
	if results[1].Score != 0.6667 {
		t.Errorf("second score = %v, want 0.6667", results[1].Score)
	}
}

func TestSearchKeywordIgnoresShortTerms(t *testing.T) {
	keywords := queryKeywords("do we go to the big datacenter on a bus")
	for _, kw := range keywords {
		if len(kw) <= 2 {
			t.Errorf("keyword %q too short", kw)
		}
	}
}

func TestAgentContextUnionsActiveKBs(t *testing.T) {
	store := newFakeStore()
	store.kbs = []models.KnowledgeBase{
		{ID: "kb1", Active: true},
		{ID: "kb2", Active: true},
		{ID: "kb3", Active: false},
	}
	store.chunks["kb1"] = []models.DocumentChunk{
		{Content: "alpha notes about deployment", Filename: "a.md", ChunkIndex: 0},
	}
	store.chunks["kb2"] = []models.DocumentChunk{
		{Content: "beta deployment checklist deployment", Filename: "b.md", ChunkIndex: 2},
	}
	store.chunks["kb3"] = []models.DocumentChunk{
		{Content: "inactive deployment text", Filename: "c.md", ChunkIndex: 0},
	}

	svc := NewService(store)
	out, err := svc.AgentContext(context.Background(), "agent-1", "deployment", 5)
	if err != nil {
		t.Fatalf("AgentContext: %v", err)
	}
	if !strings.HasPrefix(out, "Relevant knowledge base context:") {
		t.Errorf("missing prefix: %q", out)
	}
	if !strings.Contains(out, "[a.md #0]") || !strings.Contains(out, "[b.md #2]") {
		t.Errorf("missing sources: %q", out)
	}
	if strings.Contains(out, "inactive") {
		t.Errorf("inactive kb leaked into context: %q", out)
	}
}

func TestAgentContextEmptyWhenNoHits(t *testing.T) {
	store := newFakeStore()
	store.kbs = []models.KnowledgeBase{{ID: "kb1", Active: true}}

	svc := NewService(store)
	out, err := svc.AgentContext(context.Background(), "agent-1", "anything", 5)
	if err != nil {
		t.Fatalf("AgentContext: %v", err)
	}
	if out != "" {
		t.Errorf("out = %q, want empty", out)
	}
}
