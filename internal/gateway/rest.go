package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/internal/auth"
	"github.com/primehq/prime/pkg/models"
)

func (s *Server) restRoutes() {
	s.mux.HandleFunc("GET /agents", s.requireAuth(s.handleListAgents))
	s.mux.HandleFunc("POST /agents", s.requireAdmin(s.handleCreateAgent))
	s.mux.HandleFunc("GET /agents/{id}", s.requireAuth(s.handleGetAgent))
	s.mux.HandleFunc("PUT /agents/{id}", s.requireAdmin(s.handleUpdateAgent))
	s.mux.HandleFunc("DELETE /agents/{id}", s.requireAdmin(s.handleDeleteAgent))

	s.mux.HandleFunc("GET /bots", s.requireAuth(s.handleListBots))
	s.mux.HandleFunc("POST /bots", s.requireAdmin(s.handleCreateBot))
	s.mux.HandleFunc("GET /bots/{id}", s.requireAuth(s.handleGetBot))
	s.mux.HandleFunc("PUT /bots/{id}", s.requireAdmin(s.handleUpdateBot))
	s.mux.HandleFunc("DELETE /bots/{id}", s.requireAdmin(s.handleDeleteBot))

	s.mux.HandleFunc("GET /providers", s.requireAuth(s.handleListProviders))
	s.mux.HandleFunc("POST /providers", s.requireAdmin(s.handleCreateProvider))
	s.mux.HandleFunc("GET /providers/{id}", s.requireAuth(s.handleGetProvider))
	s.mux.HandleFunc("PUT /providers/{id}", s.requireAdmin(s.handleUpdateProvider))
	s.mux.HandleFunc("DELETE /providers/{id}", s.requireAdmin(s.handleDeleteProvider))

	s.mux.HandleFunc("GET /bindings", s.requireAuth(s.handleListBindings))
	s.mux.HandleFunc("POST /bindings", s.requireAdmin(s.handleCreateBinding))
	s.mux.HandleFunc("GET /bindings/{id}", s.requireAuth(s.handleGetBinding))
	s.mux.HandleFunc("PUT /bindings/{id}", s.requireAdmin(s.handleUpdateBinding))
	s.mux.HandleFunc("DELETE /bindings/{id}", s.requireAdmin(s.handleDeleteBinding))

	s.mux.HandleFunc("GET /knowledge-bases", s.requireAuth(s.handleListKnowledgeBases))
	s.mux.HandleFunc("POST /knowledge-bases", s.requireAdmin(s.handleCreateKnowledgeBase))
	s.mux.HandleFunc("GET /knowledge-bases/{id}", s.requireAuth(s.handleGetKnowledgeBase))
	s.mux.HandleFunc("PUT /knowledge-bases/{id}", s.requireAdmin(s.handleUpdateKnowledgeBase))
	s.mux.HandleFunc("DELETE /knowledge-bases/{id}", s.requireAdmin(s.handleDeleteKnowledgeBase))
	s.mux.HandleFunc("GET /knowledge-bases/{id}/documents", s.requireAuth(s.handleListDocuments))
	s.mux.HandleFunc("POST /knowledge-bases/{id}/documents", s.requireAdmin(s.handleCreateDocument))
	s.mux.HandleFunc("DELETE /knowledge-bases/{id}/documents/{docID}", s.requireAdmin(s.handleDeleteDocument))
	s.mux.HandleFunc("POST /knowledge-bases/{id}/search", s.requireAuth(s.handleSearchKnowledgeBase))

	s.mux.HandleFunc("POST /node-executions/request", s.requireAuth(s.handleNodeRequest))
	s.mux.HandleFunc("GET /node-executions/approvals/pending", s.requireAuth(s.handlePendingApprovals))
	s.mux.HandleFunc("POST /node-executions/approvals/{id}/approve", s.requireAdmin(s.handleApprove))
	s.mux.HandleFunc("POST /node-executions/approvals/{id}/reject", s.requireAdmin(s.handleReject))
	s.mux.HandleFunc("GET /node-executions/{id}/status", s.requireAuth(s.handleExecutionStatus))
	s.mux.HandleFunc("POST /node-executions/{id}/run", s.requireAuth(s.handleExecutionRun))
}

func orgID(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return id.OrgID
	}
	return ""
}

// Agents.

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.cfg.Store.ListAgents(r.Context(), orgID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var agent models.Agent
	if err := readJSON(r, &agent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	agent.ID = uuid.NewString()
	agent.OrgID = orgID(r)
	agent.CreatedAt = time.Now()
	if agent.DMPolicy == "" {
		agent.DMPolicy = models.DMPolicyPairing
	}
	if err := s.cfg.Store.CreateAgent(r.Context(), &agent); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.cfg.Store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil || agent == nil {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	existing, err := s.cfg.Store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil || existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	var agent models.Agent
	if err := readJSON(r, &agent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	agent.ID = existing.ID
	agent.OrgID = existing.OrgID
	agent.CreatedAt = existing.CreatedAt
	if err := s.cfg.Store.UpdateAgent(r.Context(), &agent); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.DeleteAgent(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bots.

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.cfg.Store.ListBots(r.Context(), orgID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": bots})
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var bot models.Bot
	if err := readJSON(r, &bot); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	bot.ID = uuid.NewString()
	bot.OrgID = orgID(r)
	bot.CreatedAt = time.Now()
	if err := s.cfg.Store.CreateBot(r.Context(), &bot); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, bot)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	bot, err := s.cfg.Store.GetBot(r.Context(), r.PathValue("id"))
	if err != nil || bot == nil {
		writeError(w, http.StatusNotFound, "not_found", "bot not found")
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	existing, err := s.cfg.Store.GetBot(r.Context(), r.PathValue("id"))
	if err != nil || existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "bot not found")
		return
	}
	var bot models.Bot
	if err := readJSON(r, &bot); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	bot.ID = existing.ID
	bot.OrgID = existing.OrgID
	bot.CreatedAt = existing.CreatedAt
	if err := s.cfg.Store.UpdateBot(r.Context(), &bot); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.DeleteBot(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Providers.

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.cfg.Store.ListProviders(r.Context(), orgID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var provider models.Provider
	if err := readJSON(r, &provider); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	provider.ID = uuid.NewString()
	provider.OrgID = orgID(r)
	provider.CreatedAt = time.Now()
	if err := s.cfg.Store.CreateProvider(r.Context(), &provider); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, provider)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := s.cfg.Store.GetProvider(r.Context(), r.PathValue("id"))
	if err != nil || provider == nil {
		writeError(w, http.StatusNotFound, "not_found", "provider not found")
		return
	}
	writeJSON(w, http.StatusOK, provider)
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	existing, err := s.cfg.Store.GetProvider(r.Context(), r.PathValue("id"))
	if err != nil || existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "provider not found")
		return
	}
	var provider models.Provider
	if err := readJSON(r, &provider); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	provider.ID = existing.ID
	provider.OrgID = existing.OrgID
	provider.CreatedAt = existing.CreatedAt
	if err := s.cfg.Store.UpdateProvider(r.Context(), &provider); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, provider)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.DeleteProvider(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bindings.

func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.cfg.Store.ListBindings(r.Context(), orgID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bindings": bindings})
}

func (s *Server) handleCreateBinding(w http.ResponseWriter, r *http.Request) {
	var binding models.Binding
	if err := readJSON(r, &binding); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	if !binding.Channel.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_params", "invalid channel")
		return
	}
	binding.ID = uuid.NewString()
	binding.OrgID = orgID(r)
	binding.CreatedAt = time.Now()
	if err := s.cfg.Store.CreateBinding(r.Context(), &binding); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, binding)
}

func (s *Server) handleGetBinding(w http.ResponseWriter, r *http.Request) {
	binding, err := s.cfg.Store.GetBinding(r.Context(), r.PathValue("id"))
	if err != nil || binding == nil {
		writeError(w, http.StatusNotFound, "not_found", "binding not found")
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

func (s *Server) handleUpdateBinding(w http.ResponseWriter, r *http.Request) {
	existing, err := s.cfg.Store.GetBinding(r.Context(), r.PathValue("id"))
	if err != nil || existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "binding not found")
		return
	}
	var binding models.Binding
	if err := readJSON(r, &binding); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	binding.ID = existing.ID
	binding.OrgID = existing.OrgID
	binding.CreatedAt = existing.CreatedAt
	if err := s.cfg.Store.UpdateBinding(r.Context(), &binding); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

func (s *Server) handleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.DeleteBinding(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Knowledge bases and documents.

func (s *Server) handleListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	kbs, err := s.cfg.Store.ListKnowledgeBases(r.Context(), orgID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"knowledge_bases": kbs})
}

func (s *Server) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var kb models.KnowledgeBase
	if err := readJSON(r, &kb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	kb.ID = uuid.NewString()
	kb.OrgID = orgID(r)
	kb.CreatedAt = time.Now()
	if err := s.cfg.Store.CreateKnowledgeBase(r.Context(), &kb); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

func (s *Server) handleGetKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	kb, err := s.cfg.Store.GetKnowledgeBase(r.Context(), r.PathValue("id"))
	if err != nil || kb == nil {
		writeError(w, http.StatusNotFound, "not_found", "knowledge base not found")
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

func (s *Server) handleUpdateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	existing, err := s.cfg.Store.GetKnowledgeBase(r.Context(), r.PathValue("id"))
	if err != nil || existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "knowledge base not found")
		return
	}
	var kb models.KnowledgeBase
	if err := readJSON(r, &kb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	kb.ID = existing.ID
	kb.OrgID = existing.OrgID
	kb.CreatedAt = existing.CreatedAt
	if err := s.cfg.Store.UpdateKnowledgeBase(r.Context(), &kb); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

func (s *Server) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.DeleteKnowledgeBase(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.cfg.Store.ListDocuments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.Document
	if err := readJSON(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	doc.ID = uuid.NewString()
	doc.KnowledgeBaseID = r.PathValue("id")
	doc.Status = models.DocumentPending
	doc.CreatedAt = time.Now()
	if err := s.cfg.Store.CreateDocument(r.Context(), &doc); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	// Index inline; document lands indexed or failed either way.
	if s.cfg.RAG != nil {
		if err := s.cfg.RAG.IndexDocument(r.Context(), doc.ID); err != nil {
			s.logger.Warn("document indexing failed", "document", doc.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.DeleteDocument(r.Context(), r.PathValue("docID")); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	results, err := s.cfg.RAG.Search(r.Context(), r.PathValue("id"), in.Query, in.TopK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": in.Query, "results": results})
}

// Node executions.

func (s *Server) handleNodeRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		NodeID     string            `json:"node_id"`
		Command    string            `json:"command"`
		Params     map[string]any    `json:"params,omitempty"`
		WorkingDir string            `json:"working_dir,omitempty"`
		EnvVars    map[string]string `json:"env_vars,omitempty"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	if in.NodeID == "" || in.Command == "" {
		writeError(w, http.StatusBadRequest, "invalid_params", "node_id and command are required")
		return
	}
	exec, err := s.cfg.Nodes.Request(r.Context(), &models.NodeExecution{
		NodeID:     in.NodeID,
		Command:    in.Command,
		Params:     in.Params,
		WorkingDir: in.WorkingDir,
		EnvVars:    in.EnvVars,
	})
	if err != nil && exec == nil {
		writeError(w, http.StatusInternalServerError, "request_failed", err.Error())
		return
	}
	// Capability denials still return the rejected execution record.
	writeJSON(w, http.StatusCreated, exec)
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.cfg.Nodes.PendingApprovals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	exec, err := s.cfg.Nodes.Approve(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		writeError(w, http.StatusConflict, "not_approvable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason,omitempty"`
	}
	_ = readJSON(r, &in)
	id, _ := auth.IdentityFromContext(r.Context())
	exec, err := s.cfg.Nodes.Reject(r.Context(), r.PathValue("id"), id.UserID, in.Reason)
	if err != nil {
		writeError(w, http.StatusConflict, "not_approvable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	exec, err := s.cfg.Nodes.Status(r.Context(), r.PathValue("id"))
	if err != nil || exec == nil {
		writeError(w, http.StatusNotFound, "not_found", "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionRun(w http.ResponseWriter, r *http.Request) {
	exec, err := s.cfg.Nodes.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusConflict, "not_runnable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
