// Package gateway is the control plane: the WebSocket protocol on
// /ws/events, the REST surface, the device auth endpoints, and
// webhook ingress.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/primehq/prime/internal/auth"
	"github.com/primehq/prime/internal/bus"
	"github.com/primehq/prime/internal/commands"
	"github.com/primehq/prime/internal/nodes"
	"github.com/primehq/prime/internal/rag"
	"github.com/primehq/prime/pkg/models"
)

// Store is the slice of the relational store the REST surface needs.
type Store interface {
	Ping(ctx context.Context) error

	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context, orgID string) ([]models.Agent, error)

	CreateBot(ctx context.Context, bot *models.Bot) error
	GetBot(ctx context.Context, id string) (*models.Bot, error)
	UpdateBot(ctx context.Context, bot *models.Bot) error
	DeleteBot(ctx context.Context, id string) error
	ListBots(ctx context.Context, orgID string) ([]models.Bot, error)

	CreateProvider(ctx context.Context, provider *models.Provider) error
	GetProvider(ctx context.Context, id string) (*models.Provider, error)
	UpdateProvider(ctx context.Context, provider *models.Provider) error
	DeleteProvider(ctx context.Context, id string) error
	ListProviders(ctx context.Context, orgID string) ([]models.Provider, error)

	CreateBinding(ctx context.Context, binding *models.Binding) error
	GetBinding(ctx context.Context, id string) (*models.Binding, error)
	UpdateBinding(ctx context.Context, binding *models.Binding) error
	DeleteBinding(ctx context.Context, id string) error
	ListBindings(ctx context.Context, orgID string) ([]models.Binding, error)

	CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error)
	UpdateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	DeleteKnowledgeBase(ctx context.Context, id string) error
	ListKnowledgeBases(ctx context.Context, orgID string) ([]models.KnowledgeBase, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	ListDocuments(ctx context.Context, knowledgeBaseID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	FindWebhookByPath(ctx context.Context, path string) (*models.Webhook, error)
}

// WebhookDispatcher turns a verified webhook delivery into an agent
// turn. Implemented by the trigger layer.
type WebhookDispatcher interface {
	DispatchWebhook(ctx context.Context, hook *models.Webhook, payload map[string]any) error
}

// Config wires the server's collaborators.
type Config struct {
	Addr               string
	BackpressurePolicy string

	Auth       *auth.Service
	DeviceFlow *auth.DeviceFlow
	Commands   *commands.Bus
	Events     *bus.Bus
	Store      Store
	RAG        *rag.Service
	Nodes      *nodes.Service
	Webhooks   WebhookDispatcher

	Logger *slog.Logger
}

// Server hosts the HTTP listener and owns the WebSocket control plane.
type Server struct {
	cfg    Config
	ws     *WSHandler
	mux    *http.ServeMux
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
}

// NewServer assembles the mux. Call Start to begin serving.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	s := &Server{
		cfg:       cfg,
		ws:        NewWSHandler(cfg.Auth, cfg.Commands, cfg.Events, cfg.BackpressurePolicy, logger),
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
	}
	s.routes()
	return s
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Mount attaches an extra handler, e.g. a channel adapter's webhook
// endpoint. Call before Start.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) routes() {
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("/ws/events", s.ws)

	s.mux.HandleFunc("POST /auth/device/start", s.handleDeviceStart)
	s.mux.HandleFunc("POST /auth/device/complete", s.requireAuth(s.handleDeviceComplete))
	s.mux.HandleFunc("POST /auth/device/token", s.handleDeviceToken)
	s.mux.HandleFunc("POST /auth/device/refresh", s.handleDeviceRefresh)

	s.restRoutes()

	s.mux.HandleFunc("POST /hooks/{path}", s.handleWebhook)
}

// Start binds the listener and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once Start has run.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if s.cfg.Store != nil {
		dbOK = s.cfg.Store.Ping(r.Context()) == nil
	}
	status := "ok"
	code := http.StatusOK
	if !dbOK {
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": status, "db": dbOK})
}

// requireAuth validates the bearer token and stashes the identity in
// the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
			return
		}
		id, err := s.cfg.Auth.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}

// requireAdmin additionally demands the admin role.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFromContext(r.Context())
		if id == nil || id.Role != models.RoleAdmin {
			writeError(w, http.StatusForbidden, "scope_denied", "admin role required")
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4<<20))
	return dec.Decode(v)
}
