package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/internal/agent"
	"github.com/primehq/prime/internal/bus"
	"github.com/primehq/prime/internal/dmpolicy"
	"github.com/primehq/prime/internal/optimizer"
	"github.com/primehq/prime/internal/routing"
	"github.com/primehq/prime/internal/tools"
	"github.com/primehq/prime/pkg/models"
)

const (
	// defaultRAGTopK is how many knowledge chunks feed the system prompt.
	defaultRAGTopK = 5

	// apologyMessage is shown when the provider call fails.
	apologyMessage = "Sorry, something went wrong while processing your message. Please try again."
)

// Store is the persistence surface the pipeline needs. Implemented by
// the relational store.
type Store interface {
	FindBotByToken(ctx context.Context, channel models.ChannelType, token string) (*models.Bot, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetProvider(ctx context.Context, id string) (*models.Provider, error)
	UpsertChannelUser(ctx context.Context, orgID, username string, telegramID int64) (*models.User, error)
	FindOrCreateSession(ctx context.Context, session *models.Session) (*models.Session, error)
	ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
}

// KnowledgeSource supplies agent-scoped retrieval context. Satisfied
// by the RAG service.
type KnowledgeSource interface {
	AgentContext(ctx context.Context, agentID, query string, topK int) (string, error)
}

// WebSearcher supplies a formatted web search result block.
type WebSearcher interface {
	SearchText(ctx context.Context, query string) (string, error)
}

// ProviderFactory builds a runtime provider from its configuration.
type ProviderFactory func(cfg *models.Provider) (agent.Provider, error)

// Pipeline is the channel-independent inbound flow: authorize, load
// context, run the agent, reply, persist.
type Pipeline struct {
	store     Store
	resolver  *routing.Resolver
	policy    *dmpolicy.Evaluator
	factory   ProviderFactory
	executor  *agent.Executor
	knowledge KnowledgeSource
	search    WebSearcher
	events    *bus.Bus
	pairing   *dmpolicy.Admin
	logger    *slog.Logger
}

// PipelineOption configures optional pipeline dependencies.
type PipelineOption func(*Pipeline)

// WithKnowledge attaches a retrieval source.
func WithKnowledge(k KnowledgeSource) PipelineOption {
	return func(p *Pipeline) { p.knowledge = k }
}

// WithWebSearch attaches a web searcher.
func WithWebSearch(s WebSearcher) PipelineOption {
	return func(p *Pipeline) { p.search = s }
}

// WithEvents attaches the event bus for stream fan-out.
func WithEvents(b *bus.Bus) PipelineOption {
	return func(p *Pipeline) { p.events = b }
}

// WithPairingAdmin enables the /approve and /deny chat commands for
// admin senders.
func WithPairingAdmin(a *dmpolicy.Admin) PipelineOption {
	return func(p *Pipeline) { p.pairing = a }
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline assembles the shared inbound flow.
func NewPipeline(store Store, resolver *routing.Resolver, policy *dmpolicy.Evaluator, factory ProviderFactory, executor *agent.Executor, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:    store,
		resolver: resolver,
		policy:   policy,
		factory:  factory,
		executor: executor,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// Handle processes one inbound message end to end. Unroutable or
// unauthorized messages are dropped without error; processing
// failures after authorization produce a user-visible apology and an
// error return.
func (p *Pipeline) Handle(ctx context.Context, in Inbound, r Responder) error {
	log := p.logger.With("channel", in.Channel, "peer", in.Peer)

	bot, err := p.store.FindBotByToken(ctx, in.Channel, in.BotToken)
	if err != nil {
		return fmt.Errorf("look up bot: %w", err)
	}
	if bot == nil || !bot.Active {
		log.Debug("dropping message for unknown bot")
		return nil
	}

	binding, err := p.resolver.Resolve(ctx, routing.Query{
		Channel:   in.Channel,
		BotID:     bot.ID,
		AccountID: in.AccountID,
		Peer:      in.Peer,
	})
	if err != nil {
		return fmt.Errorf("resolve binding: %w", err)
	}
	if binding == nil {
		log.Debug("dropping message with no binding", "bot_id", bot.ID)
		return nil
	}

	agentCfg, err := p.store.GetAgent(ctx, binding.AgentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}

	decision, err := p.policy.Evaluate(ctx, agentCfg, dmpolicy.Context{
		Channel:      in.Channel,
		AccountID:    in.AccountID,
		Peer:         in.Peer,
		SenderUserID: in.SenderID,
		SenderName:   in.SenderName,
		IsGroup:      in.IsGroup,
		BotMentioned: in.BotMentioned,
	})
	if err != nil {
		return fmt.Errorf("evaluate dm policy: %w", err)
	}
	if !decision.Allowed {
		log.Info("message denied", "reason", decision.Reason)
		if decision.PairingRequest != nil {
			text := fmt.Sprintf("This agent requires pairing. Ask an administrator to approve code %s.", decision.PairingRequest.Code)
			if sendErr := r.SendText(ctx, in.Peer, text); sendErr != nil {
				log.Warn("failed to send pairing notice", "error", sendErr)
			}
		}
		return nil
	}

	user, err := p.store.UpsertChannelUser(ctx, bot.OrgID, senderUsername(in), telegramID(in))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	if handled, err := p.handleAdminCommand(ctx, in, r, user); handled {
		return err
	}

	session, err := p.store.FindOrCreateSession(ctx, &models.Session{
		ID:      uuid.NewString(),
		OrgID:   bot.OrgID,
		BotID:   bot.ID,
		UserID:  user.ID,
		AgentID: agentCfg.ID,
		Channel: in.Channel,
		Peer:    in.Peer,
		Status:  models.SessionActive,
	})
	if err != nil {
		return fmt.Errorf("find or create session: %w", err)
	}

	var history []models.Message
	if agentCfg.MaxHistoryMessages > 0 {
		history, err = p.store.ListRecentMessages(ctx, session.ID, agentCfg.MaxHistoryMessages)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
	}

	system := p.buildSystemPrompt(ctx, agentCfg, in.Text)

	provider, providerCfg, err := p.resolveProvider(ctx, session, agentCfg)
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}

	plan := optimizer.Optimize(optimizer.Request{
		Provider:     providerCfg,
		SystemPrompt: system,
		UserMessage:  in.Text,
		History:      history,
	})

	result, runErr := p.runAgent(ctx, in, r, provider, plan, system, session, agentCfg)
	if runErr != nil {
		log.Error("agent run failed", "error", runErr)
		if p.events != nil {
			p.events.Publish(bus.TopicStreamError, map[string]any{
				"session_id": session.ID,
				"error":      runErr.Error(),
			})
		}
		if sendErr := r.SendText(ctx, in.Peer, apologyMessage); sendErr != nil {
			log.Warn("failed to send apology", "error", sendErr)
		}
		return runErr
	}

	p.persistTurn(ctx, session.ID, in.Text, result, plan, log)
	return nil
}

// handleAdminCommand intercepts pairing resolution commands from
// admin senders. Returns handled=false for ordinary messages.
func (p *Pipeline) handleAdminCommand(ctx context.Context, in Inbound, r Responder, user *models.User) (bool, error) {
	if p.pairing == nil || user.Role != models.RoleAdmin {
		return false, nil
	}
	fields := strings.Fields(in.Text)
	if len(fields) != 2 {
		return false, nil
	}

	var req *models.PairingRequest
	var err error
	switch fields[0] {
	case "/approve":
		req, err = p.pairing.Approve(ctx, fields[1])
	case "/deny":
		req, err = p.pairing.Deny(ctx, fields[1])
	default:
		return false, nil
	}

	reply := ""
	switch {
	case err == nil && req.Status == models.PairingApproved:
		reply = fmt.Sprintf("Pairing approved for %s on %s.", req.Peer, req.Channel)
	case err == nil:
		reply = fmt.Sprintf("Pairing denied for %s on %s.", req.Peer, req.Channel)
	case errors.Is(err, dmpolicy.ErrCodeUnknown):
		reply = "Unknown pairing code."
	case errors.Is(err, dmpolicy.ErrCodeExpired):
		reply = "That pairing code has expired."
	case errors.Is(err, dmpolicy.ErrAlreadyDecided):
		reply = "That pairing request was already resolved."
	default:
		p.logger.Error("pairing command failed", "error", err)
		reply = apologyMessage
	}
	if sendErr := r.SendText(ctx, in.Peer, reply); sendErr != nil {
		p.logger.Warn("failed to send pairing reply", "error", sendErr)
	}
	return true, nil
}

// InvokeAgent runs a message against an agent outside any messenger,
// on a synthetic session keyed by the trigger origin. Used by cron
// jobs and webhook dispatch.
func (p *Pipeline) InvokeAgent(ctx context.Context, agentID, message, origin string) error {
	agentCfg, err := p.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	if agentCfg == nil || !agentCfg.Active {
		return fmt.Errorf("agent %s is not active", agentID)
	}

	session, err := p.store.FindOrCreateSession(ctx, &models.Session{
		ID:      uuid.NewString(),
		OrgID:   agentCfg.OrgID,
		BotID:   "trigger",
		UserID:  "system",
		AgentID: agentCfg.ID,
		Channel: models.ChannelCLI,
		Peer:    origin,
		Status:  models.SessionActive,
	})
	if err != nil {
		return fmt.Errorf("find or create session: %w", err)
	}

	return p.RunSession(ctx, session, message, origin)
}

// RunSession runs one message against an existing session with no
// responder attached. The turn is persisted like any other.
func (p *Pipeline) RunSession(ctx context.Context, session *models.Session, message, origin string) error {
	agentCfg, err := p.store.GetAgent(ctx, session.AgentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	if agentCfg == nil || !agentCfg.Active {
		return fmt.Errorf("agent %s is not active", session.AgentID)
	}

	var history []models.Message
	if agentCfg.MaxHistoryMessages > 0 {
		history, err = p.store.ListRecentMessages(ctx, session.ID, agentCfg.MaxHistoryMessages)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
	}

	system := p.buildSystemPrompt(ctx, agentCfg, message)
	provider, providerCfg, err := p.resolveProvider(ctx, session, agentCfg)
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}

	plan := optimizer.Optimize(optimizer.Request{
		Provider:     providerCfg,
		SystemPrompt: system,
		UserMessage:  message,
		History:      history,
	})

	messages := make([]agent.CompletionMessage, 0, len(plan.History)+1)
	for _, m := range plan.History {
		messages = append(messages, agent.CompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, agent.CompletionMessage{Role: "user", Content: message})

	runner := agent.NewRunner(provider, p.executor, p.logger)
	result, err := runner.Run(ctx, &agent.RunRequest{
		Model:        plan.Model,
		System:       system,
		Messages:     messages,
		MaxTokens:    plan.OutputTokens,
		ToolsEnabled: agentCfg.CodeExecutionEnabled,
		Workspace:    agentCfg.WorkspacePath,
		SessionID:    session.ID,
		AgentID:      agentCfg.ID,
	})
	if err != nil {
		return fmt.Errorf("run agent: %w", err)
	}

	p.persistTurn(ctx, session.ID, message, result, plan, p.logger.With("origin", origin))
	return nil
}

func (p *Pipeline) buildSystemPrompt(ctx context.Context, agentCfg *models.Agent, query string) string {
	parts := make([]string, 0, 3)
	if agentCfg.SystemPrompt != "" {
		parts = append(parts, agentCfg.SystemPrompt)
	}
	if p.knowledge != nil {
		ragCtx, err := p.knowledge.AgentContext(ctx, agentCfg.ID, query, defaultRAGTopK)
		if err != nil {
			p.logger.Warn("knowledge retrieval failed", "agent_id", agentCfg.ID, "error", err)
		} else if ragCtx != "" {
			parts = append(parts, ragCtx)
		}
	}
	if agentCfg.WebSearchEnabled && p.search != nil {
		hits, err := p.search.SearchText(ctx, query)
		if err != nil {
			p.logger.Warn("web search failed", "error", err)
		} else if hits != "" {
			parts = append(parts, "Web search results:\n"+hits)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (p *Pipeline) resolveProvider(ctx context.Context, session *models.Session, agentCfg *models.Agent) (agent.Provider, *models.Provider, error) {
	providerID := session.ProviderID
	if providerID == "" {
		providerID = agentCfg.DefaultProviderID
	}
	if providerID == "" {
		return nil, nil, agent.ErrNoProvider
	}
	cfg, err := p.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}
	provider, err := p.factory(cfg)
	if err != nil {
		return nil, nil, err
	}
	return provider, cfg, nil
}

func (p *Pipeline) runAgent(ctx context.Context, in Inbound, r Responder, provider agent.Provider, plan *optimizer.Plan, system string, session *models.Session, agentCfg *models.Agent) (*agent.RunResult, error) {
	messages := make([]agent.CompletionMessage, 0, len(plan.History)+1)
	for _, m := range plan.History {
		messages = append(messages, agent.CompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	messages = append(messages, agent.CompletionMessage{Role: "user", Content: in.Text})

	req := &agent.RunRequest{
		Model:        plan.Model,
		System:       system,
		Messages:     messages,
		MaxTokens:    plan.OutputTokens,
		ToolsEnabled: agentCfg.CodeExecutionEnabled,
		Workspace:    agentCfg.WorkspacePath,
		SessionID:    session.ID,
		AgentID:      agentCfg.ID,
	}

	runner := agent.NewRunner(provider, p.executor, p.logger)

	if agentCfg.CodeExecutionEnabled {
		activity := newActivityRelay(ctx, in.Peer, r)
		req.OnToolCall = activity.onToolCall
		result, err := runner.Run(ctx, req)
		if err != nil {
			return nil, err
		}
		return result, activity.finish(ctx, result.Text)
	}

	stream := newStreamRelay(ctx, in.Peer, r, p.events, session.ID)
	req.OnToken = stream.onToken
	if p.events != nil {
		p.events.Publish(bus.TopicStreamStart, map[string]any{"session_id": session.ID})
	}
	result, err := runner.Run(ctx, req)
	if err != nil {
		stream.abandon(ctx)
		return nil, err
	}
	if err := stream.finish(ctx, result.Text); err != nil {
		return nil, err
	}
	if p.events != nil {
		p.events.Publish(bus.TopicStreamEnd, map[string]any{"session_id": session.ID})
	}
	return result, nil
}

func (p *Pipeline) sendReply(ctx context.Context, peer string, r Responder, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	for _, chunk := range ChunkMessage(text, r.MaxMessageSize()) {
		if err := r.SendText(ctx, peer, chunk); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) persistTurn(ctx context.Context, sessionID, userText string, result *agent.RunResult, plan *optimizer.Plan, log *slog.Logger) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		planJSON = nil
	}
	now := time.Now()

	userMsg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Role:        models.RoleUserMsg,
		Content:     userText,
		ContentType: models.ContentText,
		Meta:        &models.MessageMeta{Optimizer: planJSON},
		CreatedAt:   now,
	}
	if err := p.store.AppendMessage(ctx, userMsg); err != nil {
		log.Error("failed to persist user message", "error", err)
	}

	usage := result.Usage
	assistantMsg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Role:        models.RoleAssistant,
		Content:     result.Text,
		ContentType: models.ContentText,
		Meta: &models.MessageMeta{
			Usage: &usage,
			Model: result.Model,
		},
		CreatedAt: now,
	}
	if err := p.store.AppendMessage(ctx, assistantMsg); err != nil {
		log.Error("failed to persist assistant message", "error", err)
	}
}

func senderUsername(in Inbound) string {
	if in.SenderName != "" {
		return in.SenderName
	}
	return fmt.Sprintf("%s:%s", in.Channel, in.SenderID)
}

func telegramID(in Inbound) int64 {
	if in.Channel != models.ChannelTelegram {
		return 0
	}
	var id int64
	if _, err := fmt.Sscanf(in.SenderID, "%d", &id); err != nil {
		return 0
	}
	return id
}

// streamRelay forwards tokens to the event bus and, when the adapter
// supports in-place edits, keeps a draft message updated at the
// platform's edit rate.
type streamRelay struct {
	ctx     context.Context
	peer    string
	r       Responder
	editor  DraftEditor
	events  *bus.Bus
	session string

	buf      strings.Builder
	draftID  string
	lastEdit time.Time
}

func newStreamRelay(ctx context.Context, peer string, r Responder, events *bus.Bus, sessionID string) *streamRelay {
	s := &streamRelay{ctx: ctx, peer: peer, r: r, events: events, session: sessionID}
	if editor, ok := r.(DraftEditor); ok {
		s.editor = editor
	}
	return s
}

func (s *streamRelay) onToken(token string) {
	s.buf.WriteString(token)
	if s.events != nil {
		s.events.Publish(bus.TopicStreamChunk, map[string]any{
			"session_id": s.session,
			"content":    token,
		})
	}
	if s.editor == nil {
		return
	}
	text := s.buf.String()
	if len(text) > s.r.MaxMessageSize() {
		// Too long to keep editing one message; the final reply is
		// chunked in finish.
		return
	}
	now := time.Now()
	if s.draftID == "" {
		id, err := s.editor.SendDraft(s.ctx, s.peer, text)
		if err != nil {
			s.editor = nil
			return
		}
		s.draftID = id
		s.lastEdit = now
		return
	}
	if now.Sub(s.lastEdit) < s.editor.EditInterval() {
		return
	}
	if err := s.editor.EditDraft(s.ctx, s.peer, s.draftID, text); err == nil {
		s.lastEdit = now
	}
}

// finish reconciles the draft with the final text, chunking overflow.
func (s *streamRelay) finish(ctx context.Context, final string) error {
	if strings.TrimSpace(final) == "" {
		final = s.buf.String()
	}
	chunks := ChunkMessage(final, s.r.MaxMessageSize())
	if len(chunks) == 0 {
		return nil
	}
	start := 0
	if s.editor != nil && s.draftID != "" {
		if err := s.editor.EditDraft(ctx, s.peer, s.draftID, chunks[0]); err != nil {
			return fmt.Errorf("finalize draft: %w", err)
		}
		start = 1
	}
	for _, chunk := range chunks[start:] {
		if err := s.r.SendText(ctx, s.peer, chunk); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
	return nil
}

// abandon leaves any partial draft in place; the caller sends the
// apology as a fresh message.
func (s *streamRelay) abandon(ctx context.Context) {}

// maxActivityLines bounds the rolling tool-activity draft.
const maxActivityLines = 6

// activityRelay narrates a structured run's tool calls through a draft
// message while the loop works. Adapters without draft support see
// nothing until the final reply.
type activityRelay struct {
	ctx    context.Context
	peer   string
	r      Responder
	editor DraftEditor

	lines    []string
	draftID  string
	lastEdit time.Time
}

func newActivityRelay(ctx context.Context, peer string, r Responder) *activityRelay {
	a := &activityRelay{ctx: ctx, peer: peer, r: r}
	if editor, ok := r.(DraftEditor); ok {
		a.editor = editor
	}
	return a
}

// onToolCall appends one activity line and pushes the draft, keeping
// only the most recent lines and respecting the platform's edit rate.
func (a *activityRelay) onToolCall(name string, input json.RawMessage) {
	if a.editor == nil {
		return
	}
	a.lines = append(a.lines, tools.ActivityLine(name, input))
	if len(a.lines) > maxActivityLines {
		a.lines = a.lines[len(a.lines)-maxActivityLines:]
	}
	text := strings.Join(a.lines, "\n")
	if len(text) > a.r.MaxMessageSize() {
		return
	}
	now := time.Now()
	if a.draftID == "" {
		id, err := a.editor.SendDraft(a.ctx, a.peer, text)
		if err != nil {
			a.editor = nil
			return
		}
		a.draftID = id
		a.lastEdit = now
		return
	}
	if now.Sub(a.lastEdit) < a.editor.EditInterval() {
		return
	}
	if err := a.editor.EditDraft(a.ctx, a.peer, a.draftID, text); err == nil {
		a.lastEdit = now
	}
}

// finish replaces the activity draft with the final reply, chunking
// overflow into follow-up messages.
func (a *activityRelay) finish(ctx context.Context, final string) error {
	chunks := ChunkMessage(final, a.r.MaxMessageSize())
	if len(chunks) == 0 {
		return nil
	}
	start := 0
	if a.editor != nil && a.draftID != "" {
		if err := a.editor.EditDraft(ctx, a.peer, a.draftID, chunks[0]); err != nil {
			return fmt.Errorf("finalize draft: %w", err)
		}
		start = 1
	}
	for _, chunk := range chunks[start:] {
		if err := a.r.SendText(ctx, a.peer, chunk); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
	return nil
}
