package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/pkg/models"
)

// marshalJSON encodes a JSON column, mapping nil to the given default.
func marshalJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("storage: marshal column: %w", err)
	}
	return string(raw), nil
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("storage: unmarshal column: %w", err)
	}
	return nil
}

// CreateOrganization inserts the tenant root.
func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, slug, active, created_at) VALUES (?,?,?,?,?)`,
		org.ID, org.Name, org.Slug, org.Active, org.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create organization: %w", err)
	}
	return nil
}

// GetOrganizationBySlug resolves a tenant by its slug.
func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, active, created_at FROM organizations WHERE slug = ?`, slug)
	var org models.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Active, &org.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get organization: %w", err)
	}
	return &org, nil
}

// ListOrganizations returns every tenant, oldest first.
func (s *Store) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, active, created_at FROM organizations ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list organizations: %w", err)
	}
	defer rows.Close()
	var orgs []models.Organization
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.Active, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

const userColumns = `id, org_id, username, telegram_id, role, password_hash, api_token_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.OrgID, &u.Username, &u.TelegramID, &role, &u.PasswordHash, &u.APITokenHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = models.UserRole(role)
	return &u, nil
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		user.ID, user.OrgID, user.Username, user.TelegramID, string(user.Role),
		user.PasswordHash, user.APITokenHash, user.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get user: %w", err)
	}
	return user, nil
}

// FindUserByUsername resolves a login name. Returns nil when no user
// matches.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? LIMIT 1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find user: %w", err)
	}
	return user, nil
}

// UpdateUser rewrites a user's mutable fields.
func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = ?, telegram_id = ?, role = ?, password_hash = ?, api_token_hash = ? WHERE id = ?`,
		user.Username, user.TelegramID, string(user.Role), user.PasswordHash, user.APITokenHash, user.ID)
	if err != nil {
		return fmt.Errorf("storage: update user: %w", err)
	}
	return rowsAffected(res, "update user")
}

// UpsertChannelUser finds or creates the identity behind an inbound
// channel message. Lookup prefers the stable numeric id, falling back
// to username for channels without one.
func (s *Store) UpsertChannelUser(ctx context.Context, orgID, username string, telegramID int64) (*models.User, error) {
	if telegramID != 0 {
		user, err := scanUser(s.db.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE org_id = ? AND telegram_id = ?`, orgID, telegramID))
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("storage: find channel user: %w", err)
		}
	}
	if username != "" {
		user, err := scanUser(s.db.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE org_id = ? AND username = ?`, orgID, username))
		if err == nil {
			if telegramID != 0 && user.TelegramID != telegramID {
				user.TelegramID = telegramID
				if err := s.UpdateUser(ctx, user); err != nil {
					return nil, err
				}
			}
			return user, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("storage: find channel user: %w", err)
		}
	}

	user := &models.User{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		Username:   username,
		TelegramID: telegramID,
		Role:       models.RoleUser,
		CreatedAt:  time.Now(),
	}
	if user.Username == "" {
		user.Username = user.ID
	}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a race with a concurrent first message.
			return s.UpsertChannelUser(ctx, orgID, username, telegramID)
		}
		return nil, err
	}
	return user, nil
}

const agentColumns = `id, org_id, name, default_provider_id, workspace_path, dm_policy, allowed_user_ids,
	group_requires_mention, system_prompt, web_search_enabled, memory_enabled, max_history_messages,
	code_execution_enabled, active, created_at`

func scanAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	var a models.Agent
	var policy string
	var allowed []byte
	if err := row.Scan(&a.ID, &a.OrgID, &a.Name, &a.DefaultProviderID, &a.WorkspacePath, &policy, &allowed,
		&a.GroupRequiresMention, &a.SystemPrompt, &a.WebSearchEnabled, &a.MemoryEnabled, &a.MaxHistoryMessages,
		&a.CodeExecutionEnabled, &a.Active, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.DMPolicy = models.DMPolicy(policy)
	if err := unmarshalJSON(allowed, &a.AllowedUserIDs); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAgent inserts an agent.
func (s *Store) CreateAgent(ctx context.Context, agent *models.Agent) error {
	allowed, err := marshalJSON(agent.AllowedUserIDs, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		agent.ID, agent.OrgID, agent.Name, agent.DefaultProviderID, agent.WorkspacePath, string(agent.DMPolicy),
		allowed, agent.GroupRequiresMention, agent.SystemPrompt, agent.WebSearchEnabled, agent.MemoryEnabled,
		agent.MaxHistoryMessages, agent.CodeExecutionEnabled, agent.Active, agent.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create agent: %w", err)
	}
	return nil
}

// GetAgent fetches an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get agent: %w", err)
	}
	return agent, nil
}

// UpdateAgent rewrites an agent's mutable fields.
func (s *Store) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	allowed, err := marshalJSON(agent.AllowedUserIDs, "[]")
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, default_provider_id = ?, workspace_path = ?, dm_policy = ?, allowed_user_ids = ?,
		 group_requires_mention = ?, system_prompt = ?, web_search_enabled = ?, memory_enabled = ?,
		 max_history_messages = ?, code_execution_enabled = ?, active = ? WHERE id = ?`,
		agent.Name, agent.DefaultProviderID, agent.WorkspacePath, string(agent.DMPolicy), allowed,
		agent.GroupRequiresMention, agent.SystemPrompt, agent.WebSearchEnabled, agent.MemoryEnabled,
		agent.MaxHistoryMessages, agent.CodeExecutionEnabled, agent.Active, agent.ID)
	if err != nil {
		return fmt.Errorf("storage: update agent: %w", err)
	}
	return rowsAffected(res, "update agent")
}

// DeleteAgent removes an agent.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete agent: %w", err)
	}
	return rowsAffected(res, "delete agent")
}

// ListAgents returns the org's agents, newest first.
func (s *Store) ListAgents(ctx context.Context, orgID string) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	return agents, nil
}

const botColumns = `id, org_id, name, token, channels, allowed_user_ids, active, provider_defaults, created_at`

func scanBot(row interface{ Scan(...any) error }) (*models.Bot, error) {
	var b models.Bot
	var channels, allowed, defaults []byte
	if err := row.Scan(&b.ID, &b.OrgID, &b.Name, &b.Token, &channels, &allowed, &b.Active, &defaults, &b.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(channels, &b.Channels); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(allowed, &b.AllowedUserIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(defaults, &b.ProviderDefaults); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBot inserts a channel credential.
func (s *Store) CreateBot(ctx context.Context, bot *models.Bot) error {
	channels, err := marshalJSON(bot.Channels, "[]")
	if err != nil {
		return err
	}
	allowed, err := marshalJSON(bot.AllowedUserIDs, "[]")
	if err != nil {
		return err
	}
	defaults, err := marshalJSON(bot.ProviderDefaults, "{}")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bots (`+botColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		bot.ID, bot.OrgID, bot.Name, bot.Token, channels, allowed, bot.Active, defaults, bot.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create bot: %w", err)
	}
	return nil
}

// GetBot fetches a bot by id.
func (s *Store) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	bot, err := scanBot(s.db.QueryRowContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get bot: %w", err)
	}
	return bot, nil
}

// FindBotByToken resolves an active bot by credential, scoped to the
// channel family presenting it. Returns nil when nothing matches.
func (s *Store) FindBotByToken(ctx context.Context, channel models.ChannelType, token string) (*models.Bot, error) {
	bot, err := scanBot(s.db.QueryRowContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE token = ? AND active = 1`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find bot: %w", err)
	}
	for _, c := range bot.Channels {
		if c == channel {
			return bot, nil
		}
	}
	return nil, nil
}

// UpdateBot rewrites a bot's mutable fields.
func (s *Store) UpdateBot(ctx context.Context, bot *models.Bot) error {
	channels, err := marshalJSON(bot.Channels, "[]")
	if err != nil {
		return err
	}
	allowed, err := marshalJSON(bot.AllowedUserIDs, "[]")
	if err != nil {
		return err
	}
	defaults, err := marshalJSON(bot.ProviderDefaults, "{}")
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE bots SET name = ?, token = ?, channels = ?, allowed_user_ids = ?, active = ?, provider_defaults = ? WHERE id = ?`,
		bot.Name, bot.Token, channels, allowed, bot.Active, defaults, bot.ID)
	if err != nil {
		return fmt.Errorf("storage: update bot: %w", err)
	}
	return rowsAffected(res, "update bot")
}

// DeleteBot removes a bot.
func (s *Store) DeleteBot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete bot: %w", err)
	}
	return rowsAffected(res, "delete bot")
}

// ListBots returns the org's bots, newest first.
func (s *Store) ListBots(ctx context.Context, orgID string) ([]models.Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list bots: %w", err)
	}
	defer rows.Close()

	bots := []models.Bot{}
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan bot: %w", err)
		}
		bots = append(bots, *bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list bots: %w", err)
	}
	return bots, nil
}

const providerColumns = `id, org_id, name, type, api_key, api_base, default_model, models, optimization, active, created_at`

func scanProvider(row interface{ Scan(...any) error }) (*models.Provider, error) {
	var p models.Provider
	var ptype string
	var modelCfg, optimization []byte
	if err := row.Scan(&p.ID, &p.OrgID, &p.Name, &ptype, &p.APIKey, &p.APIBase, &p.DefaultModel,
		&modelCfg, &optimization, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Type = models.ProviderType(ptype)
	if err := unmarshalJSON(modelCfg, &p.Models); err != nil {
		return nil, err
	}
	if len(optimization) > 0 {
		p.Optimization = &models.TokenOptimization{}
		if err := unmarshalJSON(optimization, p.Optimization); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// CreateProvider inserts a provider configuration.
func (s *Store) CreateProvider(ctx context.Context, provider *models.Provider) error {
	modelCfg, err := marshalJSON(provider.Models, "{}")
	if err != nil {
		return err
	}
	var optimization any
	if provider.Optimization != nil {
		raw, err := marshalJSON(provider.Optimization, "")
		if err != nil {
			return err
		}
		optimization = raw
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO providers (`+providerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		provider.ID, provider.OrgID, provider.Name, string(provider.Type), provider.APIKey, provider.APIBase,
		provider.DefaultModel, modelCfg, optimization, provider.Active, provider.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create provider: %w", err)
	}
	return nil
}

// GetProvider fetches a provider by id.
func (s *Store) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	provider, err := scanProvider(s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get provider: %w", err)
	}
	return provider, nil
}

// UpdateProvider rewrites a provider's mutable fields.
func (s *Store) UpdateProvider(ctx context.Context, provider *models.Provider) error {
	modelCfg, err := marshalJSON(provider.Models, "{}")
	if err != nil {
		return err
	}
	var optimization any
	if provider.Optimization != nil {
		raw, err := marshalJSON(provider.Optimization, "")
		if err != nil {
			return err
		}
		optimization = raw
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET name = ?, type = ?, api_key = ?, api_base = ?, default_model = ?, models = ?,
		 optimization = ?, active = ? WHERE id = ?`,
		provider.Name, string(provider.Type), provider.APIKey, provider.APIBase, provider.DefaultModel,
		modelCfg, optimization, provider.Active, provider.ID)
	if err != nil {
		return fmt.Errorf("storage: update provider: %w", err)
	}
	return rowsAffected(res, "update provider")
}

// DeleteProvider removes a provider.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete provider: %w", err)
	}
	return rowsAffected(res, "delete provider")
}

// ListProviders returns the org's providers, newest first.
func (s *Store) ListProviders(ctx context.Context, orgID string) ([]models.Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list providers: %w", err)
	}
	defer rows.Close()

	providers := []models.Provider{}
	for rows.Next() {
		provider, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan provider: %w", err)
		}
		providers = append(providers, *provider)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list providers: %w", err)
	}
	return providers, nil
}

const bindingColumns = `id, org_id, agent_id, bot_id, channel, account_id, peer, priority, active, created_at`

func scanBinding(row interface{ Scan(...any) error }) (*models.Binding, error) {
	var b models.Binding
	var channel string
	if err := row.Scan(&b.ID, &b.OrgID, &b.AgentID, &b.BotID, &channel, &b.AccountID, &b.Peer,
		&b.Priority, &b.Active, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Channel = models.ChannelType(channel)
	return &b, nil
}

// CreateBinding inserts a routing rule.
func (s *Store) CreateBinding(ctx context.Context, binding *models.Binding) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bindings (`+bindingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		binding.ID, binding.OrgID, binding.AgentID, binding.BotID, string(binding.Channel),
		binding.AccountID, binding.Peer, binding.Priority, binding.Active, binding.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create binding: %w", err)
	}
	return nil
}

// GetBinding fetches a binding by id.
func (s *Store) GetBinding(ctx context.Context, id string) (*models.Binding, error) {
	binding, err := scanBinding(s.db.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get binding: %w", err)
	}
	return binding, nil
}

// UpdateBinding rewrites a binding's mutable fields.
func (s *Store) UpdateBinding(ctx context.Context, binding *models.Binding) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bindings SET agent_id = ?, bot_id = ?, channel = ?, account_id = ?, peer = ?, priority = ?, active = ? WHERE id = ?`,
		binding.AgentID, binding.BotID, string(binding.Channel), binding.AccountID, binding.Peer,
		binding.Priority, binding.Active, binding.ID)
	if err != nil {
		return fmt.Errorf("storage: update binding: %w", err)
	}
	return rowsAffected(res, "update binding")
}

// DeleteBinding removes a binding.
func (s *Store) DeleteBinding(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bindings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete binding: %w", err)
	}
	return rowsAffected(res, "delete binding")
}

// ListBindings returns the org's bindings ordered by priority.
func (s *Store) ListBindings(ctx context.Context, orgID string) ([]models.Binding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE org_id = ? ORDER BY priority ASC, created_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list bindings: %w", err)
	}
	defer rows.Close()

	bindings := []models.Binding{}
	for rows.Next() {
		binding, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan binding: %w", err)
		}
		bindings = append(bindings, *binding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list bindings: %w", err)
	}
	return bindings, nil
}

// ActiveBindings lists candidate rules for a channel, feeding the
// specificity-first resolver.
func (s *Store) ActiveBindings(ctx context.Context, channel models.ChannelType) ([]*models.Binding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE channel = ? AND active = 1 ORDER BY priority ASC, created_at ASC`,
		string(channel))
	if err != nil {
		return nil, fmt.Errorf("storage: active bindings: %w", err)
	}
	defer rows.Close()

	var bindings []*models.Binding
	for rows.Next() {
		binding, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan binding: %w", err)
		}
		bindings = append(bindings, binding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: active bindings: %w", err)
	}
	return bindings, nil
}
