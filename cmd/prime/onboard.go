package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/primehq/prime/internal/auth"
	"github.com/primehq/prime/internal/config"
	"github.com/primehq/prime/internal/storage"
	"github.com/primehq/prime/pkg/models"
)

const defaultOrgSlug = "default"

func buildOnboardCmd() *cobra.Command {
	var (
		auto     bool
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create the first organization, admin, provider, and agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if validate {
				fmt.Println("configuration ok")
				return nil
			}
			return runOnboard(cmd.Context(), cfg, auto)
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "non-interactive, use defaults and environment")
	cmd.Flags().BoolVar(&validate, "validate", false, "check the configuration and exit")
	return cmd
}

func runOnboard(ctx context.Context, cfg *config.Config, auto bool) error {
	store, err := storage.Open(ctx, storage.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	org, err := store.GetOrganizationBySlug(ctx, defaultOrgSlug)
	if errors.Is(err, storage.ErrNotFound) {
		org = &models.Organization{
			ID:        uuid.NewString(),
			Name:      "Default",
			Slug:      defaultOrgSlug,
			Active:    true,
			CreatedAt: time.Now(),
		}
		if err := store.CreateOrganization(ctx, org); err != nil {
			return fmt.Errorf("create organization: %w", err)
		}
		fmt.Printf("created organization %q\n", org.Slug)
	} else if err != nil {
		return err
	}

	username, password := "admin", ""
	if auto {
		password = randomSecret()
	} else {
		username, password, err = promptCredentials()
		if err != nil {
			return err
		}
	}
	admin, err := store.FindUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if admin == nil {
		admin = &models.User{
			ID:           uuid.NewString(),
			OrgID:        org.ID,
			Username:     username,
			Role:         models.RoleAdmin,
			PasswordHash: auth.HashSecret(password),
			CreatedAt:    time.Now(),
		}
		if err := store.CreateUser(ctx, admin); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		fmt.Printf("created admin %q", username)
		if auto {
			fmt.Printf(" with password %s", password)
		}
		fmt.Println()
	}

	providerID, err := seedProviders(ctx, store, cfg, org.ID)
	if err != nil {
		return err
	}
	if providerID == "" {
		fmt.Println("no provider API keys found; set OPENAI_API_KEY or ANTHROPIC_API_KEY and re-run")
		return nil
	}

	agents, err := store.ListAgents(ctx, org.ID)
	if err != nil {
		return err
	}
	var agentID string
	if len(agents) > 0 {
		agentID = agents[0].ID
	} else {
		agentID = uuid.NewString()
		if err := store.CreateAgent(ctx, &models.Agent{
			ID:                 agentID,
			OrgID:              org.ID,
			Name:               "assistant",
			DefaultProviderID:  providerID,
			DMPolicy:           cfg.Channels.DefaultDMPolicy,
			SystemPrompt:       "You are a helpful assistant.",
			MaxHistoryMessages: 40,
			WebSearchEnabled:   true,
			MemoryEnabled:      true,
			Active:             true,
			CreatedAt:          time.Now(),
		}); err != nil {
			return fmt.Errorf("create agent: %w", err)
		}
		fmt.Println("created agent \"assistant\"")
	}

	if err := seedTelegramBots(ctx, store, cfg, org.ID, agentID); err != nil {
		return err
	}
	if err := seedWebBot(ctx, store, org.ID, agentID); err != nil {
		return err
	}

	fmt.Println("onboarding complete")
	return nil
}

// seedProviders creates one provider per configured API key and
// returns the id to use as the default.
func seedProviders(ctx context.Context, store *storage.Store, cfg *config.Config, orgID string) (string, error) {
	existing, err := store.ListProviders(ctx, orgID)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}

	defaults := map[string]string{
		"openai":    "gpt-4o-mini",
		"anthropic": "claude-sonnet-4-20250514",
		"deepseek":  "deepseek-chat",
		"gemini":    "gemini-2.0-flash",
		"mistral":   "mistral-small-latest",
		"kimi":      "moonshot-v1-8k",
		"glm":       "glm-4-flash",
		"qwen":      "qwen-turbo",
	}
	first := ""
	for ptype, key := range cfg.Providers.APIKeys {
		model := defaults[ptype]
		p := &models.Provider{
			ID:           uuid.NewString(),
			OrgID:        orgID,
			Name:         ptype,
			Type:         models.ProviderType(ptype),
			APIKey:       key,
			DefaultModel: model,
			Active:       true,
			CreatedAt:    time.Now(),
		}
		if err := store.CreateProvider(ctx, p); err != nil {
			return "", fmt.Errorf("create provider %s: %w", ptype, err)
		}
		fmt.Printf("created provider %q (%s)\n", ptype, model)
		if first == "" {
			first = p.ID
		}
	}
	return first, nil
}

// seedTelegramBots registers each configured token as a bot with a
// catch-all binding to the agent.
func seedTelegramBots(ctx context.Context, store *storage.Store, cfg *config.Config, orgID, agentID string) error {
	for i, token := range cfg.Channels.Telegram.BotTokens {
		name := fmt.Sprintf("telegram-%d", i)
		bot := &models.Bot{
			ID:        uuid.NewString(),
			OrgID:     orgID,
			Name:      name,
			Token:     token,
			Channels:  []models.ChannelType{models.ChannelTelegram},
			Active:    true,
			CreatedAt: time.Now(),
		}
		if err := store.CreateBot(ctx, bot); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("create bot %s: %w", name, err)
		}
		if err := store.CreateBinding(ctx, &models.Binding{
			ID:        uuid.NewString(),
			OrgID:     orgID,
			AgentID:   agentID,
			BotID:     bot.ID,
			Channel:   models.ChannelTelegram,
			Priority:  100,
			Active:    true,
			CreatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("create binding for %s: %w", name, err)
		}
		fmt.Printf("registered bot %q\n", name)
	}
	return nil
}

// seedWebBot registers the browser chat bot with a generated token
// and a catch-all binding, once.
func seedWebBot(ctx context.Context, store *storage.Store, orgID, agentID string) error {
	bots, err := store.ListBots(ctx, orgID)
	if err != nil {
		return err
	}
	for _, b := range bots {
		for _, c := range b.Channels {
			if c == models.ChannelWeb {
				return nil
			}
		}
	}
	bot := &models.Bot{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Name:      "web",
		Token:     randomSecret(),
		Channels:  []models.ChannelType{models.ChannelWeb},
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := store.CreateBot(ctx, bot); err != nil {
		return fmt.Errorf("create web bot: %w", err)
	}
	if err := store.CreateBinding(ctx, &models.Binding{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		AgentID:   agentID,
		BotID:     bot.ID,
		Channel:   models.ChannelWeb,
		Priority:  100,
		Active:    true,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("create web binding: %w", err)
	}
	fmt.Println("registered bot \"web\" for browser chat")
	return nil
}

func promptCredentials() (string, string, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("admin username [admin]: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = "admin"
	}
	fmt.Print("admin password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return "", "", fmt.Errorf("password is required")
	}
	return username, password, nil
}

func randomSecret() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
