// Package config loads the platform configuration: a YAML file with
// environment variable expansion, overlaid by the well-known
// environment variables, with defaults applied last.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/primehq/prime/pkg/models"
)

// Config is the root configuration structure for Prime.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Providers ProvidersConfig `yaml:"providers"`
	Nodes     NodesConfig     `yaml:"nodes"`
	Cron      CronConfig      `yaml:"cron"`
	RAG       RAGConfig       `yaml:"rag"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	PublicURL string `yaml:"public_url"`
	// BackpressurePolicy is "drop_oldest" or "disconnect".
	BackpressurePolicy string `yaml:"backpressure_policy"`
}

type DatabaseConfig struct {
	Path            string        `yaml:"path"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	SecretKey   string        `yaml:"secret_key"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type ChannelsConfig struct {
	DefaultDMPolicy models.DMPolicy `yaml:"default_dm_policy"`
	Telegram        TelegramConfig  `yaml:"telegram"`
	Slack           SlackConfig     `yaml:"slack"`
	WhatsApp        WhatsAppConfig  `yaml:"whatsapp"`
}

type TelegramConfig struct {
	BotTokens  []string `yaml:"bot_tokens"`
	AllowedIDs []int64  `yaml:"allowed_ids"`
}

type SlackConfig struct {
	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token"`
	SigningSecret string `yaml:"signing_secret"`
}

type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	VerifyToken   string `yaml:"verify_token"`
	AppSecret     string `yaml:"app_secret"`
}

// ProvidersConfig carries backend API keys by provider type, seeding
// providers created during onboarding.
type ProvidersConfig struct {
	APIKeys map[string]string `yaml:"api_keys"`
}

type NodesConfig struct {
	AutoApproveAll   bool          `yaml:"auto_approve_all"`
	TrustedCommands  []string      `yaml:"trusted_commands"`
	AutoApproveRules []string      `yaml:"auto_approve_rules"`
	ApprovalTTL      time.Duration `yaml:"approval_ttl"`
}

type CronConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

type RAGConfig struct {
	EmbeddingModel string `yaml:"embedding_model"`
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig points span export at an OTLP collector. An empty
// endpoint leaves tracing off.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// Load reads the configuration file, expands $VARS in it, applies
// environment overrides, then defaults. A missing file is not an
// error; the result is the env-plus-defaults configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would run insecurely.
func (c *Config) Validate() error {
	if c.Auth.SecretKey != "" && len(c.Auth.SecretKey) < 16 {
		return fmt.Errorf("auth.secret_key must be at least 16 characters")
	}
	switch c.Channels.DefaultDMPolicy {
	case models.DMPolicyOpen, models.DMPolicyPairing, models.DMPolicyAllowlist, models.DMPolicyDisabled:
	default:
		return fmt.Errorf("channels.default_dm_policy %q is not one of open, pairing, allowlist, disabled", c.Channels.DefaultDMPolicy)
	}
	switch c.Server.BackpressurePolicy {
	case "drop_oldest", "disconnect":
	default:
		return fmt.Errorf("server.backpressure_policy %q is not drop_oldest or disconnect", c.Server.BackpressurePolicy)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.BackpressurePolicy == "" {
		cfg.Server.BackpressurePolicy = "drop_oldest"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "prime.db"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 4
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Channels.DefaultDMPolicy == "" {
		cfg.Channels.DefaultDMPolicy = models.DMPolicyPairing
	}
	if cfg.Nodes.ApprovalTTL == 0 {
		cfg.Nodes.ApprovalTTL = time.Hour
	}
	if cfg.Cron.TickInterval == 0 {
		cfg.Cron.TickInterval = 15 * time.Second
	}
	if cfg.RAG.EmbeddingModel == "" {
		cfg.RAG.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
