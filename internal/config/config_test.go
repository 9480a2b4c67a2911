package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/primehq/prime/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prime.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Channels.DefaultDMPolicy != models.DMPolicyPairing {
		t.Fatalf("dm policy = %q", cfg.Channels.DefaultDMPolicy)
	}
	if cfg.Auth.TokenExpiry != 24*time.Hour {
		t.Fatalf("token expiry = %v", cfg.Auth.TokenExpiry)
	}
	if cfg.Nodes.ApprovalTTL != time.Hour {
		t.Fatalf("approval ttl = %v", cfg.Nodes.ApprovalTTL)
	}
}

func TestLoadExpandsEnvInFile(t *testing.T) {
	t.Setenv("PRIME_TEST_DB", "/var/lib/prime/prime.db")
	path := writeConfig(t, `
database:
  path: ${PRIME_TEST_DB}
server:
  addr: "0.0.0.0:9000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/prime/prime.db" {
		t.Fatalf("database path = %q", cfg.Database.Path)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-jwt-secret-value")
	t.Setenv("TELEGRAM_BOT_TOKENS", "tok-a, tok-b,,tok-c")
	t.Setenv("TELEGRAM_ALLOWED_IDS", "12345,67890")
	t.Setenv("DM_POLICY", "OPEN")
	t.Setenv("AUTO_APPROVE_ALL", "true")
	path := writeConfig(t, `
auth:
  jwt_secret: file-jwt-secret
channels:
  default_dm_policy: pairing
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "env-jwt-secret-value" {
		t.Fatalf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if got := cfg.Channels.Telegram.BotTokens; len(got) != 3 || got[0] != "tok-a" || got[2] != "tok-c" {
		t.Fatalf("bot tokens = %v", got)
	}
	if got := cfg.Channels.Telegram.AllowedIDs; len(got) != 2 || got[1] != 67890 {
		t.Fatalf("allowed ids = %v", got)
	}
	if cfg.Channels.DefaultDMPolicy != models.DMPolicyOpen {
		t.Fatalf("dm policy = %q", cfg.Channels.DefaultDMPolicy)
	}
	if !cfg.Nodes.AutoApproveAll {
		t.Fatal("expected auto approve all")
	}
}

func TestLoadRejectsShortSecretKey(t *testing.T) {
	t.Setenv("SECRET_KEY", "too-short")
	if _, err := Load(""); err == nil {
		t.Fatal("expected a validation error for a short secret key")
	}
}

func TestLoadRejectsBadDMPolicy(t *testing.T) {
	path := writeConfig(t, `
channels:
  default_dm_policy: maybe
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected a validation error for an unknown dm policy")
	}
}

func TestProviderKeysFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.APIKeys["openai"] != "sk-openai" {
		t.Fatalf("openai key = %q", cfg.Providers.APIKeys["openai"])
	}
	if cfg.Providers.APIKeys["anthropic"] != "sk-ant" {
		t.Fatalf("anthropic key = %q", cfg.Providers.APIKeys["anthropic"])
	}
}
