package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/primehq/prime/pkg/models"
)

// providerKeyEnv maps provider types to the environment variable that
// carries their API key.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"kimi":      "KIMI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"glm":       "ZAI_API_KEY",
	"qwen":      "QWEN_API_KEY",
}

// applyEnv overlays the well-known environment variables on the file
// configuration. Env values win over file values.
func applyEnv(cfg *Config) {
	setString(&cfg.Database.Path, "DATABASE_URL")
	setString(&cfg.Auth.SecretKey, "SECRET_KEY")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Server.PublicURL, "APP_PUBLIC_URL")
	setString(&cfg.Server.Addr, "GATEWAY_ADDR")

	if v := os.Getenv("TELEGRAM_BOT_TOKENS"); v != "" {
		cfg.Channels.Telegram.BotTokens = splitCSV(v)
	}
	if v := os.Getenv("TELEGRAM_ALLOWED_IDS"); v != "" {
		cfg.Channels.Telegram.AllowedIDs = cfg.Channels.Telegram.AllowedIDs[:0]
		for _, part := range splitCSV(v) {
			if id, err := strconv.ParseInt(part, 10, 64); err == nil {
				cfg.Channels.Telegram.AllowedIDs = append(cfg.Channels.Telegram.AllowedIDs, id)
			}
		}
	}
	if v := os.Getenv("DM_POLICY"); v != "" {
		cfg.Channels.DefaultDMPolicy = models.DMPolicy(strings.ToLower(v))
	}

	setString(&cfg.Channels.Slack.BotToken, "SLACK_BOT_TOKEN")
	setString(&cfg.Channels.Slack.AppToken, "SLACK_APP_TOKEN")
	setString(&cfg.Channels.Slack.SigningSecret, "SLACK_SIGNING_SECRET")

	setString(&cfg.Channels.WhatsApp.AccessToken, "WHATSAPP_TOKEN")
	setString(&cfg.Channels.WhatsApp.PhoneNumberID, "WHATSAPP_PHONE_ID")
	setString(&cfg.Channels.WhatsApp.VerifyToken, "WHATSAPP_VERIFY_TOKEN")
	setString(&cfg.Channels.WhatsApp.AppSecret, "WHATSAPP_APP_SECRET")

	for ptype, envName := range providerKeyEnv {
		v := os.Getenv(envName)
		if v == "" {
			continue
		}
		if cfg.Providers.APIKeys == nil {
			cfg.Providers.APIKeys = make(map[string]string)
		}
		cfg.Providers.APIKeys[ptype] = v
	}

	if v := os.Getenv("AUTO_APPROVE_ALL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Nodes.AutoApproveAll = b
		}
	}
}

func setString(dst *string, envName string) {
	if v := os.Getenv(envName); v != "" {
		*dst = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
