package providers

import (
	"fmt"
	"strings"

	"github.com/primehq/prime/internal/agent"
	"github.com/primehq/prime/pkg/models"
)

// Default base URLs for the OpenAI-compatible vendor family.
var compatBaseURLs = map[models.ProviderType]string{
	models.ProviderDeepSeek: "https://api.deepseek.com/v1",
	models.ProviderGemini:   "https://generativelanguage.googleapis.com/v1beta/openai",
	models.ProviderKimi:     "https://api.moonshot.cn/v1",
	models.ProviderMistral:  "https://api.mistral.ai/v1",
	models.ProviderGLM:      "https://open.bigmodel.cn/api/paas/v4",
	models.ProviderQwen:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	models.ProviderOllama:   "http://localhost:11434/v1",
}

// New builds the agent.Provider for a configured backend. Anthropic
// gets its native client; everything else speaks the OpenAI wire
// format against the vendor's compatibility endpoint, with api_base
// from the config taking precedence over the built-in default.
func New(cfg *models.Provider) (agent.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("providers: nil provider config")
	}

	switch cfg.Type {
	case models.ProviderAnthropic:
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.APIBase,
			DefaultModel: cfg.DefaultModel,
		})

	case models.ProviderOpenAI, models.ProviderDeepSeek, models.ProviderGemini,
		models.ProviderKimi, models.ProviderMistral, models.ProviderGLM,
		models.ProviderQwen, models.ProviderOllama, models.ProviderHTTP:
		baseURL := cfg.APIBase
		if baseURL == "" {
			baseURL = compatBaseURLs[cfg.Type]
		}
		if cfg.Type == models.ProviderHTTP && baseURL == "" {
			return nil, fmt.Errorf("providers: http provider requires api_base")
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      baseURL,
			Name:         string(cfg.Type),
			DefaultModel: cfg.DefaultModel,
		})

	case models.ProviderShell:
		// api_base carries the command line for shell providers.
		parts := strings.Fields(cfg.APIBase)
		if len(parts) == 0 {
			return nil, fmt.Errorf("providers: shell provider requires a command in api_base")
		}
		return NewShellProvider(parts[0], parts[1:]...)

	default:
		return nil, fmt.Errorf("providers: unsupported provider type %q", cfg.Type)
	}
}
