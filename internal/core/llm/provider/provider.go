// Package provider builds the configured llm.Transcriber at start-up.
package provider

import (
	"fmt"
	"log/slog"

	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/core/llm"
	"github.com/Zraffens/HackUTA-backend/internal/core/llm/ollama"
	"github.com/Zraffens/HackUTA-backend/internal/core/llm/openai"
)

const (
	OpenAI = "openai"
	Ollama = "ollama"
)

// New selects the transcription backend named by cfg.Provider.
func New(cfg common.LLMConfig, logger *slog.Logger) (llm.Transcriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	retry := llm.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	switch cfg.Provider {
	case OpenAI, "":
		logger.Info("llm.provider.selected", "provider", OpenAI, "model", cfg.Model, "base_url", cfg.BaseURL)
		return openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Retry:       retry,
		}, logger), nil
	case Ollama:
		logger.Info("llm.provider.selected", "provider", Ollama, "model", cfg.Model, "host", cfg.OllamaHost)
		return ollama.NewClient(ollama.Config{
			Host:        cfg.OllamaHost,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Retry:       retry,
		}, logger), nil
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown LLM_PROVIDER %q", cfg.Provider), common.ErrInvalidInput)
	}
}
