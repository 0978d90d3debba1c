package openai

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Zraffens/HackUTA-backend/internal/core/llm"
)

// Config for the OpenAI-compatible client. Works against OpenAI, OpenRouter and
// Gemini's OpenAI-compatible endpoint.
type Config struct {
	APIKey      string        // empty key fails every call with llm.ErrModelUnavailable
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // e.g., "gpt-4o-mini"
	Temperature float32       // 0..2
	Timeout     time.Duration // http client timeout
	Retry       llm.RetryConfig
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		logger.Warn("llm.openai.no_api_key", "hint", "conversions will fail until LLM_API_KEY is set")
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }
