// Package ollama transcribes pages with a local vision model served by ollama.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/Zraffens/HackUTA-backend/internal/core/llm"
	"github.com/Zraffens/HackUTA-backend/internal/core/ocr"
)

type Config struct {
	Host        string // e.g. http://127.0.0.1:11434
	Model       string // a vision model such as "llava" or "qwen2.5vl"
	Temperature float32
	Timeout     time.Duration
	Retry       llm.RetryConfig
}

type Client struct {
	cfg    Config
	api    *api.Client
	log    *slog.Logger
	health error
}

// NewClient never fails; a bad host is reported by every Transcribe call as
// llm.ErrModelUnavailable.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	c := &Client{cfg: cfg, log: logger}

	if cfg.Model == "" {
		c.health = errors.New("no model configured")
	}
	base, err := url.Parse(cfg.Host)
	if err != nil || base.Scheme == "" || base.Host == "" {
		c.health = fmt.Errorf("invalid ollama host %q", cfg.Host)
	} else {
		c.api = api.NewClient(base, &http.Client{Timeout: cfg.Timeout})
	}
	if c.health != nil {
		logger.Warn("llm.ollama.unavailable", "error", c.health)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Transcribe implements llm.Transcriber through /api/chat without streaming.
func (c *Client) Transcribe(ctx context.Context, page ocr.Page) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	if c.health != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrModelUnavailable, c.health)
	}

	png, err := llm.EncodePNG(page.Image)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrModelError, err)
	}

	stream := false
	req := &api.ChatRequest{
		Model:  c.cfg.Model,
		Stream: &stream,
		Messages: []api.Message{{
			Role:    "user",
			Content: llm.TranscriptionPrompt,
			Images:  []api.ImageData{png},
		}},
		Options: map[string]any{"temperature": c.cfg.Temperature},
	}

	c.log.Info("llm.transcribe.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"page", page.Index,
		"png_bytes", len(png),
	)

	var content strings.Builder
	err = c.cfg.Retry.Do(ctx, c.log, func() (int, error) {
		content.Reset()
		err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
			content.WriteString(resp.Message.Content)
			return nil
		})
		if err == nil {
			return http.StatusOK, nil
		}
		var se api.StatusError
		if errors.As(err, &se) {
			return se.StatusCode, err
		}
		return 0, err
	})
	if err != nil {
		c.log.Error("llm.transcribe.chat_error",
			"req_id", rid, "page", page.Index, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", llm.ErrModelError, err)
	}

	out := content.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: empty response text", llm.ErrModelError)
	}
	c.log.Info("llm.transcribe.ok",
		"req_id", rid,
		"page", page.Index,
		"chars", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
