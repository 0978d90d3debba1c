package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/core/llm"
	"github.com/Zraffens/HackUTA-backend/internal/core/ocr"
)

// envelopeSchema is the part of a chat/completions response we rely on.
var envelopeSchema = common.MustCompileSchema("chat_completion.json", map[string]any{
	"type":     "object",
	"required": []string{"choices"},
	"properties": map[string]any{
		"choices": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []string{"message"},
				"properties": map[string]any{
					"message": map[string]any{
						"type":     "object",
						"required": []string{"content"},
						"properties": map[string]any{
							"content": map[string]any{"type": []string{"string", "null"}},
						},
					},
				},
			},
		},
	},
})

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Transcribe implements llm.Transcriber using a vision chat/completions call.
func (c *Client) Transcribe(ctx context.Context, page ocr.Page) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	if c.cfg.APIKey == "" {
		c.log.Error("llm.transcribe.unavailable", "req_id", rid, "page", page.Index, "reason", "missing api key")
		return "", fmt.Errorf("%w: missing api key", llm.ErrModelUnavailable)
	}

	png, err := llm.EncodePNG(page.Image)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrModelError, err)
	}

	c.log.Info("llm.transcribe.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"page", page.Index,
		"png_bytes", len(png),
	)

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": llm.TranscriptionPrompt},
					{"type": "image_url", "image_url": map[string]any{"url": llm.PNGDataURL(png)}},
				},
			},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, err := llm.SendJSON(ctx, c.httpClient, endpoint, body, headers, c.cfg.Retry, c.log)
	if err != nil {
		c.log.Error("llm.transcribe.http_error",
			"req_id", rid, "page", page.Index, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", llm.ErrModelError, err)
	}

	if err := common.ValidateJSON(envelopeSchema, raw); err != nil {
		c.log.Error("llm.transcribe.bad_envelope",
			"req_id", rid, "page", page.Index, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("%w: %v", llm.ErrModelError, err)
	}

	var cc chatCompletion
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", llm.ErrModelError, err)
	}
	content := cc.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		c.log.Error("llm.transcribe.empty",
			"req_id", rid, "page", page.Index,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("%w: empty response text", llm.ErrModelError)
	}

	c.log.Info("llm.transcribe.ok",
		"req_id", rid,
		"page", page.Index,
		"chars", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}
