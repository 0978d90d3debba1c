// Package llm holds the vision-model transcription contract shared by the
// openai and ollama backends.
package llm

import (
	"context"
	"errors"

	"github.com/Zraffens/HackUTA-backend/internal/core/ocr"
)

var (
	// ErrModelUnavailable means no usable model endpoint or credential is configured.
	ErrModelUnavailable = errors.New("transcription model unavailable")
	// ErrModelError means the remote call failed or returned no usable text.
	ErrModelError = errors.New("transcription model error")
)

// Transcriber turns one page image into raw model text. Implementations are
// stateless per call; no context is carried between pages.
type Transcriber interface {
	Transcribe(ctx context.Context, page ocr.Page) (string, error)
	Model() string
}
