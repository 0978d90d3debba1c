package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zraffens/HackUTA-backend/internal/core/llm"
	"github.com/Zraffens/HackUTA-backend/internal/core/ocr"
)

var (
	// ErrSourceMissing means the stored artifact is gone before conversion began.
	ErrSourceMissing = errors.New("source artifact missing")
	// ErrNoPages means the artifact rasterized to nothing.
	ErrNoPages = errors.New("artifact has no pages")
	// ErrWriteFailure means the assembled markdown could not be persisted.
	ErrWriteFailure = errors.New("markdown write failed")
	// ErrNotClaimable means the note is not pending or another worker claimed it.
	ErrNotClaimable = errors.New("note is not claimable")
)

// Kind classifies a failed conversion for operators. Clients only ever see
// the failed status.
type Kind string

const (
	KindUnsupportedFormat Kind = "UnsupportedFormat"
	KindCorruptArtifact   Kind = "CorruptArtifact"
	KindModelUnavailable  Kind = "ModelUnavailable"
	KindModelError        Kind = "ModelError"
	KindWriteFailure      Kind = "WriteFailure"
	KindTimeout           Kind = "Timeout"
	KindUnknown           Kind = "Unknown"
)

// ConversionError is what Convert returns on failure.
type ConversionError struct {
	Kind Kind
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed (%s): %v", e.Kind, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func fail(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConversionError
	if errors.As(err, &ce) {
		return err
	}
	return &ConversionError{Kind: classify(err), Err: err}
}

// KindOf returns the taxonomy kind for err.
func KindOf(err error) Kind {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ocr.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ocr.ErrCorruptArtifact),
		errors.Is(err, ErrNoPages),
		errors.Is(err, ErrSourceMissing):
		return KindCorruptArtifact
	case errors.Is(err, llm.ErrModelUnavailable):
		return KindModelUnavailable
	case errors.Is(err, llm.ErrModelError):
		return KindModelError
	case errors.Is(err, ErrWriteFailure):
		return KindWriteFailure
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	default:
		return KindUnknown
	}
}
