// Package ocr turns uploaded artifacts into ordered page images for transcription.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Zraffens/HackUTA-backend/constants"
)

var (
	// ErrUnsupportedFormat means the artifact is neither a raster image nor a PDF.
	ErrUnsupportedFormat = errors.New("unsupported artifact format")
	// ErrCorruptArtifact means the artifact could not be opened or decoded.
	ErrCorruptArtifact = errors.New("corrupt artifact")
)

// PDF rendering engines.
const (
	EngineFitz     = "fitz"
	EnginePdftoppm = "pdftoppm"
)

// nativeDPI is the PDF user-space resolution (1pt = 1/72in).
const nativeDPI = 72.0

// Page is one raster page. Index is 1-based and follows document order.
type Page struct {
	Index int
	Image image.Image
}

type Config struct {
	Engine   string  // EngineFitz (default) | EnginePdftoppm
	Pdftoppm string  // binary name or absolute path; if empty -> "pdftoppm"
	Scale    float64 // upscaling over native PDF resolution, default 2.0
	MaxPages int     // 0 = no limit; larger documents are rejected, not truncated
}

// DPI is the effective rendering resolution.
func (c Config) DPI() float64 {
	return nativeDPI * c.Scale
}

// Rasterizer renders artifacts into pages. It never modifies the source file.
type Rasterizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewRasterizer(cfg Config, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Engine == "" {
		cfg.Engine = EngineFitz
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 2.0
	}
	return &Rasterizer{cfg: cfg, runner: ExecRunner{Logger: logger}, logger: logger}
}

// WithRunner swaps the command runner used by the pdftoppm engine.
func (r *Rasterizer) WithRunner(runner Runner) *Rasterizer {
	r.runner = runner
	return r
}

// Rasterize returns the artifact's pages in document order.
func (r *Rasterizer) Rasterize(ctx context.Context, path string) ([]Page, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	format := constants.MapExtToFormat(ext)
	if format == "" {
		r.logger.Warn("ocr.rasterize.unsupported", "path", path, "ext", ext)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}

	var (
		pages []Page
		err   error
	)
	switch {
	case format == constants.IMAGE:
		pages, err = r.rasterizeImage(path)
	case r.cfg.Engine == EnginePdftoppm:
		pages, err = r.rasterizePdftoppm(ctx, path)
	default:
		pages, err = r.rasterizeFitz(ctx, path)
	}
	if err != nil {
		r.logger.Error("ocr.rasterize.failed", "path", path, "format", format, "error", err)
		return nil, err
	}

	r.logger.Info("ocr.rasterize.ok",
		"path", path,
		"format", format,
		"engine", r.engineFor(format),
		"pages", len(pages),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return pages, nil
}

func (r *Rasterizer) engineFor(format string) string {
	if format == constants.IMAGE {
		return "image"
	}
	return r.cfg.Engine
}

func (r *Rasterizer) checkPageLimit(n int) error {
	if r.cfg.MaxPages > 0 && n > r.cfg.MaxPages {
		return fmt.Errorf("%w: %d pages exceeds limit of %d", ErrUnsupportedFormat, n, r.cfg.MaxPages)
	}
	return nil
}
