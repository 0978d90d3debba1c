// Package pipeline converts uploaded artifacts into page-marked markdown and
// drives the note status state machine around that conversion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Zraffens/HackUTA-backend/internal/core/llm"
	"github.com/Zraffens/HackUTA-backend/internal/core/ocr"
)

// Rasterizer is satisfied by *ocr.Rasterizer.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string) ([]ocr.Page, error)
}

type Config struct {
	MarkdownDir     string
	PageConcurrency int           // 1 = sequential
	PageTimeout     time.Duration // 0 = bounded only by the caller's context
}

// Result describes a written markdown file.
type Result struct {
	Path     string
	Pages    int
	Model    string
	Duration time.Duration
}

// Converter runs rasterize → transcribe → extract → assemble → write for one
// artifact. It never touches the database.
type Converter struct {
	cfg         Config
	rasterizer  Rasterizer
	transcriber llm.Transcriber
	logger      *slog.Logger
}

func NewConverter(cfg Config, rasterizer Rasterizer, transcriber llm.Transcriber, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 1
	}
	if cfg.MarkdownDir == "" {
		cfg.MarkdownDir = "uploads/markdown"
	}
	return &Converter{cfg: cfg, rasterizer: rasterizer, transcriber: transcriber, logger: logger}
}

// Convert writes <MarkdownDir>/<outputName>.md and returns its path. Any page
// failure fails the whole conversion and nothing is written.
func (c *Converter) Convert(ctx context.Context, sourcePath, outputName string) (Result, error) {
	start := time.Now()
	log := c.logger.With("source", sourcePath, "output", outputName)

	if _, err := os.Stat(sourcePath); err != nil {
		log.Error("pipeline.convert.source_missing", "error", err)
		return Result{}, fail(fmt.Errorf("%w: %v", ErrSourceMissing, err))
	}
	if outputName == "" || filepath.Base(outputName) != outputName || outputName == ".." {
		return Result{}, fail(fmt.Errorf("%w: invalid output name %q", ErrWriteFailure, outputName))
	}

	log.Info("pipeline.convert.start", "model", c.transcriber.Model(), "page_concurrency", c.cfg.PageConcurrency)

	pages, err := c.rasterizer.Rasterize(ctx, sourcePath)
	if err != nil {
		return Result{}, fail(err)
	}
	if len(pages) == 0 {
		log.Error("pipeline.convert.no_pages")
		return Result{}, fail(ErrNoPages)
	}

	results, err := c.transcribeAll(ctx, pages)
	if err != nil {
		log.Error("pipeline.convert.failed", "stage", "transcribe", "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Result{}, fail(err)
	}

	path, err := c.write(outputName, Assemble(results))
	if err != nil {
		log.Error("pipeline.convert.failed", "stage", "write", "error", err)
		return Result{}, fail(err)
	}

	res := Result{Path: path, Pages: len(pages), Model: c.transcriber.Model(), Duration: time.Since(start)}
	log.Info("pipeline.convert.ok",
		"path", path,
		"pages", res.Pages,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// transcribeAll fans pages out to a bounded pool. The first failure cancels
// the rest; results land in a slice indexed by page position.
func (c *Converter) transcribeAll(ctx context.Context, pages []ocr.Page) ([]PageResult, error) {
	results := make([]PageResult, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PageConcurrency)

	for i, page := range pages {
		g.Go(func() error {
			md, err := c.transcribePage(gctx, page)
			if err != nil {
				return err
			}
			results[i] = PageResult{Index: page.Index, Markdown: md}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Converter) transcribePage(ctx context.Context, page ocr.Page) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	pctx := ctx
	if c.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.cfg.PageTimeout)
		defer cancel()
	}

	raw, err := c.transcriber.Transcribe(pctx, page)
	if err != nil {
		if ctx.Err() != nil {
			// cancelled by a sibling failure or the overall deadline
			return "", ctx.Err()
		}
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: page %d timed out after %s", llm.ErrModelError, page.Index, c.cfg.PageTimeout)
		}
		c.logger.Warn("pipeline.page.failed", "page", page.Index, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: page %d: empty response text", llm.ErrModelError, page.Index)
	}

	md := llm.ExtractMarkdown(raw)
	c.logger.Debug("pipeline.page.ok", "page", page.Index, "chars", len(md),
		"elapsed_ms", time.Since(start).Milliseconds())
	return md, nil
}

// write persists content atomically: readers see either no file or the whole file.
func (c *Converter) write(outputName, content string) (string, error) {
	dir := c.cfg.MarkdownDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	final := filepath.Join(dir, outputName+".md")
	if abs, err := filepath.Abs(final); err == nil {
		final = abs
	}

	tmp, err := os.CreateTemp(dir, "."+outputName+"-*.md.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if err := os.Remove(tmpName); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to remove temp markdown", "path", tmpName, "error", err)
		}
	}

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return final, nil
}
