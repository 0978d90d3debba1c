// Command convert transcribes one local PDF or image into markdown without
// touching the database. Useful for checking OCR and model settings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/core/llm/provider"
	"github.com/Zraffens/HackUTA-backend/internal/core/ocr"
	"github.com/Zraffens/HackUTA-backend/internal/core/pipeline"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Fprintln(os.Stderr, "usage: convert <file.pdf|png|jpg> [output-name]")
		os.Exit(2)
	}
	src := os.Args[1]
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if len(os.Args) == 3 {
		name = os.Args[2]
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger := common.NewLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Conversion.Timeout)
	defer cancel()

	transcriber, err := provider.New(cfg.LLM, logger)
	if err != nil {
		logger.Error("llm provider", "error", err)
		os.Exit(2)
	}
	rasterizer := ocr.NewRasterizer(ocr.Config{
		Engine:   cfg.OCR.PDFEngine,
		Pdftoppm: cfg.OCR.Pdftoppm,
		Scale:    cfg.OCR.Scale,
		MaxPages: cfg.OCR.MaxPages,
	}, logger)
	converter := pipeline.NewConverter(pipeline.Config{
		MarkdownDir:     cfg.Storage.MarkdownDir,
		PageConcurrency: cfg.Conversion.PageConcurrency,
		PageTimeout:     cfg.Conversion.PageTimeout,
	}, rasterizer, transcriber, logger)

	res, err := converter.Convert(ctx, src, name)
	if err != nil {
		logger.Error("conversion failed", "file", src, "kind", pipeline.KindOf(err), "error", err)
		os.Exit(1)
	}
	logger.Info("conversion complete",
		"file", src,
		"pages", res.Pages,
		"model", res.Model,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	fmt.Println(res.Path)
}
