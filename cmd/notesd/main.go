package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/core/async"
	"github.com/Zraffens/HackUTA-backend/internal/core/llm/provider"
	"github.com/Zraffens/HackUTA-backend/internal/core/ocr"
	"github.com/Zraffens/HackUTA-backend/internal/core/pipeline"
	repo "github.com/Zraffens/HackUTA-backend/internal/repository"
	"github.com/Zraffens/HackUTA-backend/internal/server"
	"github.com/Zraffens/HackUTA-backend/internal/services/export"
	"github.com/Zraffens/HackUTA-backend/internal/services/notes"
	"github.com/Zraffens/HackUTA-backend/internal/storage"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := common.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("notesd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	db, err := repo.Open(ctx, repo.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close(logger)

	if err := db.HealthCheck(ctx, 5*time.Second, logger); err != nil {
		return err
	}
	if err := db.Migrate(ctx, logger); err != nil {
		return err
	}

	maxUpload := int64(cfg.Server.MaxUploadMB) << 20
	store, err := storage.NewLocal(cfg.Storage.UploadDir, maxUpload, logger)
	if err != nil {
		return err
	}

	transcriber, err := provider.New(cfg.LLM, logger)
	if err != nil {
		return err
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

	notesRepo := repo.NewNoteRepository(db, logger)
	jobsRepo := repo.NewConversionJobRepository(db, logger)
	processor := pipeline.NewProcessor(logger, converter, notesRepo, jobsRepo, store, cfg.Conversion.Timeout)

	if _, err := async.FailStuck(ctx, notesRepo, logger); err != nil {
		return err
	}
	queue := async.NewProcessorQueue(processor, logger,
		async.WithWorkers(cfg.Conversion.Workers),
		async.WithQueueSize(cfg.Conversion.QueueSize),
		async.WithProcessTimeout(cfg.Conversion.Timeout+time.Minute),
	)

	ready := func(ctx context.Context) error { return db.HealthCheck(ctx, 2*time.Second, logger) }
	notesSvc := notes.NewService(notesRepo, jobsRepo, store, queue, logger)
	exportSvc := export.NewService(notesRepo, jobsRepo, logger)
	handler := server.NewRouter(server.Config{
		AdminToken:     cfg.Server.AdminToken,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxUploadBytes: maxUpload,
	}, server.NewNotesHandler(notesSvc, maxUpload, logger), server.NewAdminHandler(notesSvc, exportSvc, logger), ready, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("notesd listening", "addr", cfg.Server.HTTPAddr, "provider", cfg.LLM.Provider, "model", transcriber.Model())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// gRPC health outlives ctx so probes see the drain; it stops last.
	healthCtx, stopHealth := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHealth()
	// a large pending backlog blocks on the queue buffer; serve while it drains in
	go func() {
		if _, err := async.RequeuePending(ctx, notesRepo, queue, logger); err != nil {
			logger.Error("start-up requeue failed", "error", err)
		}
	}()

	if cfg.Server.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCHealthAddr)
		if err != nil {
			return err
		}
		gh := server.NewGRPCHealth(ready, 10*time.Second, logger)
		go func() {
			if err := gh.Serve(healthCtx, lis); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	queue.Shutdown(shutdownCtx)
	stopHealth()
	logger.Info("stopped")
	return runErr
}
