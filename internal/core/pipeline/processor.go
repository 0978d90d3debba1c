package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/entity"
	"github.com/Zraffens/HackUTA-backend/internal/repository"
)

// terminalWriteTimeout bounds the final status writes, which run detached from
// the conversion deadline so a timed-out note never stays in processing.
const terminalWriteTimeout = 10 * time.Second

// NoteStore is the slice of the notes repository the processor needs.
type NoteStore interface {
	repository.StatusStore
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Note, error)
	ClaimPending(ctx context.Context, id uuid.UUID) (bool, error)
}

// JobLog records conversion attempts for operators.
type JobLog interface {
	Start(ctx context.Context, noteID uuid.UUID, format string) (*entity.ConversionJob, error)
	FinishSuccess(ctx context.Context, jobID uuid.UUID, out repository.JobOutcome) error
	FinishFailure(ctx context.Context, jobID uuid.UUID, kind, message string, elapsed time.Duration) error
}

// ArtifactChecker reports whether a stored artifact is still readable.
type ArtifactChecker interface {
	Exists(path string) bool
}

// Processor runs one conversion per note and owns its status transitions.
type Processor struct {
	logger    *slog.Logger
	converter *Converter
	notes     NoteStore
	jobs      JobLog
	artifacts ArtifactChecker
	timeout   time.Duration
}

func NewProcessor(
	logger *slog.Logger,
	converter *Converter,
	notes NoteStore,
	jobs JobLog,
	artifacts ArtifactChecker,
	timeout time.Duration,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Processor{
		logger:    logger,
		converter: converter,
		notes:     notes,
		jobs:      jobs,
		artifacts: artifacts,
		timeout:   timeout,
	}
}

// OutputName is the markdown file stem for a note.
func OutputName(noteID uuid.UUID) string {
	return "note_" + noteID.String()
}

// ProcessNote claims a pending note, converts it, and leaves it completed
// with a markdown path or failed without one.
func (p *Processor) ProcessNote(ctx context.Context, noteID uuid.UUID) error {
	log := p.logger.With("note_id", noteID)

	note, err := p.notes.GetByID(ctx, noteID)
	if err != nil {
		return fmt.Errorf("get note: %w", err)
	}
	if note.OCRStatus != constants.StatusPending {
		log.Warn("processor.skip", "status", note.OCRStatus)
		return fmt.Errorf("%w: status is %s", ErrNotClaimable, note.OCRStatus)
	}
	format := constants.MapExtToFormat(filepath.Ext(note.SourcePath))

	// A pending note without its artifact fails without passing through processing.
	if !p.artifacts.Exists(note.SourcePath) {
		cause := fail(fmt.Errorf("%w: %s", ErrSourceMissing, note.SourcePath))
		log.Error("processor.source_missing", "source", note.SourcePath)
		p.recordFailure(ctx, log, noteID, nil, format, cause, 0)
		return cause
	}

	claimed, err := p.notes.ClaimPending(ctx, noteID)
	if err != nil {
		return fmt.Errorf("claim note: %w", err)
	}
	if !claimed {
		log.Warn("processor.claim_lost")
		return ErrNotClaimable
	}

	job, err := p.jobs.Start(ctx, noteID, format)
	if err != nil {
		// without a job row the attempt is still tracked on the note itself
		log.Error("processor.job_start_failed", "error", err)
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	res, convErr := p.converter.Convert(cctx, note.SourcePath, OutputName(noteID))
	cancel()

	if convErr != nil {
		p.recordFailure(ctx, log, noteID, job, format, convErr, time.Since(start))
		return convErr
	}

	wctx, wcancel := detached(ctx)
	defer wcancel()
	if err := p.notes.SetStatus(wctx, noteID, constants.StatusCompleted, &res.Path); err != nil {
		log.Error("processor.complete_failed", "error", err)
		// the record cannot point at the file; drop it and fail the note
		if rmErr := os.Remove(res.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("processor.orphan_remove_failed", "path", res.Path, "error", rmErr)
		}
		p.recordFailure(ctx, log, noteID, job, format, fail(fmt.Errorf("%w: record path: %v", ErrWriteFailure, err)), time.Since(start))
		return err
	}
	if job != nil {
		if err := p.jobs.FinishSuccess(wctx, job.ID, repository.JobOutcome{
			Pages:    res.Pages,
			Model:    res.Model,
			Duration: res.Duration,
		}); err != nil {
			log.Warn("processor.job_finish_failed", "job_id", job.ID, "error", err)
		}
	}

	log.Info("processor.completed", "path", res.Path, "pages", res.Pages, "elapsed_ms", res.Duration.Milliseconds())
	return nil
}

// recordFailure sets the note failed and closes (or opens and closes) its job row.
func (p *Processor) recordFailure(ctx context.Context, log *slog.Logger, noteID uuid.UUID, job *entity.ConversionJob, format string, cause error, elapsed time.Duration) {
	wctx, cancel := detached(ctx)
	defer cancel()

	kind := KindOf(cause)
	log.Error("processor.failed", "kind", kind, "error", cause, "elapsed_ms", elapsed.Milliseconds())

	if err := p.notes.SetStatus(wctx, noteID, constants.StatusFailed, nil); err != nil {
		log.Error("processor.fail_status_failed", "error", err)
	}
	if job == nil {
		var err error
		if job, err = p.jobs.Start(wctx, noteID, format); err != nil {
			log.Warn("processor.job_start_failed", "error", err)
			return
		}
	}
	if err := p.jobs.FinishFailure(wctx, job.ID, string(kind), cause.Error(), elapsed); err != nil {
		log.Warn("processor.job_finish_failed", "job_id", job.ID, "error", err)
	}
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}
