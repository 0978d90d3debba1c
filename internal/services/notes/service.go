// Package notes holds the note use cases behind the HTTP API: upload,
// visibility-checked reads, owner edits and operator reprocessing.
package notes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/core/async"
	"github.com/Zraffens/HackUTA-backend/internal/entity"
	"github.com/Zraffens/HackUTA-backend/internal/repository"
	"github.com/Zraffens/HackUTA-backend/internal/storage"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
)

// ArtifactStore is satisfied by *storage.Local.
type ArtifactStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (storage.StoredFile, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

// Service handles note business logic.
type Service struct {
	notes  repository.NoteRepository
	jobs   repository.ConversionJobRepository
	store  ArtifactStore
	queue  async.Queue
	logger *slog.Logger
}

// NewService creates a new note service.
func NewService(notes repository.NoteRepository, jobs repository.ConversionJobRepository, store ArtifactStore, queue async.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{notes: notes, jobs: jobs, store: store, queue: queue, logger: logger}
}

// UploadRequest represents a new note upload.
type UploadRequest struct {
	OwnerID     uuid.UUID
	Title       string
	Description *string
	IsPublic    bool
	Filename    string
	Body        io.Reader
	TraceID     string
}

// Upload stores the artifact, records a pending note and queues its conversion.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*entity.Note, error) {
	if req.OwnerID == uuid.Nil {
		return nil, common.NewAppError("UNAUTHENTICATED", "X-User-ID is required", common.ErrUnauthorized)
	}
	title := strings.TrimSpace(req.Title)
	v := common.NewValidator()
	v.Field("title", title, common.Required, common.MaxLength(maxTitleLen))
	v.Field("description", req.Description, common.MaxLength(maxDescriptionLen))
	v.Field("file", req.Filename, common.Required)
	if err := v.Err(); err != nil {
		return nil, err
	}

	sf, err := s.store.Save(ctx, req.Filename, req.Body)
	if err != nil {
		s.logger.Warn("upload rejected", "owner_id", req.OwnerID, "filename", req.Filename, "error", err)
		return nil, err
	}

	n, err := s.notes.Create(ctx, repository.CreateNoteParams{
		OwnerID:     req.OwnerID,
		Title:       title,
		Description: trimmedOrNil(req.Description),
		SourcePath:  sf.Path,
		Filename:    sf.Filename,
		FileExt:     sf.Ext,
		FileSize:    sf.Size,
		ContentHash: sf.ContentHash,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		if rmErr := s.store.Remove(sf.Path); rmErr != nil {
			s.logger.Warn("failed to remove orphaned artifact", "path", sf.Path, "error", rmErr)
		}
		return nil, common.InternalErrorf("create note: %v", err)
	}

	s.enqueue(ctx, n.ID, req.TraceID)
	s.logger.Info("note uploaded", "note_id", n.ID, "owner_id", n.OwnerID, "bytes", sf.Size, "ext", sf.Ext)
	return n, nil
}

// enqueue failures leave the note pending; start-up recovery picks it up again.
func (s *Service) enqueue(ctx context.Context, id uuid.UUID, traceID string) {
	err := s.queue.Enqueue(ctx, async.Job{NoteID: id, SubmittedAt: time.Now(), TraceID: traceID})
	if err != nil {
		s.logger.Error("enqueue conversion failed", "note_id", id, "error", err)
	}
}

func trimmedOrNil(p *string) *string {
	if p == nil {
		return nil
	}
	t := strings.TrimSpace(*p)
	if t == "" {
		return nil
	}
	return &t
}

// Get returns a note the caller may see. Private notes of other users look
// like missing notes.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Note, error) {
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(ctx, n) {
		return nil, common.NotFoundf("note not found")
	}
	return n, nil
}

// View is Get plus a view-counter bump.
func (s *Service) View(ctx context.Context, id uuid.UUID) (*entity.Note, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.notes.IncrementViews(ctx, id); err != nil {
		s.logger.Warn("increment views failed", "note_id", id, "error", err)
	} else {
		n.ViewCount++
	}
	return n, nil
}

func canView(ctx context.Context, n *entity.Note) bool {
	return n.IsPublic || common.IsAdmin(ctx) || n.OwnerID == common.UserIDFromContext(ctx)
}

func (s *Service) owned(ctx context.Context, id uuid.UUID) (*entity.Note, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.OwnerID != common.UserIDFromContext(ctx) {
		return nil, common.NewAppError("NOT_OWNER", "only the owner can modify this note", common.ErrForbidden)
	}
	return n, nil
}

// ListRequest represents note listing parameters.
type ListRequest struct {
	Status  string
	Search  string
	Page    int
	PerPage int
}

// ListResult is one page of notes.
type ListResult struct {
	Notes   []*entity.Note
	Total   int
	Page    int
	PerPage int
}

// List returns public notes plus the caller's own; operators see everything.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	f := repository.NoteFilter{
		Search:  strings.TrimSpace(req.Search),
		Page:    req.Page,
		PerPage: req.PerPage,
	}.Normalize()
	if req.Status != "" {
		st, ok := constants.ParseStatus(req.Status)
		if !ok {
			return nil, common.InvalidInputf("status must be one of pending, processing, completed, failed")
		}
		f.Status = &st
	}
	if !common.IsAdmin(ctx) {
		caller := common.UserIDFromContext(ctx)
		f.VisibleTo = &caller
	}

	list, total, err := s.notes.List(ctx, f)
	if err != nil {
		return nil, common.InternalErrorf("list notes: %v", err)
	}
	return &ListResult{Notes: list, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// UpdateRequest carries optional owner edits.
type UpdateRequest struct {
	Title       *string
	Description *string
	IsPublic    *bool
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*entity.Note, error) {
	if _, err := s.owned(ctx, id); err != nil {
		return nil, err
	}
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		req.Title = &t
	}
	v := common.NewValidator()
	if req.Title != nil {
		v.Field("title", req.Title, common.Required, common.MaxLength(maxTitleLen))
	}
	v.Field("description", req.Description, common.MaxLength(maxDescriptionLen))
	if err := v.Err(); err != nil {
		return nil, err
	}
	n, err := s.notes.Update(ctx, id, repository.UpdateNoteParams{
		Title:       req.Title,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("note updated", "note_id", id)
	return n, nil
}

// Delete removes the note, its artifact and its markdown.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.owned(ctx, id)
	if err != nil {
		return err
	}
	// the repository refuses processing notes atomically; a claim that lands
	// after the read above still wins
	if err := s.notes.Delete(ctx, id); err != nil {
		return err
	}
	s.removeFiles(n.SourcePath, n.MarkdownPath)
	s.logger.Info("note deleted", "note_id", id)
	return nil
}

func (s *Service) removeFiles(source string, markdown *string) {
	paths := []string{source}
	if markdown != nil {
		paths = append(paths, *markdown)
	}
	for _, p := range paths {
		if err := s.store.Remove(p); err != nil {
			s.logger.Warn("failed to remove note file", "path", p, "error", err)
		}
	}
}

// Markdown is the polling view of a note's transcription. Content is set only
// when Status is completed.
type Markdown struct {
	Status  constants.ConversionStatus
	Content []byte
}

func (s *Service) Markdown(ctx context.Context, id uuid.UUID) (*Markdown, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.HasMarkdown() {
		return &Markdown{Status: n.OCRStatus}, nil
	}
	rc, err := s.store.Open(*n.MarkdownPath)
	if err != nil {
		s.logger.Error("markdown file unreadable", "note_id", id, "path", *n.MarkdownPath, "error", err)
		return nil, common.InternalErrorf("markdown unavailable")
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, common.InternalErrorf("read markdown: %v", err)
	}
	return &Markdown{Status: n.OCRStatus, Content: b}, nil
}

// OpenArtifact streams the original upload and bumps the download counter.
func (s *Service) OpenArtifact(ctx context.Context, id uuid.UUID) (*entity.Note, io.ReadCloser, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Open(n.SourcePath)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.NotFoundf("file not found")
		}
		return nil, nil, common.InternalErrorf("open artifact: %v", err)
	}
	if err := s.notes.IncrementDownloads(ctx, id); err != nil {
		s.logger.Warn("increment downloads failed", "note_id", id, "error", err)
	}
	return n, rc, nil
}

// Reprocess moves a completed or failed note back to pending and queues it.
func (s *Service) Reprocess(ctx context.Context, id uuid.UUID, traceID string) (*entity.Note, error) {
	before, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.notes.ResetForReprocess(ctx, id)
	if err != nil {
		return nil, common.InternalErrorf("reset note: %v", err)
	}
	if !ok {
		return nil, common.NewAppError("NOT_TERMINAL",
			fmt.Sprintf("note is %s; only completed or failed notes can be reprocessed", before.OCRStatus),
			common.ErrConflict)
	}
	if before.MarkdownPath != nil {
		if err := s.store.Remove(*before.MarkdownPath); err != nil {
			s.logger.Warn("failed to remove stale markdown", "note_id", id, "error", err)
		}
	}
	s.enqueue(ctx, id, traceID)
	s.logger.Info("note queued for reprocessing", "note_id", id, "previous_status", before.OCRStatus)
	return s.notes.GetByID(ctx, id)
}

// Stats counts notes per status, including zero counts.
func (s *Service) Stats(ctx context.Context) (map[constants.ConversionStatus]int, error) {
	counts, err := s.notes.CountByStatus(ctx)
	if err != nil {
		return nil, common.InternalErrorf("count notes: %v", err)
	}
	out := make(map[constants.ConversionStatus]int, len(constants.AllStatuses))
	for _, st := range constants.AllStatuses {
		out[st] = counts[st]
	}
	return out, nil
}

// Conversions returns the attempt history for operators.
func (s *Service) Conversions(ctx context.Context, id uuid.UUID) ([]*entity.ConversionJob, error) {
	if _, err := s.notes.GetByID(ctx, id); err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByNote(ctx, id)
	if err != nil {
		return nil, common.InternalErrorf("list conversions: %v", err)
	}
	return jobs, nil
}
