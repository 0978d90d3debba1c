package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/entity"
)

const notesTable = "notes"

var noteColumns = []string{
	"id", "owner_id", "title", "description", "source_path", "filename", "file_ext", "file_size",
	"content_hash", "is_public", "ocr_status", "markdown_path", "view_count", "download_count",
	"created_at", "updated_at",
}

// StatusStore is the only write surface the conversion pipeline needs.
type StatusStore interface {
	// SetStatus sets ocr_status and markdown_path together. outputPath must be
	// non-nil exactly when status is completed.
	SetStatus(ctx context.Context, id uuid.UUID, status constants.ConversionStatus, outputPath *string) error
}

type NoteRepository interface {
	StatusStore
	Create(ctx context.Context, p CreateNoteParams) (*entity.Note, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Note, error)
	List(ctx context.Context, f NoteFilter) ([]*entity.Note, int, error)
	Update(ctx context.Context, id uuid.UUID, p UpdateNoteParams) (*entity.Note, error)
	Delete(ctx context.Context, id uuid.UUID) error
	IncrementViews(ctx context.Context, id uuid.UUID) error
	IncrementDownloads(ctx context.Context, id uuid.UUID) error

	// ClaimPending moves a note from pending to processing. It reports false when
	// another worker got there first or the note is not pending.
	ClaimPending(ctx context.Context, id uuid.UUID) (bool, error)
	// ResetForReprocess moves a completed or failed note back to pending and clears its markdown path.
	ResetForReprocess(ctx context.Context, id uuid.UUID) (bool, error)
	// FailStuckProcessing fails every note left in processing, e.g. after a crash.
	FailStuckProcessing(ctx context.Context) (int64, error)
	ListIDsByStatus(ctx context.Context, status constants.ConversionStatus) ([]uuid.UUID, error)
	CountByStatus(ctx context.Context) (map[constants.ConversionStatus]int, error)
}

type CreateNoteParams struct {
	OwnerID     uuid.UUID
	Title       string
	Description *string
	SourcePath  string
	Filename    string
	FileExt     string
	FileSize    int64
	ContentHash string
	IsPublic    bool
}

type UpdateNoteParams struct {
	Title       *string
	Description *string
	IsPublic    *bool
}

// NoteFilter narrows List. Zero values mean "no constraint".
type NoteFilter struct {
	Status *constants.ConversionStatus
	// VisibleTo limits results to public notes plus the given user's own notes.
	VisibleTo *uuid.UUID
	OwnerID   *uuid.UUID
	Search    string
	Page      int
	PerPage   int
}

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Normalize clamps paging to sane bounds.
func (f NoteFilter) Normalize() NoteFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

type noteRepo struct {
	drv *entsql.Driver
	log *slog.Logger
}

func NewNoteRepository(db *DB, log *slog.Logger) NoteRepository {
	if log == nil {
		log = slog.Default()
	}
	return &noteRepo{drv: db.Driver(), log: log}
}

func (r *noteRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *noteRepo) Create(ctx context.Context, p CreateNoteParams) (*entity.Note, error) {
	now := time.Now().UTC()
	n := &entity.Note{
		ID:          uuid.New(),
		OwnerID:     p.OwnerID,
		Title:       p.Title,
		Description: p.Description,
		SourcePath:  p.SourcePath,
		Filename:    p.Filename,
		FileExt:     p.FileExt,
		FileSize:    p.FileSize,
		ContentHash: p.ContentHash,
		IsPublic:    p.IsPublic,
		OCRStatus:   constants.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q, args := r.builder().Insert(notesTable).
		Columns(noteColumns...).
		Values(n.ID, n.OwnerID, n.Title, nullString(n.Description), n.SourcePath, n.Filename, n.FileExt, n.FileSize,
			n.ContentHash, n.IsPublic, string(n.OCRStatus), nil, 0, 0, n.CreatedAt, n.UpdatedAt).
		Query()
	if _, err := r.drv.ExecContext(ctx, q, args...); err != nil {
		r.log.Error("note create failed", "owner_id", p.OwnerID, "err", err)
		return nil, fmt.Errorf("%w: insert note: %v", common.ErrDatabase, err)
	}
	r.log.Info("note created", "note_id", n.ID, "owner_id", n.OwnerID, "file_ext", n.FileExt, "status", n.OCRStatus)
	return n, nil
}

func (r *noteRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Note, error) {
	q, args := r.builder().Select(noteColumns...).
		From(entsql.Table(notesTable)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := r.drv.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get note: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: get note: %v", common.ErrDatabase, err)
		}
		return nil, fmt.Errorf("note %s: %w", id, common.ErrNotFound)
	}
	return scanNote(rows)
}

func (r *noteRepo) filterPredicate(f NoteFilter) *entsql.Predicate {
	var preds []*entsql.Predicate
	if f.Status != nil {
		preds = append(preds, entsql.EQ("ocr_status", string(*f.Status)))
	}
	if f.OwnerID != nil {
		preds = append(preds, entsql.EQ("owner_id", *f.OwnerID))
	}
	if f.VisibleTo != nil {
		preds = append(preds, entsql.Or(
			entsql.EQ("is_public", true),
			entsql.EQ("owner_id", *f.VisibleTo),
		))
	}
	if f.Search != "" {
		preds = append(preds, entsql.Or(
			entsql.ContainsFold("title", f.Search),
			entsql.ContainsFold("description", f.Search),
		))
	}
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	default:
		return entsql.And(preds...)
	}
}

func (r *noteRepo) List(ctx context.Context, f NoteFilter) ([]*entity.Note, int, error) {
	f = f.Normalize()
	pred := r.filterPredicate(f)

	count := r.builder().Select(entsql.Count("*")).From(entsql.Table(notesTable))
	if pred != nil {
		count.Where(pred)
	}
	cq, cargs := count.Query()
	var total int
	if err := r.drv.DB().QueryRowContext(ctx, cq, cargs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count notes: %v", common.ErrDatabase, err)
	}

	sel := r.builder().Select(noteColumns...).From(entsql.Table(notesTable))
	if pred != nil {
		sel.Where(r.filterPredicate(f))
	}
	q, args := sel.
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(f.PerPage).
		Offset((f.Page - 1) * f.PerPage).
		Query()
	rows, err := r.drv.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list notes: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	out := make([]*entity.Note, 0, f.PerPage)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: list notes: %v", common.ErrDatabase, err)
	}
	return out, total, nil
}

func (r *noteRepo) Update(ctx context.Context, id uuid.UUID, p UpdateNoteParams) (*entity.Note, error) {
	upd := r.builder().Update(notesTable).Set("updated_at", time.Now().UTC())
	if p.Title != nil {
		upd.Set("title", *p.Title)
	}
	if p.Description != nil {
		upd.Set("description", *p.Description)
	}
	if p.IsPublic != nil {
		upd.Set("is_public", *p.IsPublic)
	}
	q, args := upd.Where(entsql.EQ("id", id)).Query()
	if err := r.execOne(ctx, q, args, id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes the note unless a worker holds it in processing, in which
// case it returns ErrConflict and leaves the row alone.
func (r *noteRepo) Delete(ctx context.Context, id uuid.UUID) error {
	q, args := r.builder().Delete(notesTable).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.NEQ("ocr_status", string(constants.StatusProcessing)),
		)).
		Query()
	err := r.execOne(ctx, q, args, id)
	if errors.Is(err, common.ErrNotFound) {
		// nothing matched: either the note is gone or it is being processed
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return common.NewAppError("BUSY", "note is being processed", common.ErrConflict)
		}
	}
	if err != nil {
		return err
	}
	r.log.Info("note deleted", "note_id", id)
	return nil
}

func (r *noteRepo) IncrementViews(ctx context.Context, id uuid.UUID) error {
	q, args := r.builder().Update(notesTable).Add("view_count", 1).Where(entsql.EQ("id", id)).Query()
	return r.execOne(ctx, q, args, id)
}

func (r *noteRepo) IncrementDownloads(ctx context.Context, id uuid.UUID) error {
	q, args := r.builder().Update(notesTable).Add("download_count", 1).Where(entsql.EQ("id", id)).Query()
	return r.execOne(ctx, q, args, id)
}

func (r *noteRepo) SetStatus(ctx context.Context, id uuid.UUID, status constants.ConversionStatus, outputPath *string) error {
	if (status == constants.StatusCompleted) != (outputPath != nil) {
		return common.NewAppError("STATUS_INVARIANT",
			fmt.Sprintf("markdown path must be set exactly when status is %s", constants.StatusCompleted),
			common.ErrInvalidInput)
	}
	upd := r.builder().Update(notesTable).
		Set("ocr_status", string(status)).
		Set("updated_at", time.Now().UTC())
	if outputPath != nil {
		upd.Set("markdown_path", *outputPath)
	} else {
		upd.SetNull("markdown_path")
	}
	q, args := upd.Where(entsql.EQ("id", id)).Query()
	if err := r.execOne(ctx, q, args, id); err != nil {
		r.log.Error("note status update failed", "note_id", id, "status", status, "err", err)
		return err
	}
	r.log.Info("note status updated", "note_id", id, "status", status)
	return nil
}

func (r *noteRepo) ClaimPending(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, id, constants.StatusProcessing, constants.StatusPending)
}

func (r *noteRepo) ResetForReprocess(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, id, constants.StatusPending, constants.StatusCompleted, constants.StatusFailed)
}

// transition is a compare-and-set on ocr_status; markdown_path is always cleared
// because none of the target states carry one.
func (r *noteRepo) transition(ctx context.Context, id uuid.UUID, to constants.ConversionStatus, from ...constants.ConversionStatus) (bool, error) {
	fromArgs := make([]any, len(from))
	for i, s := range from {
		fromArgs[i] = string(s)
	}
	q, args := r.builder().Update(notesTable).
		Set("ocr_status", string(to)).
		SetNull("markdown_path").
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.In("ocr_status", fromArgs...))).
		Query()
	res, err := r.drv.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("%w: transition note: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: transition note: %v", common.ErrDatabase, err)
	}
	if n == 1 {
		r.log.Info("note status transitioned", "note_id", id, "to", to)
	}
	return n == 1, nil
}

func (r *noteRepo) FailStuckProcessing(ctx context.Context) (int64, error) {
	q, args := r.builder().Update(notesTable).
		Set("ocr_status", string(constants.StatusFailed)).
		SetNull("markdown_path").
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("ocr_status", string(constants.StatusProcessing))).
		Query()
	res, err := r.drv.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: fail stuck notes: %v", common.ErrDatabase, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Warn("notes left in processing marked failed", "count", n)
	}
	return n, nil
}

func (r *noteRepo) ListIDsByStatus(ctx context.Context, status constants.ConversionStatus) ([]uuid.UUID, error) {
	q, args := r.builder().Select("id").
		From(entsql.Table(notesTable)).
		Where(entsql.EQ("ocr_status", string(status))).
		OrderBy(entsql.Asc("created_at")).
		Query()
	rows, err := r.drv.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list note ids: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan note id: %v", common.ErrDatabase, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *noteRepo) CountByStatus(ctx context.Context) (map[constants.ConversionStatus]int, error) {
	q, args := r.builder().Select("ocr_status", entsql.Count("*")).
		From(entsql.Table(notesTable)).
		GroupBy("ocr_status").
		Query()
	rows, err := r.drv.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: count by status: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	out := make(map[constants.ConversionStatus]int, len(constants.AllStatuses))
	for _, s := range constants.AllStatuses {
		out[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%w: scan status count: %v", common.ErrDatabase, err)
		}
		out[constants.ConversionStatus(status)] = n
	}
	return out, rows.Err()
}

func (r *noteRepo) execOne(ctx context.Context, q string, args []any, id uuid.UUID) error {
	res, err := r.drv.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if n == 0 {
		return fmt.Errorf("note %s: %w", id, common.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(rs rowScanner) (*entity.Note, error) {
	var (
		n            entity.Note
		description  sql.NullString
		markdownPath sql.NullString
		status       string
	)
	err := rs.Scan(&n.ID, &n.OwnerID, &n.Title, &description, &n.SourcePath, &n.Filename, &n.FileExt, &n.FileSize,
		&n.ContentHash, &n.IsPublic, &status, &markdownPath, &n.ViewCount, &n.DownloadCount,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan note: %v", common.ErrDatabase, err)
	}
	n.OCRStatus = constants.ConversionStatus(status)
	if description.Valid {
		n.Description = &description.String
	}
	if markdownPath.Valid {
		n.MarkdownPath = &markdownPath.String
	}
	return &n, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
