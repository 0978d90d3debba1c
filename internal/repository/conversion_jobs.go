package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/entity"
)

const (
	conversionJobsTable = "conversion_jobs"
	maxErrorMessageLen  = 4000
)

var conversionJobColumns = []string{
	"id", "note_id", "format", "status", "started_at", "finished_at", "pages", "model_name",
	"error_kind", "error_message", "duration_ms",
}

// JobOutcome describes a successful conversion attempt.
type JobOutcome struct {
	Pages    int
	Model    string
	Duration time.Duration
}

type ConversionJobRepository interface {
	Start(ctx context.Context, noteID uuid.UUID, format string) (*entity.ConversionJob, error)
	FinishSuccess(ctx context.Context, jobID uuid.UUID, out JobOutcome) error
	FinishFailure(ctx context.Context, jobID uuid.UUID, kind, message string, elapsed time.Duration) error
	ListByNote(ctx context.Context, noteID uuid.UUID) ([]*entity.ConversionJob, error)
	Latest(ctx context.Context, noteID uuid.UUID) (*entity.ConversionJob, error)
}

type conversionJobRepo struct {
	drv *entsql.Driver
	log *slog.Logger
}

func NewConversionJobRepository(db *DB, log *slog.Logger) ConversionJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &conversionJobRepo{drv: db.Driver(), log: log}
}

func (r *conversionJobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *conversionJobRepo) Start(ctx context.Context, noteID uuid.UUID, format string) (*entity.ConversionJob, error) {
	job := &entity.ConversionJob{
		ID:        uuid.New(),
		NoteID:    noteID,
		Format:    format,
		Status:    constants.JobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	q, args := r.builder().Insert(conversionJobsTable).
		Columns("id", "note_id", "format", "status", "started_at").
		Values(job.ID, job.NoteID, job.Format, string(job.Status), job.StartedAt).
		Query()
	if _, err := r.drv.ExecContext(ctx, q, args...); err != nil {
		r.log.Error("conversion_job start failed", "note_id", noteID, "err", err)
		return nil, fmt.Errorf("%w: insert conversion job: %v", common.ErrDatabase, err)
	}
	r.log.Info("conversion_job started", "job_id", job.ID, "note_id", noteID, "format", format)
	return job, nil
}

func (r *conversionJobRepo) FinishSuccess(ctx context.Context, jobID uuid.UUID, out JobOutcome) error {
	q, args := r.builder().Update(conversionJobsTable).
		Set("status", string(constants.JobStatusCompleted)).
		Set("finished_at", time.Now().UTC()).
		Set("pages", out.Pages).
		Set("model_name", out.Model).
		Set("duration_ms", out.Duration.Milliseconds()).
		Where(entsql.EQ("id", jobID)).
		Query()
	if _, err := r.drv.ExecContext(ctx, q, args...); err != nil {
		r.log.Error("conversion_job finish(COMPLETED) failed", "job_id", jobID, "err", err)
		return fmt.Errorf("%w: finish conversion job: %v", common.ErrDatabase, err)
	}
	r.log.Info("conversion_job finished (COMPLETED)", "job_id", jobID, "pages", out.Pages, "model", out.Model)
	return nil
}

func (r *conversionJobRepo) FinishFailure(ctx context.Context, jobID uuid.UUID, kind, message string, elapsed time.Duration) error {
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}
	q, args := r.builder().Update(conversionJobsTable).
		Set("status", string(constants.JobStatusFailed)).
		Set("finished_at", time.Now().UTC()).
		Set("error_kind", kind).
		Set("error_message", message).
		Set("duration_ms", elapsed.Milliseconds()).
		Where(entsql.EQ("id", jobID)).
		Query()
	if _, err := r.drv.ExecContext(ctx, q, args...); err != nil {
		r.log.Error("conversion_job finish(FAILED) failed", "job_id", jobID, "err", err)
		return fmt.Errorf("%w: finish conversion job: %v", common.ErrDatabase, err)
	}
	r.log.Warn("conversion_job finished (FAILED)", "job_id", jobID, "kind", kind, "error", message)
	return nil
}

func (r *conversionJobRepo) ListByNote(ctx context.Context, noteID uuid.UUID) ([]*entity.ConversionJob, error) {
	q, args := r.builder().Select(conversionJobColumns...).
		From(entsql.Table(conversionJobsTable)).
		Where(entsql.EQ("note_id", noteID)).
		OrderBy(entsql.Desc("started_at")).
		Query()
	rows, err := r.drv.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list conversion jobs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	var out []*entity.ConversionJob
	for rows.Next() {
		j, err := scanConversionJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Latest returns the most recent attempt for a note, or nil when none exists.
func (r *conversionJobRepo) Latest(ctx context.Context, noteID uuid.UUID) (*entity.ConversionJob, error) {
	q, args := r.builder().Select(conversionJobColumns...).
		From(entsql.Table(conversionJobsTable)).
		Where(entsql.EQ("note_id", noteID)).
		OrderBy(entsql.Desc("started_at")).
		Limit(1).
		Query()
	rows, err := r.drv.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: latest conversion job: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanConversionJob(rows)
}

func scanConversionJob(rs rowScanner) (*entity.ConversionJob, error) {
	var (
		j            entity.ConversionJob
		status       string
		finishedAt   sql.NullTime
		pages        sql.NullInt64
		modelName    sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		durationMs   sql.NullInt64
	)
	if err := rs.Scan(&j.ID, &j.NoteID, &j.Format, &status, &j.StartedAt, &finishedAt, &pages, &modelName,
		&errorKind, &errorMessage, &durationMs); err != nil {
		return nil, fmt.Errorf("%w: scan conversion job: %v", common.ErrDatabase, err)
	}
	j.Status = constants.JobStatus(status)
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	if pages.Valid {
		p := int(pages.Int64)
		j.Pages = &p
	}
	if modelName.Valid {
		j.ModelName = &modelName.String
	}
	if errorKind.Valid {
		j.ErrorKind = &errorKind.String
	}
	if errorMessage.Valid {
		j.ErrorMessage = &errorMessage.String
	}
	if durationMs.Valid {
		j.DurationMs = &durationMs.Int64
	}
	return &j, nil
}
