package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/repository"
)

func setup(t *testing.T) (repository.NoteRepository, repository.ConversionJobRepository, *Service) {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open(ctx, repository.Config{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(log) })
	require.NoError(t, db.Migrate(ctx, log))

	notes := repository.NewNoteRepository(db, log)
	jobs := repository.NewConversionJobRepository(db, log)
	return notes, jobs, NewService(notes, jobs, log)
}

func create(t *testing.T, notes repository.NoteRepository, owner uuid.UUID, title string) uuid.UUID {
	t.Helper()
	n, err := notes.Create(context.Background(), repository.CreateNoteParams{
		OwnerID:     owner,
		Title:       title,
		SourcePath:  "/data/" + title + ".pdf",
		Filename:    title + ".pdf",
		FileExt:     "pdf",
		FileSize:    10,
		ContentHash: "h",
	})
	require.NoError(t, err)
	return n.ID
}

func readRows(t *testing.T, b []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestExportNotesXLSX(t *testing.T) {
	notes, jobs, svc := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	done := create(t, notes, owner, "done")
	broken := create(t, notes, owner, "broken")

	for _, id := range []uuid.UUID{done, broken} {
		ok, err := notes.ClaimPending(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	md := "/md/note_" + done.String() + ".md"
	require.NoError(t, notes.SetStatus(ctx, done, constants.StatusCompleted, &md))
	j, err := jobs.Start(ctx, done, constants.PDF)
	require.NoError(t, err)
	require.NoError(t, jobs.FinishSuccess(ctx, j.ID, repository.JobOutcome{Pages: 3, Model: "m", Duration: time.Second}))

	require.NoError(t, notes.SetStatus(ctx, broken, constants.StatusFailed, nil))
	j, err = jobs.Start(ctx, broken, constants.PDF)
	require.NoError(t, err)
	require.NoError(t, jobs.FinishFailure(ctx, j.ID, "ModelUnavailable", "no key", time.Second))

	b, err := svc.ExportNotesXLSX(ctx, repository.NoteFilter{})
	require.NoError(t, err)

	rows := readRows(t, b)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])

	byTitle := map[string][]string{}
	for _, r := range rows[1:] {
		byTitle[r[1]] = r
	}
	require.Contains(t, byTitle, "done")
	assert.Equal(t, owner.String(), byTitle["done"][2])
	assert.Equal(t, "completed", byTitle["done"][4])
	assert.Equal(t, "3", byTitle["done"][5])
	assert.Equal(t, md, byTitle["done"][7])
	assert.Equal(t, "/data/done.pdf", byTitle["done"][8])

	require.Contains(t, byTitle, "broken")
	assert.Equal(t, "failed", byTitle["broken"][4])
	assert.Equal(t, "ModelUnavailable", byTitle["broken"][6])
}

func TestExportNotesXLSX_FilterAndPaging(t *testing.T) {
	notes, _, svc := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	for i := range repository.MaxPerPage + 5 {
		create(t, notes, owner, fmt.Sprintf("n%03d", i))
	}

	b, err := svc.ExportNotesXLSX(ctx, repository.NoteFilter{PerPage: 1})
	require.NoError(t, err)
	assert.Len(t, readRows(t, b), repository.MaxPerPage+5+1)

	failed := constants.StatusFailed
	b, err = svc.ExportNotesXLSX(ctx, repository.NoteFilter{Status: &failed})
	require.NoError(t, err)
	assert.Len(t, readRows(t, b), 1, "header only")
}
