package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/core/llm"
	"github.com/Zraffens/HackUTA-backend/internal/core/ocr"
	"github.com/Zraffens/HackUTA-backend/internal/repository"
)

type osArtifacts struct{}

func (osArtifacts) Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

type processorFixture struct {
	notes repository.NoteRepository
	jobs  repository.ConversionJobRepository
	dir   string
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(testLogger()) })
	require.NoError(t, db.Migrate(ctx, testLogger()))

	return &processorFixture{
		notes: repository.NewNoteRepository(db, testLogger()),
		jobs:  repository.NewConversionJobRepository(db, testLogger()),
		dir:   t.TempDir(),
	}
}

func (f *processorFixture) processor(tr llm.Transcriber, rast Rasterizer) *Processor {
	conv := NewConverter(Config{MarkdownDir: filepath.Join(f.dir, "markdown")}, rast, tr, testLogger())
	return NewProcessor(testLogger(), conv, f.notes, f.jobs, osArtifacts{}, 0)
}

func (f *processorFixture) createNote(t *testing.T, sourcePath string) uuid.UUID {
	t.Helper()
	n, err := f.notes.Create(context.Background(), repository.CreateNoteParams{
		OwnerID:    uuid.New(),
		Title:      "Linear algebra week 3",
		SourcePath: sourcePath,
		Filename:   filepath.Base(sourcePath),
		FileExt:    "png",
		FileSize:   64,
		IsPublic:   true,
	})
	require.NoError(t, err)
	require.Equal(t, constants.StatusPending, n.OCRStatus)
	return n.ID
}

func TestProcessNote_Success(t *testing.T) {
	f := newProcessorFixture(t)
	src := writeSource(t, f.dir, "scan.png")
	id := f.createNote(t, src)

	tr := &fakeTranscriber{fn: func(context.Context, ocr.Page) (string, error) {
		return "```markdown\n# Title\n$x^2$\n```", nil
	}}
	p := f.processor(tr, ocr.NewRasterizer(ocr.Config{}, testLogger()))
	require.NoError(t, p.ProcessNote(context.Background(), id))

	n, err := f.notes.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, n.OCRStatus)
	require.NotNil(t, n.MarkdownPath)
	assert.Equal(t, OutputName(id)+".md", filepath.Base(*n.MarkdownPath))
	b, err := os.ReadFile(*n.MarkdownPath)
	require.NoError(t, err)
	assert.Equal(t, "---\n**Page 1**\n---\n\n# Title\n$x^2$", string(b))

	jobs, err := f.jobs.ListByNote(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, constants.JobStatusCompleted, jobs[0].Status)
	require.NotNil(t, jobs[0].Pages)
	assert.Equal(t, 1, *jobs[0].Pages)
	require.NotNil(t, jobs[0].ModelName)
	assert.Equal(t, "fake-vision", *jobs[0].ModelName)
}

func TestProcessNote_FailureThenReprocess(t *testing.T) {
	f := newProcessorFixture(t)
	src := writeSource(t, f.dir, "doc.png")
	id := f.createNote(t, src)
	ctx := context.Background()

	failing := &fakeTranscriber{fn: func(_ context.Context, page ocr.Page) (string, error) {
		if page.Index == 2 {
			return "", fmt.Errorf("%w: 503", llm.ErrModelError)
		}
		return echoPage(context.Background(), page)
	}}
	err := f.processor(failing, fakeRasterizer{pages: nPages(3)}).ProcessNote(ctx, id)
	require.Error(t, err)
	assert.Equal(t, KindModelError, KindOf(err))

	n, err := f.notes.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, n.OCRStatus)
	assert.Nil(t, n.MarkdownPath)
	_, statErr := os.Stat(filepath.Join(f.dir, "markdown", OutputName(id)+".md"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	latest, err := f.jobs.Latest(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, constants.JobStatusFailed, latest.Status)
	require.NotNil(t, latest.ErrorKind)
	assert.Equal(t, string(KindModelError), *latest.ErrorKind)

	// a failed note is not picked up again until it is reset
	err = f.processor(&fakeTranscriber{fn: echoPage}, fakeRasterizer{pages: nPages(3)}).ProcessNote(ctx, id)
	assert.ErrorIs(t, err, ErrNotClaimable)

	ok, err := f.notes.ResetForReprocess(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.processor(&fakeTranscriber{fn: echoPage}, fakeRasterizer{pages: nPages(3)}).ProcessNote(ctx, id))

	n, err = f.notes.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, n.OCRStatus)
	assert.NotNil(t, n.MarkdownPath)

	jobs, err := f.jobs.ListByNote(ctx, id)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestProcessNote_ZeroPagesFails(t *testing.T) {
	f := newProcessorFixture(t)
	id := f.createNote(t, writeSource(t, f.dir, "blank.png"))

	err := f.processor(&fakeTranscriber{fn: echoPage}, fakeRasterizer{}).ProcessNote(context.Background(), id)
	assert.ErrorIs(t, err, ErrNoPages)

	n, err := f.notes.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, n.OCRStatus)
	assert.Nil(t, n.MarkdownPath)
}

// statusSpy records every status the processor writes. Writes of failOn are
// recorded and then rejected.
type statusSpy struct {
	NoteStore
	mu       sync.Mutex
	statuses []constants.ConversionStatus
	claimed  bool
	failOn   constants.ConversionStatus
}

func (s *statusSpy) SetStatus(ctx context.Context, id uuid.UUID, status constants.ConversionStatus, p *string) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	if s.failOn != "" && status == s.failOn {
		return fmt.Errorf("%w: connection reset", common.ErrDatabase)
	}
	return s.NoteStore.SetStatus(ctx, id, status, p)
}

func (s *statusSpy) ClaimPending(ctx context.Context, id uuid.UUID) (bool, error) {
	s.claimed = true
	return s.NoteStore.ClaimPending(ctx, id)
}

func TestProcessNote_MissingSourceSkipsProcessing(t *testing.T) {
	f := newProcessorFixture(t)
	id := f.createNote(t, filepath.Join(f.dir, "vanished.png"))

	spy := &statusSpy{NoteStore: f.notes}
	conv := NewConverter(Config{MarkdownDir: f.dir}, fakeRasterizer{pages: nPages(1)}, &fakeTranscriber{fn: echoPage}, testLogger())
	p := NewProcessor(testLogger(), conv, spy, f.jobs, osArtifacts{}, 0)

	err := p.ProcessNote(context.Background(), id)
	assert.ErrorIs(t, err, ErrSourceMissing)
	assert.False(t, spy.claimed, "never claimed into processing")
	assert.Equal(t, []constants.ConversionStatus{constants.StatusFailed}, spy.statuses)

	n, err := f.notes.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, n.OCRStatus)

	latest, err := f.jobs.Latest(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, string(KindCorruptArtifact), *latest.ErrorKind)
}

func TestProcessNote_CompletedWriteFailureRemovesMarkdown(t *testing.T) {
	f := newProcessorFixture(t)
	id := f.createNote(t, writeSource(t, f.dir, "scan.png"))
	ctx := context.Background()

	spy := &statusSpy{NoteStore: f.notes, failOn: constants.StatusCompleted}
	mdDir := filepath.Join(f.dir, "markdown")
	conv := NewConverter(Config{MarkdownDir: mdDir}, fakeRasterizer{pages: nPages(2)}, &fakeTranscriber{fn: echoPage}, testLogger())
	p := NewProcessor(testLogger(), conv, spy, f.jobs, osArtifacts{}, 0)

	err := p.ProcessNote(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDatabase)
	assert.Equal(t, []constants.ConversionStatus{constants.StatusCompleted, constants.StatusFailed}, spy.statuses)

	assert.NoFileExists(t, filepath.Join(mdDir, OutputName(id)+".md"))
	n, err := f.notes.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, n.OCRStatus)
	assert.Nil(t, n.MarkdownPath)

	latest, err := f.jobs.Latest(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, string(KindWriteFailure), *latest.ErrorKind)
}

func TestProcessNote_ClaimIsExclusive(t *testing.T) {
	f := newProcessorFixture(t)
	id := f.createNote(t, writeSource(t, f.dir, "scan.png"))
	ctx := context.Background()

	ok, err := f.notes.ClaimPending(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	tr := &fakeTranscriber{fn: echoPage}
	err = f.processor(tr, fakeRasterizer{pages: nPages(1)}).ProcessNote(ctx, id)
	assert.ErrorIs(t, err, ErrNotClaimable)
	assert.Zero(t, tr.calls.Load())

	n, err := f.notes.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusProcessing, n.OCRStatus, "the owning worker's state is untouched")
}

func TestProcessNote_TimeoutNeverLeavesProcessing(t *testing.T) {
	f := newProcessorFixture(t)
	id := f.createNote(t, writeSource(t, f.dir, "scan.png"))

	tr := &fakeTranscriber{fn: func(ctx context.Context, _ ocr.Page) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	conv := NewConverter(Config{MarkdownDir: f.dir}, fakeRasterizer{pages: nPages(1)}, tr, testLogger())
	p := NewProcessor(testLogger(), conv, f.notes, f.jobs, osArtifacts{}, 30*time.Millisecond)

	err := p.ProcessNote(context.Background(), id)
	assert.Equal(t, KindTimeout, KindOf(err))

	n, err := f.notes.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, n.OCRStatus)
	assert.Nil(t, n.MarkdownPath)
}
