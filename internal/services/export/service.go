// Package export renders note listings as XLSX workbooks for operators.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Zraffens/HackUTA-backend/internal/entity"
	"github.com/Zraffens/HackUTA-backend/internal/repository"
)

const sheet = "Notes"

var headers = []string{
	"Created",
	"Title",
	"Owner",
	"Public",
	"OCR Status",
	"Pages",
	"Last Error Kind",
	"Markdown Path",
	"Source Path",
}

type Service struct {
	notes  repository.NoteRepository
	jobs   repository.ConversionJobRepository
	logger *slog.Logger
}

func NewService(notes repository.NoteRepository, jobs repository.ConversionJobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{notes: notes, jobs: jobs, logger: logger}
}

// ExportNotesXLSX returns a workbook with one row per note matching filter.
// Pagination fields on filter are ignored; every matching note is exported.
func (s *Service) ExportNotesXLSX(ctx context.Context, filter repository.NoteFilter) ([]byte, error) {
	start := time.Now()

	notes, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, n := range notes {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		job, err := s.jobs.Latest(ctx, n.ID)
		if err != nil {
			return nil, fmt.Errorf("latest job for %s: %w", n.ID, err)
		}

		write(1, n.CreatedAt.UTC().Format(time.RFC3339))
		write(2, n.Title)
		write(3, n.OwnerID.String())
		write(4, n.IsPublic)
		write(5, string(n.OCRStatus))
		if job != nil && job.Pages != nil {
			write(6, *job.Pages)
		}
		if job != nil && job.ErrorKind != nil {
			write(7, *job.ErrorKind)
		}
		if n.MarkdownPath != nil {
			write(8, *n.MarkdownPath)
		}
		write(9, n.SourcePath)
	}

	_ = f.SetColWidth(sheet, "A", "A", 22) // created
	_ = f.SetColWidth(sheet, "B", "B", 36) // title
	_ = f.SetColWidth(sheet, "C", "C", 38) // owner
	_ = f.SetColWidth(sheet, "D", "G", 14)
	_ = f.SetColWidth(sheet, "H", "I", 60) // paths

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(notes),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// collect pages through List at the repository's maximum page size.
func (s *Service) collect(ctx context.Context, filter repository.NoteFilter) ([]*entity.Note, error) {
	filter.Page = 1
	filter.PerPage = repository.MaxPerPage
	var out []*entity.Note
	for {
		page, total, err := s.notes.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("query notes: %w", err)
		}
		out = append(out, page...)
		if len(page) == 0 || len(out) >= total {
			return out, nil
		}
		filter.Page++
	}
}
