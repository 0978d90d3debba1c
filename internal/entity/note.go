package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/constants"
)

// Note represents an uploaded note and the status of its markdown conversion.
type Note struct {
	ID            uuid.UUID                  `json:"id"`
	OwnerID       uuid.UUID                  `json:"owner_id"`
	Title         string                     `json:"title"`
	Description   *string                    `json:"description,omitempty"`
	SourcePath    string                     `json:"-"`
	Filename      string                     `json:"filename"`
	FileExt       string                     `json:"file_ext"`
	FileSize      int64                      `json:"file_size"`
	ContentHash   string                     `json:"content_hash"`
	IsPublic      bool                       `json:"is_public"`
	OCRStatus     constants.ConversionStatus `json:"ocr_status"`
	MarkdownPath  *string                    `json:"-"`
	ViewCount     int                        `json:"view_count"`
	DownloadCount int                        `json:"download_count"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// HasMarkdown reports whether a completed transcription is available.
func (n *Note) HasMarkdown() bool {
	return n.OCRStatus == constants.StatusCompleted && n.MarkdownPath != nil
}
