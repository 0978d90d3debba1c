package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/constants"
)

// ConversionJob is one conversion attempt for a note. Error details are for operators only.
type ConversionJob struct {
	ID           uuid.UUID           `json:"id"`
	NoteID       uuid.UUID           `json:"note_id"`
	Format       string              `json:"format"`
	Status       constants.JobStatus `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
	Pages        *int                `json:"pages,omitempty"`
	ModelName    *string             `json:"model_name,omitempty"`
	ErrorKind    *string             `json:"error_kind,omitempty"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	DurationMs   *int64              `json:"duration_ms,omitempty"`
}
