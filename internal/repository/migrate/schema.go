// Package migrate holds the table definitions applied by the repository at start-up.
package migrate

import (
	"context"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// NotesColumns holds the columns for the "notes" table.
	NotesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "owner_id", Type: field.TypeUUID},
		{Name: "title", Type: field.TypeString, Size: 200},
		{Name: "description", Type: field.TypeString, Nullable: true, Size: 2000},
		{Name: "source_path", Type: field.TypeString, Size: 1024},
		{Name: "filename", Type: field.TypeString},
		{Name: "file_ext", Type: field.TypeString, Size: 10},
		{Name: "file_size", Type: field.TypeInt64},
		{Name: "content_hash", Type: field.TypeString, Size: 64},
		{Name: "is_public", Type: field.TypeBool, Default: true},
		{Name: "ocr_status", Type: field.TypeString, Size: 16, Default: "pending"},
		{Name: "markdown_path", Type: field.TypeString, Nullable: true, Size: 1024},
		{Name: "view_count", Type: field.TypeInt, Default: 0},
		{Name: "download_count", Type: field.TypeInt, Default: 0},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// NotesTable holds the schema information for the "notes" table.
	NotesTable = &schema.Table{
		Name:       "notes",
		Columns:    NotesColumns,
		PrimaryKey: []*schema.Column{NotesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "note_ocr_status", Unique: false, Columns: []*schema.Column{NotesColumns[10]}},
			{Name: "note_owner_id_created_at", Unique: false, Columns: []*schema.Column{NotesColumns[1], NotesColumns[14]}},
		},
	}
	// ConversionJobsColumns holds the columns for the "conversion_jobs" table.
	ConversionJobsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "format", Type: field.TypeString, Size: 8},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "started_at", Type: field.TypeTime},
		{Name: "finished_at", Type: field.TypeTime, Nullable: true},
		{Name: "pages", Type: field.TypeInt, Nullable: true},
		{Name: "model_name", Type: field.TypeString, Nullable: true},
		{Name: "error_kind", Type: field.TypeString, Nullable: true, Size: 32},
		{Name: "error_message", Type: field.TypeString, Nullable: true, Size: 4096},
		{Name: "duration_ms", Type: field.TypeInt64, Nullable: true},
		{Name: "note_id", Type: field.TypeUUID},
	}
	// ConversionJobsTable holds the schema information for the "conversion_jobs" table.
	ConversionJobsTable = &schema.Table{
		Name:       "conversion_jobs",
		Columns:    ConversionJobsColumns,
		PrimaryKey: []*schema.Column{ConversionJobsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "conversion_jobs_notes_conversion_jobs",
				Columns:    []*schema.Column{ConversionJobsColumns[10]},
				RefColumns: []*schema.Column{NotesColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "conversionjob_note_id_started_at", Unique: false, Columns: []*schema.Column{ConversionJobsColumns[10], ConversionJobsColumns[3]}},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		NotesTable,
		ConversionJobsTable,
	}
)

func init() {
	ConversionJobsTable.ForeignKeys[0].RefTable = NotesTable
}

// Create runs the schema migration against drv.
func Create(ctx context.Context, drv dialect.Driver, opts ...schema.MigrateOption) error {
	m, err := schema.NewMigrate(drv, opts...)
	if err != nil {
		return err
	}
	return m.Create(ctx, Tables...)
}
