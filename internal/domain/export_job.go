package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExportFormat enumerates supported export file formats.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "CSV"
	ExportFormatXLSX ExportFormat = "XLSX"
)

// ExportJobStatus captures lifecycle state for an export job.
type ExportJobStatus string

const (
	ExportJobStatusPending   ExportJobStatus = "PENDING"
	ExportJobStatusRunning   ExportJobStatus = "RUNNING"
	ExportJobStatusCompleted ExportJobStatus = "COMPLETED"
	ExportJobStatusFailed    ExportJobStatus = "FAILED"
	ExportJobStatusCancelled ExportJobStatus = "CANCELLED"
)

// ExportJob tracks one asynchronous history export for dashboards and the
// download endpoint.
type ExportJob struct {
	ID            uuid.UUID       `json:"id"`
	Format        ExportFormat    `json:"format"`
	Page          int             `json:"page"`
	PageSize      int             `json:"page_size"`
	Criteria      HistoryFilter   `json:"criteria"`
	RowsRequested int             `json:"rows_requested"`
	RowsExported  int             `json:"rows_exported"`
	BytesWritten  int64           `json:"bytes_written"`
	FilePath      *string         `json:"file_path,omitempty"`
	FileName      *string         `json:"file_name,omitempty"`
	FileMimeType  *string         `json:"file_mime_type,omitempty"`
	FileByteSize  *int64          `json:"file_byte_size,omitempty"`
	Status        ExportJobStatus `json:"status"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
