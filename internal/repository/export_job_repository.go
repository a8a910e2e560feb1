// Package repository holds the storage interfaces of the history service and
// their implementations. Export jobs live in process memory: the backing
// dataset is rebuilt from the backend on every fetch, so job metadata shares
// the service's lifetime.
package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Mordig101/apqp-history/internal/domain"

	"github.com/google/uuid"
)

// ErrExportJobNotFound indicates the requested job does not exist.
var ErrExportJobNotFound = errors.New("export job not found")

// ErrExportJobStatusConflict indicates that a job cannot transition to the
// requested state.
var ErrExportJobStatusConflict = errors.New("export job status conflict")

// ExportResult carries the final file metadata for a completed job.
type ExportResult struct {
	RowsExported int
	BytesWritten int64
	FilePath     *string
	FileName     *string
	FileMimeType *string
	FileByteSize *int64
}

// ExportJobRepository manages export job lifecycle metadata.
type ExportJobRepository interface {
	Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error)
	List(ctx context.Context, statuses []domain.ExportJobStatus, limit, offset int) ([]domain.ExportJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, result ExportResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error
	UpdateProgress(ctx context.Context, id uuid.UUID, rowsExported int, bytesWritten int64, rowsRequested *int) error
}

type exportJobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.ExportJob
	now  func() time.Time
}

// NewExportJobRepository creates the in-memory export job store.
func NewExportJobRepository() ExportJobRepository {
	return &exportJobRepository{
		jobs: map[uuid.UUID]domain.ExportJob{},
		now:  time.Now,
	}
}

func (r *exportJobRepository) Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := r.now()
	job.Status = domain.ExportJobStatusPending
	job.EnqueuedAt = now
	job.UpdatedAt = now
	r.jobs[job.ID] = job
	return job, nil
}

func (r *exportJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ExportJob{}, ErrExportJobNotFound
	}
	return job, nil
}

func (r *exportJobRepository) List(ctx context.Context, statuses []domain.ExportJobStatus, limit, offset int) ([]domain.ExportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	wanted := map[domain.ExportJobStatus]struct{}{}
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	r.mu.Lock()
	jobs := make([]domain.ExportJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		if len(wanted) > 0 {
			if _, ok := wanted[job.Status]; !ok {
				continue
			}
		}
		jobs = append(jobs, job)
	}
	r.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].EnqueuedAt.Equal(jobs[j].EnqueuedAt) {
			return jobs[i].ID.String() < jobs[j].ID.String()
		}
		return jobs[i].EnqueuedAt.After(jobs[j].EnqueuedAt)
	})

	if offset >= len(jobs) {
		return []domain.ExportJob{}, nil
	}
	end := offset + limit
	if end > len(jobs) {
		end = len(jobs)
	}
	return jobs[offset:end], nil
}

func (r *exportJobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, func(job *domain.ExportJob, now time.Time) error {
		if job.Status != domain.ExportJobStatusPending {
			return ErrExportJobStatusConflict
		}
		job.Status = domain.ExportJobStatusRunning
		job.StartedAt = &now
		return nil
	})
}

func (r *exportJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result ExportResult) error {
	return r.transition(id, func(job *domain.ExportJob, now time.Time) error {
		if job.Status != domain.ExportJobStatusRunning {
			return ErrExportJobStatusConflict
		}
		job.Status = domain.ExportJobStatusCompleted
		job.RowsExported = result.RowsExported
		job.BytesWritten = result.BytesWritten
		job.FilePath = result.FilePath
		job.FileName = result.FileName
		job.FileMimeType = result.FileMimeType
		job.FileByteSize = result.FileByteSize
		job.CompletedAt = &now
		return nil
	})
}

func (r *exportJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return r.transition(id, func(job *domain.ExportJob, now time.Time) error {
		if job.Status != domain.ExportJobStatusPending && job.Status != domain.ExportJobStatusRunning {
			return ErrExportJobStatusConflict
		}
		job.Status = domain.ExportJobStatusFailed
		job.ErrorMessage = &message
		job.CompletedAt = &now
		return nil
	})
}

func (r *exportJobRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error {
	return r.transition(id, func(job *domain.ExportJob, now time.Time) error {
		if job.Status != domain.ExportJobStatusPending && job.Status != domain.ExportJobStatusRunning {
			return ErrExportJobStatusConflict
		}
		job.Status = domain.ExportJobStatusCancelled
		job.ErrorMessage = &reason
		job.CompletedAt = &now
		return nil
	})
}

func (r *exportJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, rowsExported int, bytesWritten int64, rowsRequested *int) error {
	return r.transition(id, func(job *domain.ExportJob, now time.Time) error {
		if job.Status != domain.ExportJobStatusRunning {
			return ErrExportJobStatusConflict
		}
		job.RowsExported = rowsExported
		job.BytesWritten = bytesWritten
		if rowsRequested != nil {
			job.RowsRequested = *rowsRequested
		}
		return nil
	})
}

func (r *exportJobRepository) transition(id uuid.UUID, apply func(*domain.ExportJob, time.Time) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrExportJobNotFound
	}
	now := r.now()
	if err := apply(&job, now); err != nil {
		return err
	}
	job.UpdatedAt = now
	r.jobs[id] = job
	return nil
}
