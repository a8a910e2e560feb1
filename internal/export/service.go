// Package export produces downloadable history export files through
// asynchronous jobs: queue, background worker, signed download link.
package export

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mordig101/apqp-history/internal/domain"
	"github.com/Mordig101/apqp-history/internal/repository"
)

type workerFunc func(context.Context, domain.ExportJob) error

var errJobNotRunnable = errors.New("export job is no longer runnable")

// HistorySource supplies the records an export job serializes.
type HistorySource interface {
	LoadPage(ctx context.Context, page, pageSize int) ([]domain.HistoryRecord, error)
	FilterRecords(records []domain.HistoryRecord, criteria domain.HistoryFilter) []domain.HistoryRecord
}

// Service queues and runs history export jobs.
type Service struct {
	history HistorySource
	jobs    repository.ExportJobRepository

	exportDir  string
	jobTimeout time.Duration
	now        func() time.Time

	downloadSigner *downloadSigner

	workerCancels sync.Map // map[uuid.UUID]context.CancelFunc
}

// Option customizes a Service.
type Option func(*Service)

// WithExportDirectory sets where export files are written.
func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

// WithJobTimeout bounds how long a single export job may run.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

// WithDownloadTokenTTL customizes the TTL for generated download links.
func WithDownloadTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.downloadSigner = newDownloadSigner(ttl)
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires an export service over a history source and job store.
func NewService(history HistorySource, jobs repository.ExportJobRepository, opts ...Option) *Service {
	service := &Service{
		history:    history,
		jobs:       jobs,
		exportDir:  filepath.Join(os.TempDir(), "apqp-history-exports"),
		jobTimeout: 5 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.downloadSigner == nil {
		service.downloadSigner = newDownloadSigner(5 * time.Minute)
	}
	return service
}

// Request describes one export to queue: which backend page to load and
// which filter set to apply before serializing.
type Request struct {
	Format   domain.ExportFormat
	Page     int
	PageSize int
	Criteria domain.HistoryFilter
}

// Queue validates the request, persists a pending job, and launches its
// worker. The returned job is in PENDING state.
func (s *Service) Queue(ctx context.Context, req Request) (domain.ExportJob, error) {
	switch req.Format {
	case domain.ExportFormatCSV, domain.ExportFormatXLSX:
	default:
		return domain.ExportJob{}, fmt.Errorf("unsupported export format %q", req.Format)
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	job := domain.ExportJob{
		Format:   req.Format,
		Page:     page,
		PageSize: req.PageSize,
		Criteria: req.Criteria,
	}
	persisted, err := s.jobs.Create(ctx, job)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("create export job: %w", err)
	}
	s.launchWorker(persisted, s.runExport)
	return persisted, nil
}

// ListJobs returns job metadata filtered by status.
func (s *Service) ListJobs(ctx context.Context, statuses []domain.ExportJobStatus, limit, offset int) ([]domain.ExportJob, error) {
	return s.jobs.List(ctx, statuses, limit, offset)
}

// GetJob returns the metadata for a single export job.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	if id == uuid.Nil {
		return domain.ExportJob{}, errors.New("job ID is required")
	}
	return s.jobs.GetByID(ctx, id)
}

// BuildDownloadURL signs a short-lived download URL for completed export files.
func (s *Service) BuildDownloadURL(job domain.ExportJob) (*string, error) {
	if job.Status != domain.ExportJobStatusCompleted {
		return nil, nil
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil, nil
	}
	if s.downloadSigner == nil {
		return nil, errors.New("download signer not configured")
	}
	token := s.downloadSigner.Sign(job.ID, s.now())
	values := url.Values{}
	values.Set("token", token)
	download := fmt.Sprintf("/exports/files/%s?%s", job.ID.String(), values.Encode())
	return &download, nil
}

// ValidateDownloadToken ensures the token is valid for the given job.
func (s *Service) ValidateDownloadToken(jobID uuid.UUID, token string) error {
	if s.downloadSigner == nil {
		return errors.New("download signer not configured")
	}
	return s.downloadSigner.Verify(jobID, token, s.now())
}

// OpenJobFile opens the completed export file for streaming to the client.
func (s *Service) OpenJobFile(job domain.ExportJob) (*os.File, error) {
	if job.Status != domain.ExportJobStatusCompleted {
		return nil, errors.New("export is not completed")
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil, errors.New("export file is unavailable")
	}
	file, err := os.Open(*job.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// CancelJob requests cancellation for a pending or running export job.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	if id == uuid.Nil {
		return domain.ExportJob{}, errors.New("job ID is required")
	}
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if job.Status != domain.ExportJobStatusPending && job.Status != domain.ExportJobStatusRunning {
		return job, fmt.Errorf("export job in status %s cannot be cancelled", job.Status)
	}
	if err := s.jobs.MarkCancelled(ctx, id, "Cancelled by user"); err != nil {
		if errors.Is(err, repository.ErrExportJobStatusConflict) {
			return s.jobs.GetByID(ctx, id)
		}
		return domain.ExportJob{}, err
	}
	if cancel, ok := s.workerCancels.LoadAndDelete(id); ok {
		if fn, okCast := cancel.(context.CancelFunc); okCast {
			fn()
		}
	}
	return s.jobs.GetByID(ctx, id)
}

func (s *Service) launchWorker(job domain.ExportJob, run workerFunc) {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	ctx := baseCtx
	cancelFunc := baseCancel
	if s.jobTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(baseCtx, s.jobTimeout)
		ctx = timeoutCtx
		cancelFunc = func() {
			timeoutCancel()
			baseCancel()
		}
	}
	s.workerCancels.Store(job.ID, cancelFunc)
	go func() {
		defer func() {
			cancelFunc()
			s.workerCancels.Delete(job.ID)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				log.Printf("[export] panic while processing job %s: %v", job.ID, rec)
				s.failJob(context.Background(), job.ID, err)
			}
		}()
		if err := run(ctx, job); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				log.Printf("[export] job %s cancelled", job.ID)
			case errors.Is(err, errJobNotRunnable):
				log.Printf("[export] job %s not runnable, skipping", job.ID)
			default:
				s.failJob(ctx, job.ID, err)
			}
		}
	}()
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, err error) {
	if err == nil {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	message := truncateError(err)
	if markErr := s.jobs.MarkFailed(ctx, jobID, message); markErr != nil {
		log.Printf("[export] failed to mark job %s as failed: %v (original error: %v)", jobID, markErr, err)
		return
	}
	log.Printf("[export] job %s failed: %v", jobID, err)
}

func (s *Service) runExport(ctx context.Context, job domain.ExportJob) error {
	if err := s.jobs.MarkRunning(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrExportJobStatusConflict) {
			return errJobNotRunnable
		}
		return fmt.Errorf("mark export job running: %w", err)
	}

	records, err := s.history.LoadPage(ctx, job.Page, job.PageSize)
	if err != nil {
		return err
	}
	records = s.history.FilterRecords(records, job.Criteria)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := s.ensureExportDirectory(); err != nil {
		return err
	}
	extension := fileExtension(job.Format)
	tempFile, err := os.CreateTemp(s.exportDir, fmt.Sprintf("%s-*.%s", job.ID, extension))
	if err != nil {
		return fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	buffered := bufio.NewWriterSize(tempFile, 1<<20)
	counter := &countingWriter{writer: buffered}

	switch job.Format {
	case domain.ExportFormatCSV:
		err = writeCSV(counter, records)
	case domain.ExportFormatXLSX:
		err = writeXLSX(counter, records)
	default:
		err = fmt.Errorf("unsupported export format %q", job.Format)
	}
	if err != nil {
		return err
	}

	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("flush export file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync export file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}

	rowsExported := len(records)
	rowsRequested := rowsExported
	if err := s.jobs.UpdateProgress(ctx, job.ID, rowsExported, counter.count, &rowsRequested); err != nil {
		return fmt.Errorf("update export progress: %w", err)
	}

	downloadName := s.downloadFileName(extension)
	finalPath := filepath.Join(s.exportDir, fmt.Sprintf("%s-%s", job.ID, downloadName))
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("promote export file: %w", err)
	}
	cleanup = false

	info, err := os.Stat(finalPath)
	if err != nil {
		return fmt.Errorf("stat export file: %w", err)
	}
	size := info.Size()
	mime := mimeType(job.Format)
	bytesWritten := counter.count
	if bytesWritten == 0 {
		bytesWritten = size
	}
	if err := s.jobs.MarkCompleted(ctx, job.ID, repository.ExportResult{
		RowsExported: rowsExported,
		BytesWritten: bytesWritten,
		FilePath:     &finalPath,
		FileName:     &downloadName,
		FileMimeType: &mime,
		FileByteSize: &size,
	}); err != nil {
		return fmt.Errorf("mark export completed: %w", err)
	}
	log.Printf("[export] job %s completed (rows=%d path=%s)", job.ID, rowsExported, finalPath)
	return nil
}

func (s *Service) ensureExportDirectory() error {
	if strings.TrimSpace(s.exportDir) == "" {
		return errors.New("export directory is not configured")
	}
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	return nil
}

// downloadFileName is the client-facing name: history-export-{date}.{ext}.
// On-disk files additionally carry the job ID so concurrent jobs on the same
// day cannot clobber each other.
func (s *Service) downloadFileName(extension string) string {
	return fmt.Sprintf("history-export-%s.%s", s.now().Format("2006-01-02"), extension)
}

func fileExtension(format domain.ExportFormat) string {
	if format == domain.ExportFormatXLSX {
		return "xlsx"
	}
	return "csv"
}

func mimeType(format domain.ExportFormat) string {
	if format == domain.ExportFormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}

type downloadSigner struct {
	secret []byte
	ttl    time.Duration
}

func newDownloadSigner(ttl time.Duration) *downloadSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &downloadSigner{secret: []byte(uuid.New().String()), ttl: ttl}
}

func (s *downloadSigner) Sign(jobID uuid.UUID, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s:%d", jobID.String(), expires)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	raw := fmt.Sprintf("%s:%s", payload, signature)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (s *downloadSigner) Verify(jobID uuid.UUID, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("missing download token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return errors.New("invalid token format")
	}
	if parts[0] != jobID.String() {
		return errors.New("token does not match export job")
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token expiration: %w", err)
	}
	if now.Unix() > expires {
		return errors.New("download token expired")
	}
	payload := fmt.Sprintf("%s:%s", parts[0], parts[1])
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	expected := mac.Sum(nil)
	provided, err := hex.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(expected, provided) {
		return errors.New("invalid download token")
	}
	return nil
}
