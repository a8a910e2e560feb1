// Package history holds the dashboard-facing history service: it drives the
// fetch+flatten pipeline, owns pagination state, and answers filtered queries
// over the currently loaded page.
package history

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/Mordig101/apqp-history/internal/domain"
	"github.com/Mordig101/apqp-history/internal/filter"
	"github.com/Mordig101/apqp-history/internal/flatten"
)

// Fetcher is the slice of the backend client the service depends on.
type Fetcher interface {
	ProjectHistories(ctx context.Context, page, pageSize int) (domain.PaginatedHistory, error)
	TableHistory(ctx context.Context, table domain.HistoryTable, projectID string) ([]domain.RawHistoryRecord, error)
}

// Service owns the in-memory record list for the loaded page. Page changes
// replace the list wholesale; there is no merging across pages. Responses
// racing each other follow last-write-wins: a fetch superseded by a newer one
// is discarded via generation tokens.
type Service struct {
	fetcher Fetcher
	filters *filter.Engine

	mu           sync.Mutex
	page         int
	pageSize     int
	totalPages   int
	totalRecords int
	records      []domain.HistoryRecord
	lastError    string
	loaded       bool

	nextGeneration    uint64
	appliedGeneration uint64
}

// Option customizes a Service.
type Option func(*Service)

// WithPageSize sets the default backend page size.
func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithFilterEngine swaps the filter engine, mainly to inject a test clock.
func WithFilterEngine(engine *filter.Engine) Option {
	return func(s *Service) {
		if engine != nil {
			s.filters = engine
		}
	}
}

// NewService creates a history service over the given backend fetcher.
func NewService(fetcher Fetcher, opts ...Option) *Service {
	service := &Service{
		fetcher:  fetcher,
		filters:  filter.NewEngine(),
		page:     1,
		pageSize: 10,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	Records      []domain.HistoryRecord
	Page         int
	PageSize     int
	TotalPages   int
	TotalRecords int
	Error        string
	Loaded       bool
}

// QueryResult is the dashboard view over the loaded page: the filtered
// records plus the dropdown options derived from the unfiltered set.
type QueryResult struct {
	Records  []domain.HistoryRecord `json:"records"`
	Filters  domain.FilterOptions   `json:"filters"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
	Pages    int                    `json:"pages"`
	Total    int                    `json:"total"`
	Error    string                 `json:"error,omitempty"`
}

// Sync moves the controller to the requested page coordinates and fetches
// when anything actually changed (or nothing was loaded yet). Zero values
// leave the current coordinates alone. Out-of-range pages are clamped and do
// not trigger a fetch of an out-of-range request.
func (s *Service) Sync(ctx context.Context, page, pageSize int) error {
	s.mu.Lock()
	changed := false
	if pageSize > 0 && pageSize != s.pageSize {
		s.pageSize = pageSize
		s.page = 1
		changed = true
	}
	if page > 0 {
		clamped := s.clampLocked(page)
		if clamped != s.page {
			s.page = clamped
			changed = true
		}
	}
	needsFetch := changed || !s.loaded
	s.mu.Unlock()

	if !needsFetch {
		return nil
	}
	return s.Refresh(ctx)
}

// SetPage moves to the given page, clamped to the known range, and fetches
// when the effective page differs from the current one. Returns the
// effective page.
func (s *Service) SetPage(ctx context.Context, page int) (int, error) {
	s.mu.Lock()
	clamped := s.clampLocked(page)
	if clamped == s.page && s.loaded {
		s.mu.Unlock()
		return clamped, nil
	}
	s.page = clamped
	s.mu.Unlock()
	return clamped, s.Refresh(ctx)
}

// SetPageSize changes the backend page size, resets to the first page, and
// refetches.
func (s *Service) SetPageSize(ctx context.Context, size int) error {
	if size <= 0 {
		return fmt.Errorf("page size must be positive, got %d", size)
	}
	s.mu.Lock()
	s.pageSize = size
	s.page = 1
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// Refresh re-runs the fetch+flatten cycle for the current coordinates and
// replaces the record list on success. A failed fetch clears the list and
// stores the error for display; it is not retried.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.nextGeneration++
	generation := s.nextGeneration
	page := s.page
	pageSize := s.pageSize
	s.mu.Unlock()

	response, err := s.fetcher.ProjectHistories(ctx, page, pageSize)
	var records []domain.HistoryRecord
	if err == nil {
		records = flatten.FlattenPage(response)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation < s.appliedGeneration {
		// A newer fetch already landed; this response lost the race.
		log.Printf("[history] discarding stale response for page %d", page)
		return nil
	}
	s.appliedGeneration = generation
	s.loaded = true
	if err != nil {
		s.lastError = err.Error()
		s.records = nil
		s.totalPages = 0
		s.totalRecords = 0
		return fmt.Errorf("load history page %d: %w", page, err)
	}
	s.lastError = ""
	s.records = records
	s.totalPages = response.Pages
	s.totalRecords = response.Total
	if s.totalPages > 0 && s.page > s.totalPages {
		s.page = s.totalPages
	}
	return nil
}

// Snapshot copies the controller state for callers outside the lock.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]domain.HistoryRecord, len(s.records))
	copy(records, s.records)
	return Snapshot{
		Records:      records,
		Page:         s.page,
		PageSize:     s.pageSize,
		TotalPages:   s.totalPages,
		TotalRecords: s.totalRecords,
		Error:        s.lastError,
		Loaded:       s.loaded,
	}
}

// Query filters the loaded page. Dropdown options always derive from the
// unfiltered record set so a narrow filter cannot empty its own choices.
func (s *Service) Query(criteria domain.HistoryFilter) QueryResult {
	snapshot := s.Snapshot()
	return QueryResult{
		Records:  s.filters.Apply(snapshot.Records, criteria),
		Filters:  filter.Options(snapshot.Records),
		Page:     snapshot.Page,
		PageSize: snapshot.PageSize,
		Pages:    snapshot.TotalPages,
		Total:    snapshot.TotalRecords,
		Error:    snapshot.Error,
	}
}

// LoadPage fetches and flattens one page without touching controller state.
// Export jobs use it so a long-running export cannot race the dashboard view.
func (s *Service) LoadPage(ctx context.Context, page, pageSize int) ([]domain.HistoryRecord, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		s.mu.Lock()
		pageSize = s.pageSize
		s.mu.Unlock()
	}
	response, err := s.fetcher.ProjectHistories(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("load history page %d: %w", page, err)
	}
	return flatten.FlattenPage(response), nil
}

// FilterRecords applies criteria to an already loaded record slice.
func (s *Service) FilterRecords(records []domain.HistoryRecord, criteria domain.HistoryFilter) []domain.HistoryRecord {
	return s.filters.Apply(records, criteria)
}

// TableHistory proxies the per-project single-table feed.
func (s *Service) TableHistory(ctx context.Context, table domain.HistoryTable, projectID string) ([]domain.RawHistoryRecord, error) {
	records, err := s.fetcher.TableHistory(ctx, table, projectID)
	if err != nil {
		return nil, fmt.Errorf("load %s history for project %s: %w", table, projectID, err)
	}
	return records, nil
}

// clampLocked bounds a requested page to [1, totalPages]. Before the first
// load the upper bound is unknown and the request passes through; Refresh
// re-clamps once the backend reports the real page count.
func (s *Service) clampLocked(page int) int {
	if page < 1 {
		return 1
	}
	if s.loaded && s.totalPages >= 1 && page > s.totalPages {
		return s.totalPages
	}
	return page
}
