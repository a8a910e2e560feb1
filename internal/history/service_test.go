package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Mordig101/apqp-history/internal/domain"
)

type stubFetcher struct {
	mu        sync.Mutex
	calls     []int
	pages     map[int]domain.PaginatedHistory
	err       error
	tableRows []domain.RawHistoryRecord
	tableErr  error
}

func (f *stubFetcher) ProjectHistories(ctx context.Context, page, pageSize int) (domain.PaginatedHistory, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()
	if f.err != nil {
		return domain.PaginatedHistory{}, f.err
	}
	if response, ok := f.pages[page]; ok {
		return response, nil
	}
	return domain.PaginatedHistory{Page: page, Results: map[string]domain.ProjectHistory{}}, nil
}

func (f *stubFetcher) TableHistory(ctx context.Context, table domain.HistoryTable, projectID string) ([]domain.RawHistoryRecord, error) {
	if f.tableErr != nil {
		return nil, f.tableErr
	}
	return f.tableRows, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func pageResponse(pages, total int, projectName string, records ...domain.RawHistoryRecord) domain.PaginatedHistory {
	return domain.PaginatedHistory{
		Total: total,
		Pages: pages,
		Results: map[string]domain.ProjectHistory{
			"1": {ProjectName: projectName, History: domain.NestedHistory{Project: records}},
		},
	}
}

func TestSyncLoadsAndFlattens(t *testing.T) {
	fetcher := &stubFetcher{pages: map[int]domain.PaginatedHistory{
		1: pageResponse(3, 25, "Gearbox", domain.RawHistoryRecord{ID: "R1", CreatedAt: "2023-05-01T10:00:00Z"}),
	}}
	service := NewService(fetcher)

	if err := service.Sync(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot := service.Snapshot()
	if len(snapshot.Records) != 1 || snapshot.Records[0].Title != "Gearbox" {
		t.Fatalf("unexpected records: %+v", snapshot.Records)
	}
	if snapshot.TotalPages != 3 || snapshot.TotalRecords != 25 {
		t.Fatalf("unexpected pagination state: %+v", snapshot)
	}
}

func TestSyncSkipsFetchWhenNothingChanged(t *testing.T) {
	fetcher := &stubFetcher{pages: map[int]domain.PaginatedHistory{1: pageResponse(2, 12, "Gearbox")}}
	service := NewService(fetcher)

	if err := service.Sync(context.Background(), 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Sync(context.Background(), 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("expected a single fetch, got %d", fetcher.callCount())
	}
}

func TestSetPageClampsOutOfRangeWithoutFetching(t *testing.T) {
	fetcher := &stubFetcher{pages: map[int]domain.PaginatedHistory{
		1: pageResponse(3, 25, "Gearbox"),
		3: pageResponse(3, 25, "Gearbox"),
	}}
	service := NewService(fetcher)

	if _, err := service.SetPage(context.Background(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := fetcher.callCount()

	effective, err := service.SetPage(context.Background(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if effective != 3 {
		t.Fatalf("expected clamp to page 3, got %d", effective)
	}
	if fetcher.callCount() != before {
		t.Fatalf("expected no fetch for an out-of-range page, got %d extra", fetcher.callCount()-before)
	}
}

func TestRefreshErrorClearsRecords(t *testing.T) {
	fetcher := &stubFetcher{pages: map[int]domain.PaginatedHistory{
		1: pageResponse(1, 1, "Gearbox", domain.RawHistoryRecord{ID: "R1", CreatedAt: "2023-05-01T10:00:00Z"}),
	}}
	service := NewService(fetcher)
	if err := service.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetcher.err = errors.New("backend returned 500: boom")
	if err := service.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}

	snapshot := service.Snapshot()
	if len(snapshot.Records) != 0 {
		t.Fatalf("expected records cleared after failure, got %d", len(snapshot.Records))
	}
	if !strings.Contains(snapshot.Error, "boom") {
		t.Fatalf("expected error state to carry the backend message, got %q", snapshot.Error)
	}

	result := service.Query(domain.HistoryFilter{})
	if len(result.Records) != 0 || result.Error == "" {
		t.Fatalf("expected empty filtered view with error banner, got %+v", result)
	}
}

func TestQueryAppliesFiltersOverLoadedPage(t *testing.T) {
	fetcher := &stubFetcher{pages: map[int]domain.PaginatedHistory{
		1: pageResponse(1, 2, "Gearbox",
			domain.RawHistoryRecord{
				ID:        "R1",
				CreatedAt: "2023-05-01T10:00:00Z",
				Events:    []domain.RawHistoryEvent{{Type: "update", Details: "risk review"}},
			},
			domain.RawHistoryRecord{
				ID:        "R2",
				CreatedAt: "2023-05-02T10:00:00Z",
				Events:    []domain.RawHistoryEvent{{Type: "approve", Details: "signoff"}},
			},
		),
	}}
	service := NewService(fetcher)
	if err := service.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := service.Query(domain.HistoryFilter{EventType: "approve"})
	if len(result.Records) != 1 || result.Records[0].ID != "R2" {
		t.Fatalf("unexpected filtered records: %+v", result.Records)
	}
	// Options derive from the unfiltered page.
	if len(result.Filters.EventTypes) != 3 {
		t.Fatalf("unexpected event type options: %v", result.Filters.EventTypes)
	}
}

func TestTableHistoryWrapsErrors(t *testing.T) {
	fetcher := &stubFetcher{tableErr: errors.New("backend returned 404: Not Found")}
	service := NewService(fetcher)

	_, err := service.TableHistory(context.Background(), domain.HistoryTablePhase, "7")
	if err == nil || !strings.Contains(err.Error(), "phase history for project 7") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
