package tests

import (
	"net/http"
	"testing"

	"github.com/Mordig101/apqp-history/internal/domain"
	"github.com/Mordig101/apqp-history/internal/history"
)

func recordByID(records []domain.HistoryRecord, id string) (domain.HistoryRecord, bool) {
	for _, record := range records {
		if record.ID == id {
			return record, true
		}
	}
	return domain.HistoryRecord{}, false
}

func TestHistoryFeedFlattensBackendTree(t *testing.T) {
	f := newFixture(t)

	var result history.QueryResult
	resp := f.getJSON(t, "/history", &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request ID header on responses")
	}

	// Two project-level events fan out into PRJ1 and PRJ1-1, plus the PPAP,
	// phase, and legacy project records.
	if len(result.Records) != 5 {
		t.Fatalf("expected 5 flattened records, got %d: %+v", len(result.Records), result.Records)
	}
	if result.Total != 2 || result.Pages != 1 {
		t.Fatalf("unexpected pagination metadata: %+v", result)
	}

	fanned, ok := recordByID(result.Records, "PRJ1-1")
	if !ok {
		t.Fatalf("expected fan-out sibling PRJ1-1 in %+v", result.Records)
	}
	if fanned.Title != "Gearbox Housing" || fanned.TableName != domain.HistoryTableProject {
		t.Fatalf("unexpected fan-out record: %+v", fanned)
	}

	phase, ok := recordByID(result.Records, "PH1")
	if !ok {
		t.Fatalf("expected phase record in %+v", result.Records)
	}
	if phase.ContextPath() != "Gearbox Housing → PPAP → Risk Analysis" {
		t.Fatalf("unexpected phase context path: %q", phase.ContextPath())
	}

	// Newest first.
	if result.Records[0].ID != "PH1" {
		t.Fatalf("expected newest record first, got %s", result.Records[0].ID)
	}
}

func TestHistoryFeedFilterAndOptions(t *testing.T) {
	f := newFixture(t)

	var result history.QueryResult
	f.getJSON(t, "/history?search=risk", &result)
	if len(result.Records) != 1 || result.Records[0].ID != "PH1" {
		t.Fatalf("unexpected search results: %+v", result.Records)
	}

	// Options always derive from the unfiltered page and lead with "all".
	if len(result.Filters.Users) == 0 || result.Filters.Users[0] != "all" {
		t.Fatalf("unexpected user options: %v", result.Filters.Users)
	}

	result = history.QueryResult{}
	f.getJSON(t, "/history?user=carol", &result)
	if len(result.Records) != 1 || result.Records[0].ID != "PRJ2" {
		t.Fatalf("unexpected user filter results: %+v", result.Records)
	}
	event, _ := result.Records[0].EventDetails()
	if event != "No event details" {
		t.Fatalf("expected legacy record fallback, got %q", event)
	}
}

func TestHistoryTableFeed(t *testing.T) {
	f := newFixture(t)

	var records []domain.RawHistoryRecord
	resp := f.getJSON(t, "/history/phase?project_id=1", &records)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if len(records) != 1 || records[0].ID != "PH1" {
		t.Fatalf("unexpected table records: %+v", records)
	}

	resp = f.getJSON(t, "/history/phase", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without project_id, got %d", resp.StatusCode)
	}
}
