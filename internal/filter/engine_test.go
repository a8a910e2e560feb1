package filter

import (
	"testing"
	"time"

	"github.com/Mordig101/apqp-history/internal/domain"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func phaseRecord(id, title, details, createdAt string) domain.HistoryRecord {
	return domain.HistoryRecord{
		ID:         id,
		Title:      title,
		TableName:  domain.HistoryTablePhase,
		SourceName: title,
		CreatedAt:  createdAt,
		EventCount: 1,
		Events:     []domain.RawHistoryEvent{{Type: "update", Details: details}},
	}
}

func TestApplyConjunction(t *testing.T) {
	records := []domain.HistoryRecord{
		phaseRecord("1", "Planning", "risk review started", "2023-05-01T10:00:00Z"),
		phaseRecord("2", "Design", "risk matrix updated", "2023-05-02T10:00:00Z"),
		phaseRecord("3", "Design", "schedule updated", "2023-05-03T10:00:00Z"),
		{
			ID:         "4",
			Title:      "Gearbox",
			TableName:  domain.HistoryTableProject,
			SourceName: "Gearbox",
			CreatedAt:  "2023-05-04T10:00:00Z",
			EventCount: 1,
			Events:     []domain.RawHistoryEvent{{Type: "update", Details: "risk flag raised"}},
		},
	}

	engine := NewEngine()
	matched := engine.Apply(records, domain.HistoryFilter{
		Search: "risk",
		Table:  string(domain.HistoryTablePhase),
	})

	if len(matched) != 2 {
		t.Fatalf("expected 2 records matching both predicates, got %d", len(matched))
	}
	if matched[0].ID != "1" || matched[1].ID != "2" {
		t.Fatalf("unexpected matches: %+v", matched)
	}
}

func TestApplySearchIsCaseInsensitive(t *testing.T) {
	records := []domain.HistoryRecord{
		phaseRecord("1", "Planning", "Risk Review", "2023-05-01T10:00:00Z"),
	}
	engine := NewEngine()
	if got := engine.Apply(records, domain.HistoryFilter{Search: "rIsK"}); len(got) != 1 {
		t.Fatalf("expected case-insensitive match, got %d records", len(got))
	}
}

func TestApplyUserMatchesCreatorOrEventUser(t *testing.T) {
	records := []domain.HistoryRecord{
		{ID: "1", CreatedBy: "alice", CreatedAt: "2023-05-01T10:00:00Z"},
		{
			ID:         "2",
			CreatedAt:  "2023-05-01T10:00:00Z",
			EventCount: 1,
			Events:     []domain.RawHistoryEvent{{Type: "update", Details: "x", User: "alice"}},
		},
		{ID: "3", CreatedBy: "bob", CreatedAt: "2023-05-01T10:00:00Z"},
	}
	engine := NewEngine()
	matched := engine.Apply(records, domain.HistoryFilter{User: "alice"})
	if len(matched) != 2 {
		t.Fatalf("expected 2 records for alice, got %d", len(matched))
	}
}

func TestApplyDateBuckets(t *testing.T) {
	now := time.Date(2023, 5, 10, 15, 0, 0, 0, time.UTC)
	engine := NewEngine(WithClock(fixedClock(now)))

	today := phaseRecord("today", "Planning", "x", "2023-05-10T08:00:00Z")
	yesterday := phaseRecord("yesterday", "Planning", "x", "2023-05-09T22:00:00Z")
	twoDaysAgo := phaseRecord("stale", "Planning", "x", "2023-05-08T08:00:00Z")
	lastMonth := phaseRecord("older", "Planning", "x", "2023-04-12T08:00:00Z")
	ancient := phaseRecord("ancient", "Planning", "x", "2022-01-01T08:00:00Z")
	all := []domain.HistoryRecord{today, yesterday, twoDaysAgo, lastMonth, ancient}

	cases := []struct {
		bucket domain.DateBucket
		want   []string
	}{
		{domain.DateBucketToday, []string{"today"}},
		{domain.DateBucketYesterday, []string{"yesterday"}},
		{domain.DateBucketLastWeek, []string{"today", "yesterday", "stale"}},
		{domain.DateBucketLastMonth, []string{"today", "yesterday", "stale", "older"}},
		{domain.DateBucketAll, []string{"today", "yesterday", "stale", "older", "ancient"}},
	}
	for _, tc := range cases {
		matched := engine.Apply(all, domain.HistoryFilter{DateBucket: tc.bucket})
		if len(matched) != len(tc.want) {
			t.Fatalf("bucket %s: expected %d records, got %d", tc.bucket, len(tc.want), len(matched))
		}
		for i, want := range tc.want {
			if matched[i].ID != want {
				t.Fatalf("bucket %s: expected %q at %d, got %q", tc.bucket, want, i, matched[i].ID)
			}
		}
	}
}

func TestApplyUnparsableDateFailsBuckets(t *testing.T) {
	records := []domain.HistoryRecord{{ID: "1", CreatedAt: "garbage"}}
	engine := NewEngine()
	if got := engine.Apply(records, domain.HistoryFilter{DateBucket: domain.DateBucketLastMonth}); len(got) != 0 {
		t.Fatalf("expected unparsable dates to fail date buckets, got %d records", len(got))
	}
	if got := engine.Apply(records, domain.HistoryFilter{}); len(got) != 1 {
		t.Fatalf("expected bypass without a bucket, got %d records", len(got))
	}
}

func TestOptionsDerivation(t *testing.T) {
	records := []domain.HistoryRecord{
		{
			ID:         "1",
			TableName:  domain.HistoryTablePhase,
			CreatedBy:  "bob",
			CreatedAt:  "2023-05-01T10:00:00Z",
			EventCount: 1,
			Events:     []domain.RawHistoryEvent{{Type: "update", Details: "x", User: "alice"}},
		},
		{ID: "2", TableName: domain.HistoryTableProject, CreatedAt: "2023-05-01T10:00:00Z"},
	}

	options := Options(records)

	wantTables := []string{"all", "phase", "project"}
	if len(options.Tables) != len(wantTables) {
		t.Fatalf("unexpected tables: %v", options.Tables)
	}
	for i, want := range wantTables {
		if options.Tables[i] != want {
			t.Fatalf("unexpected tables: %v", options.Tables)
		}
	}

	wantUsers := []string{"all", "alice", "bob"}
	for i, want := range wantUsers {
		if options.Users[i] != want {
			t.Fatalf("unexpected users: %v", options.Users)
		}
	}

	if len(options.EventTypes) != 2 || options.EventTypes[0] != "all" || options.EventTypes[1] != "update" {
		t.Fatalf("unexpected event types: %v", options.EventTypes)
	}
}
