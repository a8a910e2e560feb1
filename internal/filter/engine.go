// Package filter applies the dashboard's conjunctive filter set to a loaded
// history page and derives the dropdown option lists.
package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/Mordig101/apqp-history/internal/domain"
)

// Engine evaluates filter criteria against history records. Date buckets are
// computed relative to the engine's clock at evaluation time.
type Engine struct {
	now func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for date-bucket evaluation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a filter engine backed by the wall clock.
func NewEngine(opts ...Option) *Engine {
	engine := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Apply returns the records matching every predicate of the criteria.
// It never mutates its input and holds no state between calls.
func (e *Engine) Apply(records []domain.HistoryRecord, criteria domain.HistoryFilter) []domain.HistoryRecord {
	now := e.now()
	matched := make([]domain.HistoryRecord, 0, len(records))
	for _, record := range records {
		if !matchesSearch(record, criteria.Search) {
			continue
		}
		if !matchesTable(record, criteria.Table) {
			continue
		}
		if !matchesUser(record, criteria.User) {
			continue
		}
		if !matchesEventType(record, criteria.EventType) {
			continue
		}
		if !matchesDateBucket(record, criteria.DateBucket, now) {
			continue
		}
		matched = append(matched, record)
	}
	return matched
}

// Options derives the dropdown values from an unfiltered record set. Each
// list starts with the "all" sentinel; the rest is sorted for stable display.
func Options(records []domain.HistoryRecord) domain.FilterOptions {
	tables := map[string]struct{}{}
	users := map[string]struct{}{}
	eventTypes := map[string]struct{}{}
	for _, record := range records {
		if record.TableName != "" {
			tables[string(record.TableName)] = struct{}{}
		}
		if record.CreatedBy != "" {
			users[record.CreatedBy] = struct{}{}
		}
		for _, event := range record.Events {
			if event.User != "" {
				users[event.User] = struct{}{}
			}
			if event.Type != "" {
				eventTypes[event.Type] = struct{}{}
			}
		}
	}
	return domain.FilterOptions{
		Tables:     withAllSentinel(tables),
		Users:      withAllSentinel(users),
		EventTypes: withAllSentinel(eventTypes),
	}
}

func matchesSearch(record domain.HistoryRecord, search string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	candidates := []string{
		record.Title,
		record.SourceName,
		record.ParentName,
		record.GrandparentName,
	}
	for _, event := range record.Events {
		candidates = append(candidates, event.Details)
	}
	for _, candidate := range candidates {
		if strings.Contains(strings.ToLower(candidate), search) {
			return true
		}
	}
	return false
}

func matchesTable(record domain.HistoryRecord, table string) bool {
	if table == "" || table == domain.FilterAll {
		return true
	}
	return string(record.TableName) == table
}

func matchesUser(record domain.HistoryRecord, user string) bool {
	if user == "" || user == domain.FilterAll {
		return true
	}
	if record.CreatedBy == user {
		return true
	}
	for _, event := range record.Events {
		if event.User == user {
			return true
		}
	}
	return false
}

func matchesEventType(record domain.HistoryRecord, eventType string) bool {
	if eventType == "" || eventType == domain.FilterAll {
		return true
	}
	for _, event := range record.Events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func matchesDateBucket(record domain.HistoryRecord, bucket domain.DateBucket, now time.Time) bool {
	if bucket == "" || bucket == domain.DateBucketAll {
		return true
	}
	created, ok := domain.ParseCreatedAt(record.CreatedAt)
	if !ok {
		return false
	}
	created = created.In(now.Location())
	switch bucket {
	case domain.DateBucketToday:
		return sameDay(created, now)
	case domain.DateBucketYesterday:
		return sameDay(created, now.AddDate(0, 0, -1))
	case domain.DateBucketLastWeek:
		return !created.Before(now.AddDate(0, 0, -7))
	case domain.DateBucketLastMonth:
		return !created.Before(now.AddDate(0, -1, 0))
	default:
		return true
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func withAllSentinel(values map[string]struct{}) []string {
	sorted := make([]string, 0, len(values))
	for value := range values {
		sorted = append(sorted, value)
	}
	sort.Strings(sorted)
	return append([]string{domain.FilterAll}, sorted...)
}
