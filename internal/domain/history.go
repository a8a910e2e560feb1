package domain

import (
	"fmt"
	"strings"
	"time"
)

// HistoryTable identifies the entity kind that owns a history record.
type HistoryTable string

const (
	HistoryTableProject  HistoryTable = "project"
	HistoryTablePPAP     HistoryTable = "ppap"
	HistoryTablePhase    HistoryTable = "phase"
	HistoryTableOutput   HistoryTable = "output"
	HistoryTableDocument HistoryTable = "document"
	HistoryTableTeam     HistoryTable = "team"
	HistoryTablePerson   HistoryTable = "person"
	HistoryTableUser     HistoryTable = "user"
)

// RawHistoryEvent is one discrete audit event attached to a backend record.
type RawHistoryEvent struct {
	Type      string `json:"type"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp,omitempty"`
	User      string `json:"user,omitempty"`
}

// RawHistoryRecord is a history row exactly as the backend sends it. A record
// may bundle zero or many structured events; Event is the free-text legacy
// summary older rows carry instead.
type RawHistoryRecord struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Event     string            `json:"event,omitempty"`
	Events    []RawHistoryEvent `json:"events,omitempty"`
	CreatedAt string            `json:"created_at"`
	CreatedBy string            `json:"created_by,omitempty"`
	TableName string            `json:"table_name,omitempty"`
}

// HistoryRecord is the canonical flattened record every downstream consumer
// works with. After flattening, Events holds at most one event; EventCount
// keeps the size of the original event list so fan-out siblings can still
// report how many events the source record carried.
type HistoryRecord struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Event           string            `json:"event,omitempty"`
	Events          []RawHistoryEvent `json:"events,omitempty"`
	EventCount      int               `json:"event_count,omitempty"`
	CreatedAt       string            `json:"created_at"`
	CreatedBy       string            `json:"created_by,omitempty"`
	TableName       HistoryTable      `json:"table_name"`
	SourceName      string            `json:"sourceName"`
	ParentName      string            `json:"parentName,omitempty"`
	GrandparentName string            `json:"grandparentName,omitempty"`
}

// EventDetails derives the display strings for a record's event column.
// The second value is a "+n more events" hint when the pre-flatten record
// bundled several events, empty otherwise.
func (r HistoryRecord) EventDetails() (string, string) {
	if len(r.Events) == 0 {
		return "No event details", ""
	}
	details := ""
	if r.EventCount > 1 {
		details = fmt.Sprintf("+%d more events", r.EventCount-1)
	}
	return r.Events[0].Details, details
}

// ContextPath joins the record's ancestry labels for breadcrumb display.
// Only the segments that are set participate; leaf-only records yield "".
func (r HistoryRecord) ContextPath() string {
	segments := make([]string, 0, 3)
	if r.GrandparentName != "" {
		segments = append(segments, r.GrandparentName)
	}
	if r.ParentName != "" {
		segments = append(segments, r.ParentName)
	}
	if len(segments) > 0 && r.SourceName != "" {
		segments = append(segments, r.SourceName)
	}
	return strings.Join(segments, " → ")
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseCreatedAt parses a backend timestamp. The backend emits ISO datetimes
// but legacy rows occasionally drop the timezone or the time entirely.
func ParseCreatedAt(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// FormatCreatedAt renders a backend timestamp for display and export.
// Unparsable values render as "Invalid date" so one bad record does not
// abort the rest of the output.
func FormatCreatedAt(value string) string {
	parsed, ok := ParseCreatedAt(value)
	if !ok {
		return "Invalid date"
	}
	return parsed.Format("Jan 2, 2006 3:04 PM")
}
