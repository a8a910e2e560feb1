package domain

// FilterAll is the sentinel a dropdown filter uses to bypass matching.
const FilterAll = "all"

// DateBucket restricts records to a relative time window.
type DateBucket string

const (
	DateBucketAll       DateBucket = "all"
	DateBucketToday     DateBucket = "today"
	DateBucketYesterday DateBucket = "yesterday"
	DateBucketLastWeek  DateBucket = "last_week"
	DateBucketLastMonth DateBucket = "last_month"
)

// ParseDateBucket maps a query value to a bucket, defaulting to all.
func ParseDateBucket(value string) DateBucket {
	switch DateBucket(value) {
	case DateBucketToday, DateBucketYesterday, DateBucketLastWeek, DateBucketLastMonth:
		return DateBucket(value)
	default:
		return DateBucketAll
	}
}

// HistoryFilter represents the conjunctive filter set applied to a loaded
// history page. Zero values and the "all" sentinel bypass their predicate.
type HistoryFilter struct {
	Search     string     `json:"search,omitempty"`
	Table      string     `json:"table,omitempty"`
	User       string     `json:"user,omitempty"`
	EventType  string     `json:"event_type,omitempty"`
	DateBucket DateBucket `json:"date_bucket,omitempty"`
}

// FilterOptions holds the dropdown values derived from the currently loaded
// (unfiltered) record set, each prefixed with the "all" sentinel.
type FilterOptions struct {
	Tables     []string `json:"tables"`
	Users      []string `json:"users"`
	EventTypes []string `json:"eventTypes"`
}
