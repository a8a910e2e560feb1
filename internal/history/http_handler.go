package history

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mordig101/apqp-history/internal/domain"
)

// Handler exposes the history feed over HTTP.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the history service with its REST endpoints.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	table := strings.Trim(strings.TrimPrefix(r.URL.Path, "/history"), "/")
	if table == "" {
		h.handleList(w, r)
		return
	}
	h.handleTable(w, r, table)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 0
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "page must be a positive integer", http.StatusBadRequest)
			return
		}
		page = parsed
	}
	pageSize := 0
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "page_size must be a positive integer", http.StatusBadRequest)
			return
		}
		pageSize = parsed
	}

	// A failed fetch still renders: the result carries the error banner and
	// zero records, mirroring the dashboard's inline error display.
	_ = h.service.Sync(r.Context(), page, pageSize)

	criteria := domain.HistoryFilter{
		Search:     query.Get("search"),
		Table:      query.Get("table"),
		User:       query.Get("user"),
		EventType:  query.Get("event_type"),
		DateBucket: domain.ParseDateBucket(query.Get("date_bucket")),
	}
	writeJSON(w, http.StatusOK, h.service.Query(criteria))
}

var knownTables = map[domain.HistoryTable]struct{}{
	domain.HistoryTableProject:  {},
	domain.HistoryTablePPAP:     {},
	domain.HistoryTablePhase:    {},
	domain.HistoryTableOutput:   {},
	domain.HistoryTableDocument: {},
	domain.HistoryTableTeam:     {},
	domain.HistoryTablePerson:   {},
	domain.HistoryTableUser:     {},
}

func (h *Handler) handleTable(w http.ResponseWriter, r *http.Request, rawTable string) {
	table := domain.HistoryTable(strings.ToLower(rawTable))
	if _, ok := knownTables[table]; !ok {
		http.Error(w, fmt.Sprintf("unknown history table %q", rawTable), http.StatusNotFound)
		return
	}
	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if projectID == "" {
		http.Error(w, "project_id is required", http.StatusBadRequest)
		return
	}
	records, err := h.service.TableHistory(r.Context(), table, projectID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
