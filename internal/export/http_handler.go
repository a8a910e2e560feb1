package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Mordig101/apqp-history/internal/domain"
	"github.com/Mordig101/apqp-history/internal/repository"
)

// Handler exposes export jobs over HTTP.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the export service with its REST endpoints.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/files/"):
		h.handleDownload(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel"):
		h.handleCancel(w, r)
	case r.Method == http.MethodPost:
		h.handleQueue(w, r)
	case r.Method == http.MethodGet:
		if id, ok := trailingJobID(r.URL.Path); ok {
			h.handleGetJob(w, r, id)
			return
		}
		h.handleListJobs(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type queuePayload struct {
	Format     string `json:"format"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	Search     string `json:"search"`
	Table      string `json:"table"`
	User       string `json:"user"`
	EventType  string `json:"event_type"`
	DateBucket string `json:"date_bucket"`
}

// jobResponse decorates job metadata with a signed download link once the
// file is ready.
type jobResponse struct {
	domain.ExportJob
	DownloadURL *string `json:"download_url,omitempty"`
}

func (h *Handler) jobResponse(job domain.ExportJob) (jobResponse, error) {
	download, err := h.service.BuildDownloadURL(job)
	if err != nil {
		return jobResponse{}, err
	}
	return jobResponse{ExportJob: job, DownloadURL: download}, nil
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload queuePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	format := domain.ExportFormat(strings.ToUpper(strings.TrimSpace(payload.Format)))
	if format == "" {
		format = domain.ExportFormatCSV
	}
	req := Request{
		Format:   format,
		Page:     payload.Page,
		PageSize: payload.PageSize,
		Criteria: domain.HistoryFilter{
			Search:     payload.Search,
			Table:      payload.Table,
			User:       payload.User,
			EventType:  payload.EventType,
			DateBucket: domain.ParseDateBucket(payload.DateBucket),
		},
	}
	job, err := h.service.Queue(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	statuses := parseStatuses(query["status"])
	limit := 20
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be zero or positive", http.StatusBadRequest)
			return
		}
		offset = parsed
	}
	jobs, err := h.service.ListJobs(r.Context(), statuses, limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list jobs: %v", err), http.StatusInternalServerError)
		return
	}
	responses := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		response, err := h.jobResponse(job)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		responses = append(responses, response)
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrExportJobNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	response, err := h.jobResponse(job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/cancel")
	id, ok := trailingJobID(path)
	if !ok {
		http.Error(w, "missing export identifier", http.StatusBadRequest)
		return
	}
	job, err := h.service.CancelJob(r.Context(), id)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, repository.ErrExportJobNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := trailingJobID(r.URL.Path)
	if !ok {
		http.Error(w, "missing export identifier", http.StatusBadRequest)
		return
	}
	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("job not found: %v", err), http.StatusNotFound)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if err := h.service.ValidateDownloadToken(id, token); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	file, err := h.service.OpenJobFile(job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer file.Close()

	filename := ""
	if job.FileName != nil {
		filename = strings.TrimSpace(*job.FileName)
	}
	if filename == "" {
		filename = filepath.Base(strings.TrimSpace(*job.FilePath))
	}
	contentType := "application/octet-stream"
	if job.FileMimeType != nil && strings.TrimSpace(*job.FileMimeType) != "" {
		contentType = *job.FileMimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if job.FileByteSize != nil && *job.FileByteSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(*job.FileByteSize, 10))
	}
	http.ServeContent(w, r, filename, job.UpdatedAt, file)
}

// trailingJobID parses the last path segment as a job UUID.
func trailingJobID(path string) (uuid.UUID, bool) {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx == -1 || idx == len(path)-1 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(path[idx+1:])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func parseStatuses(values []string) []domain.ExportJobStatus {
	if len(values) == 0 {
		return nil
	}
	result := make([]domain.ExportJobStatus, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			switch domain.ExportJobStatus(trimmed) {
			case domain.ExportJobStatusPending,
				domain.ExportJobStatusRunning,
				domain.ExportJobStatusCompleted,
				domain.ExportJobStatusFailed,
				domain.ExportJobStatusCancelled:
				result = append(result, domain.ExportJobStatus(trimmed))
			}
		}
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
