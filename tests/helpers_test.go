package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Mordig101/apqp-history/internal/backend"
	"github.com/Mordig101/apqp-history/internal/export"
	"github.com/Mordig101/apqp-history/internal/history"
	"github.com/Mordig101/apqp-history/internal/middleware"
	"github.com/Mordig101/apqp-history/internal/repository"
)

// fixture wires the full service stack against an in-process fake backend,
// mirroring the wiring in cmd/server.
type fixture struct {
	backend *httptest.Server
	app     *httptest.Server
}

// fakeBackendPayload is the nested history tree the fake backend serves for
// every test: one project with PPAP, phase, document, team and user branches.
func fakeBackendPayload() map[string]any {
	return map[string]any{
		"total":     2,
		"page":      1,
		"page_size": 10,
		"pages":     1,
		"results": map[string]any{
			"1": map[string]any{
				"project_name": "Gearbox Housing",
				"history": map[string]any{
					"project": []map[string]any{
						{
							"id":         "PRJ1",
							"created_at": "2023-05-01T10:30:00Z",
							"created_by": "alice",
							"events": []map[string]any{
								{"type": "create", "details": "project created"},
								{"type": "update", "details": "description changed"},
							},
						},
					},
					"ppap": map[string]any{
						"history": []map[string]any{
							{
								"id":         "PP1",
								"created_at": "2023-05-02T09:00:00Z",
								"created_by": "bob",
								"events": []map[string]any{
									{"type": "approve", "details": "level set to 3"},
								},
							},
						},
						"phases": map[string]any{
							"10": map[string]any{
								"name": "Risk Analysis",
								"history": []map[string]any{
									{
										"id":         "PH1",
										"created_at": "2023-05-03T11:00:00Z",
										"created_by": "alice",
										"events": []map[string]any{
											{"type": "update", "details": "risk review scheduled"},
										},
									},
								},
							},
						},
					},
				},
			},
			"2": map[string]any{
				"project_name": "Brake Caliper",
				"history": map[string]any{
					"project": []map[string]any{
						{
							"id":         "PRJ2",
							"created_at": "2023-04-20T08:00:00Z",
							"created_by": "carol",
							"event":      "legacy import",
						},
					},
				},
			},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backendMux := http.NewServeMux()
	backendMux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/history/" {
			_ = json.NewEncoder(w).Encode(fakeBackendPayload())
			return
		}
		// Table-scoped feed, e.g. /history/phase/
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":         "PH1",
				"title":      "Risk Analysis",
				"created_at": "2023-05-03T11:00:00Z",
				"created_by": "alice",
				"table_name": "phase",
			},
		})
	})
	backendServer := httptest.NewServer(backendMux)

	client := backend.NewClient(backendServer.URL)
	historyService := history.NewService(client, history.WithPageSize(10))
	jobRepo := repository.NewExportJobRepository()
	exportService := export.NewService(historyService, jobRepo,
		export.WithExportDirectory(t.TempDir()),
		export.WithJobTimeout(30*time.Second),
	)

	wrap := func(h http.Handler) http.Handler {
		return middleware.LoggingMiddleware(middleware.RequestIDMiddleware(h))
	}
	mux := http.NewServeMux()
	mux.Handle("/history", wrap(history.NewHTTPHandler(historyService)))
	mux.Handle("/history/", wrap(history.NewHTTPHandler(historyService)))
	mux.Handle("/exports", wrap(export.NewHTTPHandler(exportService)))
	mux.Handle("/exports/", wrap(export.NewHTTPHandler(exportService)))
	appServer := httptest.NewServer(mux)

	f := &fixture{backend: backendServer, app: appServer}
	t.Cleanup(f.close)
	return f
}

func (f *fixture) close() {
	f.app.Close()
	f.backend.Close()
}

func (f *fixture) getJSON(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(f.app.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("parse response for %s: %v\nRaw: %s", path, err, body)
		}
	}
	return resp
}

func (f *fixture) postJSON(t *testing.T, path string, payload, out any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(f.app.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("parse response for %s: %v\nRaw: %s", path, err, raw)
		}
	}
	return resp
}

// waitForExport polls the job endpoint until the export leaves its queue.
func (f *fixture) waitForExport(t *testing.T, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var job map[string]any
		f.getJSON(t, fmt.Sprintf("/exports/%s", jobID), &job)
		switch job["status"] {
		case "COMPLETED", "FAILED", "CANCELLED":
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("export job %s did not finish in time", jobID)
	return nil
}
