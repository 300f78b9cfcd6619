package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/safesite-data/ppewatch/internal/compliance"
	"github.com/safesite-data/ppewatch/internal/db"
	"github.com/safesite-data/ppewatch/internal/pipeline"
	"github.com/safesite-data/ppewatch/internal/track"
)

const testZone = "Gate A"

func setupTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}

	images := pipeline.NewImageStore(filepath.Join(t.TempDir(), "violations"))
	runtime, err := pipeline.NewRuntime(pipeline.Options{
		Zone:                testZone,
		ConfidenceThreshold: 0.25,
		Policy:              compliance.Policy{Mode: compliance.ModeAnyMissing, OverlapThreshold: 0.3},
		Tracker:             track.Config{MaxDistance: 50, MemoryFrames: 3},
		Store:               database,
		Images:              images,
	})
	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}

	server := NewServer(runtime, database, testZone, images)
	server.now = func() time.Time { return time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC) }
	return server, database
}

func cleanupTestServer(t *testing.T, database *db.DB) {
	t.Helper()

	if err := database.Close(); err != nil {
		t.Errorf("Failed to close test DB: %v", err)
	}
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// personFrame is a raw frame payload with one bare person (a violation
// under mode 1).
func personFrame() map[string]any {
	return map[string]any{
		"detections": []map[string]any{
			{
				"class":      "Person",
				"confidence": 0.9,
				"bbox":       map[string]float64{"x1": 0, "y1": 0, "x2": 100, "y2": 200},
			},
		},
	}
}

func TestFramesWithoutSessionConflict(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/frames", personFrame())
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 without a session, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	// Start.
	rec := doJSON(t, mux, http.MethodPost, "/api/session/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start failed: %d %s", rec.Code, rec.Body.String())
	}
	var status pipeline.SessionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if !status.Active || status.SessionID == "" {
		t.Errorf("Expected active session with id, got %+v", status)
	}

	// Double start conflicts.
	rec = doJSON(t, mux, http.MethodPost, "/api/session/start", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 on double start, got %d", rec.Code)
	}

	// Frame now accepted.
	rec = doJSON(t, mux, http.MethodPost, "/api/frames", personFrame())
	if rec.Code != http.StatusOK {
		t.Fatalf("frame failed: %d %s", rec.Code, rec.Body.String())
	}
	var result pipeline.FrameResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode frame result: %v", err)
	}
	if len(result.Persons) != 1 || !result.Persons[0].Violation {
		t.Errorf("Expected one violating person, got %+v", result)
	}

	// Status reflects the counters.
	rec = doJSON(t, mux, http.MethodGet, "/api/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status failed: %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.Counters.Total != 1 || status.Counters.Violations != 1 {
		t.Errorf("Unexpected counters: %+v", status.Counters)
	}

	// Stop returns the report and flushes the rollup.
	rec = doJSON(t, mux, http.MethodPost, "/api/session/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop failed: %d %s", rec.Code, rec.Body.String())
	}
	var report pipeline.SessionReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Counters.Total != 1 {
		t.Errorf("Expected 1 total in report, got %+v", report.Counters)
	}

	// Second stop conflicts.
	rec = doJSON(t, mux, http.MethodPost, "/api/session/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 on double stop, got %d", rec.Code)
	}
}

func TestFramesRejectsMalformedPayload(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	doJSON(t, mux, http.MethodPost, "/api/session/start", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/frames", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed payload, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	cases := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/frames"},
		{http.MethodGet, "/api/session/start"},
		{http.MethodGet, "/api/session/stop"},
		{http.MethodPost, "/api/session"},
		{http.MethodPost, "/api/stats/today"},
		{http.MethodPost, "/api/reports/daily"},
	}
	for _, tc := range cases {
		rec := doJSON(t, mux, tc.method, tc.path, nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestStatsTodayEmpty(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodGet, "/api/stats/today", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats failed: %d", rec.Code)
	}
	var stats db.DailyStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.Date != "2026-08-27" || stats.ZoneName != testZone || stats.TotalDetections != 0 {
		t.Errorf("Expected zeroed today stats, got %+v", stats)
	}
}

func TestStatsTodayAfterSession(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	if err := dbInst.UpsertDailyStats("2026-08-27", testZone, 10, 2); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/stats/today", nil)
	var stats db.DailyStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.TotalDetections != 10 || stats.TotalViolations != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestReportDailyRange(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	for _, day := range []string{"2026-08-25", "2026-08-26", "2026-08-27"} {
		if err := dbInst.UpsertDailyStats(day, testZone, 10, 1); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/reports/daily?from=2026-08-26&to=2026-08-27", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report failed: %d", rec.Code)
	}
	var stats []db.DailyStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if len(stats) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(stats))
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/reports/daily?from=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad date, got %d", rec.Code)
	}
}

func TestReportViolations(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	if _, err := dbInst.RecordViolation(testZone, "sess-1", 1, "no_helmet", 0.9, ""); err != nil {
		t.Fatalf("RecordViolation failed: %v", err)
	}
	if _, err := dbInst.RecordViolation(testZone, "sess-2", 2, "no_gloves", 0.9, ""); err != nil {
		t.Fatalf("RecordViolation failed: %v", err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/reports/violations", nil)
	var violations []db.Violation
	if err := json.Unmarshal(rec.Body.Bytes(), &violations); err != nil {
		t.Fatalf("Failed to decode violations: %v", err)
	}
	if len(violations) != 2 {
		t.Errorf("Expected 2 violations, got %d", len(violations))
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/reports/violations?session_id=sess-1", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &violations); err != nil {
		t.Fatalf("Failed to decode violations: %v", err)
	}
	if len(violations) != 1 || violations[0].PersonID != 1 {
		t.Errorf("Unexpected session filter result: %+v", violations)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/reports/violations?limit=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid limit, got %d", rec.Code)
	}
}

func TestReportBreakdownAndSummary(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	if _, err := dbInst.RecordViolation(testZone, "s", 1, "no_helmet", 0.9, ""); err != nil {
		t.Fatalf("RecordViolation failed: %v", err)
	}
	if err := dbInst.UpsertDailyStats("2026-08-27", testZone, 10, 1); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/reports/breakdown", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("breakdown failed: %d", rec.Code)
	}
	var counts []db.ViolationTypeCount
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("Failed to decode breakdown: %v", err)
	}
	if len(counts) != 1 || counts[0].Count != 1 {
		t.Errorf("Unexpected breakdown: %+v", counts)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/reports/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary failed: %d", rec.Code)
	}
	var summary db.ComplianceSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if summary.Days != 1 || summary.TotalDetections != 10 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestVersionEndpoint(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodGet, "/api/version", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("version failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode version: %v", err)
	}
	if body["version"] == "" {
		t.Errorf("Expected a version string, got %+v", body)
	}
}

func TestViolationImageServed(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	path, err := server.images.Save(testZone, 4, []byte{0xff, 0xd8, 0xff}, time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/violations/image?path="+url.QueryEscape(path), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("image fetch failed: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte{0xff, 0xd8, 0xff}) {
		t.Errorf("Unexpected image body: %v", rec.Body.Bytes())
	}
}

func TestViolationImageRejectsEscape(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	outside := filepath.Join(server.images.Root, "..", "secret.jpg")
	rec := doJSON(t, mux, http.MethodGet, "/api/violations/image?path="+url.QueryEscape(outside), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for escaping path, got %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/violations/image", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing path, got %d", rec.Code)
	}

	missing := filepath.Join(server.images.Root, "2026-08-27", "nope.jpg")
	rec = doJSON(t, mux, http.MethodGet, "/api/violations/image?path="+url.QueryEscape(missing), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing snapshot, got %d", rec.Code)
	}
}

func TestComplianceChartRenders(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)
	mux := server.ServeMux()

	if err := dbInst.UpsertDailyStats("2026-08-27", testZone, 10, 1); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/charts/compliance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("chart failed: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML content type, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "echarts") {
		t.Error("Expected rendered chart markup in response")
	}
}
