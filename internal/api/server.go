package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/safesite-data/ppewatch/internal/db"
	"github.com/safesite-data/ppewatch/internal/httputil"
	"github.com/safesite-data/ppewatch/internal/pipeline"
	"github.com/safesite-data/ppewatch/internal/version"
)

// Server exposes the monitoring pipeline and the report queries over
// HTTP.
type Server struct {
	runtime *pipeline.Runtime
	db      *db.DB
	zone    string
	images  *pipeline.ImageStore
	now     func() time.Time
}

// NewServer wires the HTTP surface to a runtime and its database.
// images may be nil when snapshot storage is disabled.
func NewServer(runtime *pipeline.Runtime, database *db.DB, zone string, images *pipeline.ImageStore) *Server {
	return &Server{
		runtime: runtime,
		db:      database,
		zone:    zone,
		images:  images,
		now:     time.Now,
	}
}

// ServeMux returns the route table. Debug routes are attached by the
// caller so tests can skip them.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/api/session/start", s.handleSessionStart)
	mux.HandleFunc("/api/session/stop", s.handleSessionStop)
	mux.HandleFunc("/api/session", s.handleSessionStatus)
	mux.HandleFunc("/api/stats/today", s.handleStatsToday)
	mux.HandleFunc("/api/reports/daily", s.handleReportDaily)
	mux.HandleFunc("/api/reports/violations", s.handleReportViolations)
	mux.HandleFunc("/api/reports/breakdown", s.handleReportBreakdown)
	mux.HandleFunc("/api/reports/summary", s.handleReportSummary)
	mux.HandleFunc("/api/violations/image", s.handleViolationImage)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/charts/compliance", s.handleComplianceChart)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Welcome to the PPE Watch Server!"))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// handleFrames ingests one detector frame. Frames arriving outside a
// session are rejected with 409 so the detector can back off.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var frame pipeline.Frame
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&frame); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid frame payload: %v", err))
		return
	}

	result, err := s.runtime.ProcessFrame(frame)
	if errors.Is(err, pipeline.ErrNoActiveSession) {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	status, err := s.runtime.StartSession()
	if errors.Is(err, pipeline.ErrSessionActive) {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	report, err := s.runtime.StopSession()
	if errors.Is(err, pipeline.ErrNoActiveSession) {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.runtime.Status())
}

func (s *Server) handleStatsToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	today := s.now().Format("2006-01-02")
	stats, err := s.db.StatsForDate(today, s.zone)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		// No sessions yet today; report zeros rather than 404 so
		// dashboards render without special cases.
		stats = &db.DailyStats{Date: today, ZoneName: s.zone}
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// dateRange reads from/to query params, defaulting to the trailing
// window of days ending today.
func (s *Server) dateRange(r *http.Request, days int) (from, to string, err error) {
	now := s.now()
	to = now.Format("2006-01-02")
	from = now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	if v := r.URL.Query().Get("from"); v != "" {
		if _, perr := time.Parse("2006-01-02", v); perr != nil {
			return "", "", fmt.Errorf("invalid from date %q", v)
		}
		from = v
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if _, perr := time.Parse("2006-01-02", v); perr != nil {
			return "", "", fmt.Errorf("invalid to date %q", v)
		}
		to = v
	}
	return from, to, nil
}

func (s *Server) handleReportDaily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	from, to, err := s.dateRange(r, 7)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.db.DailyStatsRange(from, to)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		stats = []db.DailyStats{}
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReportViolations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var violations []db.Violation
	var err error
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		violations, err = s.db.ViolationsBySession(sessionID)
	} else {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < 1 || limit > 1000 {
				httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
				return
			}
		}
		violations, err = s.db.RecentViolations(limit)
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if violations == nil {
		violations = []db.Violation{}
	}
	httputil.WriteJSON(w, http.StatusOK, violations)
}

// handleViolationImage serves a stored snapshot. The path comes from a
// violation record; anything outside the snapshot root is rejected.
func (s *Server) handleViolationImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.images == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "snapshot storage is disabled")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	data, err := s.images.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		httputil.WriteJSONError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusForbidden, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

func (s *Server) handleReportBreakdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	from, to, err := s.dateRange(r, 30)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.db.ViolationTypeBreakdown(from, to)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if counts == nil {
		counts = []db.ViolationTypeCount{}
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}

func (s *Server) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	from, to, err := s.dateRange(r, 30)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.db.Summary(from, to)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}
