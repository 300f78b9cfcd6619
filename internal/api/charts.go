package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/safesite-data/ppewatch/internal/httputil"
)

// handleComplianceChart renders the daily compliance trend as a
// self-contained HTML page. This is a quick operator view; dashboards
// wanting raw numbers use /api/reports/daily instead.
// Query params: from, to (YYYY-MM-DD, default trailing 30 days).
func (s *Server) handleComplianceChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	from, to, err := s.dateRange(r, 30)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	daily, err := s.db.DailyStatsRange(from, to)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Range queries return newest first; the X axis wants oldest first.
	dates := make([]string, 0, len(daily))
	rates := make([]opts.LineData, 0, len(daily))
	violations := make([]opts.BarData, 0, len(daily))
	for i := len(daily) - 1; i >= 0; i-- {
		d := daily[i]
		dates = append(dates, d.Date)
		rates = append(rates, opts.LineData{Value: d.ComplianceRate})
		violations = append(violations, opts.BarData{Value: d.TotalViolations})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "PPE Compliance", Width: "1100px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Daily PPE Compliance",
			Subtitle: fmt.Sprintf("zone=%s from=%s to=%s", s.zone, from, to),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 100, Name: "Compliance (%)"}),
	)
	line.SetXAxis(dates)
	line.AddSeries("compliance rate", rates)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1100px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Daily Violations"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(dates)
	bar.AddSeries("violations", violations)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	if err := bar.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
