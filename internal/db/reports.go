package db

import (
	"database/sql"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ViolationTypeCount is one row of the PPE breakdown report.
type ViolationTypeCount struct {
	ViolationType string `json:"violation_type"`
	Count         int64  `json:"count"`
}

// ComplianceSummary aggregates the daily rollups over a date range.
type ComplianceSummary struct {
	From            string  `json:"from"`
	To              string  `json:"to"`
	Days            int     `json:"days"`
	TotalDetections int64   `json:"total_detections"`
	TotalViolations int64   `json:"total_violations"`
	MeanRate        float64 `json:"mean_compliance_rate"`
	StdDevRate      float64 `json:"stddev_compliance_rate"`
	MinRate         float64 `json:"min_compliance_rate"`
	MaxRate         float64 `json:"max_compliance_rate"`
}

// StatsForDate returns the rollup row for one date and zone, or nil
// when no sessions ran that day.
func (db *DB) StatsForDate(date, zoneName string) (*DailyStats, error) {
	var s DailyStats
	err := db.QueryRow(
		`SELECT date, zone_name, total_detections, total_violations, compliance_rate
		 FROM daily_stats WHERE date = ? AND zone_name = ?`,
		date, zoneName,
	).Scan(&s.Date, &s.ZoneName, &s.TotalDetections, &s.TotalViolations, &s.ComplianceRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	return &s, nil
}

// DailyStatsRange returns rollup rows for dates in [from, to],
// newest first.
func (db *DB) DailyStatsRange(from, to string) ([]DailyStats, error) {
	rows, err := db.Query(
		`SELECT date, zone_name, total_detections, total_violations, compliance_rate
		 FROM daily_stats WHERE date >= ? AND date <= ?
		 ORDER BY date DESC, zone_name`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats range: %w", err)
	}
	defer rows.Close()

	var stats []DailyStats
	for rows.Next() {
		var s DailyStats
		if err := rows.Scan(&s.Date, &s.ZoneName, &s.TotalDetections, &s.TotalViolations, &s.ComplianceRate); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// RecentViolations returns the newest violation rows, up to limit.
func (db *DB) RecentViolations(limit int) ([]Violation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT id, timestamp, zone_name, session_id, person_id, violation_type, confidence, COALESCE(image_path, '')
		 FROM violations ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var violations []Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.ID, &v.Timestamp, &v.ZoneName, &v.SessionID, &v.PersonID, &v.ViolationType, &v.Confidence, &v.ImagePath); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// ViolationsBySession returns all violations logged under one session.
func (db *DB) ViolationsBySession(sessionID string) ([]Violation, error) {
	rows, err := db.Query(
		`SELECT id, timestamp, zone_name, session_id, person_id, violation_type, confidence, COALESCE(image_path, '')
		 FROM violations WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session violations: %w", err)
	}
	defer rows.Close()

	var violations []Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.ID, &v.Timestamp, &v.ZoneName, &v.SessionID, &v.PersonID, &v.ViolationType, &v.Confidence, &v.ImagePath); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// ViolationTypeBreakdown counts violations grouped by type over the
// date range, most frequent first.
func (db *DB) ViolationTypeBreakdown(from, to string) ([]ViolationTypeCount, error) {
	rows, err := db.Query(
		`SELECT violation_type, COUNT(*) AS n
		 FROM violations WHERE date(timestamp) >= ? AND date(timestamp) <= ?
		 GROUP BY violation_type ORDER BY n DESC, violation_type`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query violation breakdown: %w", err)
	}
	defer rows.Close()

	var counts []ViolationTypeCount
	for rows.Next() {
		var c ViolationTypeCount
		if err := rows.Scan(&c.ViolationType, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Summary aggregates the daily rollups over [from, to]: totals plus
// mean, standard deviation and extremes of the daily compliance rate.
func (db *DB) Summary(from, to string) (*ComplianceSummary, error) {
	daily, err := db.DailyStatsRange(from, to)
	if err != nil {
		return nil, err
	}

	summary := &ComplianceSummary{From: from, To: to, Days: len(daily)}
	if len(daily) == 0 {
		return summary, nil
	}

	rates := make([]float64, 0, len(daily))
	summary.MinRate = daily[0].ComplianceRate
	summary.MaxRate = daily[0].ComplianceRate
	for _, d := range daily {
		summary.TotalDetections += d.TotalDetections
		summary.TotalViolations += d.TotalViolations
		rates = append(rates, d.ComplianceRate)
		if d.ComplianceRate < summary.MinRate {
			summary.MinRate = d.ComplianceRate
		}
		if d.ComplianceRate > summary.MaxRate {
			summary.MaxRate = d.ComplianceRate
		}
	}

	summary.MeanRate = stat.Mean(rates, nil)
	if len(rates) > 1 {
		summary.StdDevRate = stat.StdDev(rates, nil)
	}
	return summary, nil
}
