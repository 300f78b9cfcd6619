package db

import (
	"fmt"

	"github.com/safesite-data/ppewatch/internal/compliance"
)

// Violation is one persisted violation event: a tracked person seen
// without the required PPE, logged once per session.
type Violation struct {
	ID            int64   `json:"id"`
	Timestamp     string  `json:"timestamp"`
	ZoneName      string  `json:"zone_name"`
	SessionID     string  `json:"session_id"`
	PersonID      int64   `json:"person_id"`
	ViolationType string  `json:"violation_type"`
	Confidence    float64 `json:"confidence"`
	ImagePath     string  `json:"image_path,omitempty"`
}

// Detection is one persisted per-person observation, compliant or not,
// with the equipment flags observed at first sighting.
type Detection struct {
	ID        int64                `json:"id"`
	Timestamp string               `json:"timestamp"`
	ZoneName  string               `json:"zone_name"`
	SessionID string               `json:"session_id"`
	PersonID  int64                `json:"person_id"`
	Compliant bool                 `json:"compliant"`
	Status    compliance.PPEStatus `json:"ppe_status"`
}

// DailyStats is the per-day, per-zone rollup row.
type DailyStats struct {
	Date            string  `json:"date"`
	ZoneName        string  `json:"zone_name"`
	TotalDetections int64   `json:"total_detections"`
	TotalViolations int64   `json:"total_violations"`
	ComplianceRate  float64 `json:"compliance_rate"`
}

func (v *Violation) String() string {
	return fmt.Sprintf("violation %d: person %d %s in %s", v.ID, v.PersonID, v.ViolationType, v.ZoneName)
}

// RecordViolation inserts a violation row and returns its id.
func (db *DB) RecordViolation(zoneName, sessionID string, personID int64, violationType string, confidence float64, imagePath string) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO violations (zone_name, session_id, person_id, violation_type, confidence, image_path)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		zoneName, sessionID, personID, violationType, confidence, imagePath,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record violation: %w", err)
	}
	return res.LastInsertId()
}

// RecordDetection inserts a detection row and returns its id.
func (db *DB) RecordDetection(zoneName, sessionID string, personID int64, compliant bool, status compliance.PPEStatus) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO detections (zone_name, session_id, person_id, compliant,
		                         has_helmet, has_vest, has_gloves, has_boots, has_goggles)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		zoneName, sessionID, personID, compliant,
		status.Helmet, status.Vest, status.Gloves, status.Boots, status.Goggles,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record detection: %w", err)
	}
	return res.LastInsertId()
}

// UpsertDailyStats replaces the rollup row for (date, zone) wholesale
// with the given counters. Retrying the same flush is a no-op; a later
// flush for the same day simply wins.
func (db *DB) UpsertDailyStats(date, zoneName string, detections, violations int64) error {
	var rate float64
	if detections > 0 {
		rate = float64(detections-violations) / float64(detections) * 100
	}

	_, err := db.Exec(
		`INSERT OR REPLACE INTO daily_stats (date, zone_name, total_detections, total_violations, compliance_rate)
		 VALUES (?, ?, ?, ?, ?)`,
		date, zoneName, detections, violations, rate,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily stats: %w", err)
	}
	return nil
}
