package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/safesite-data/ppewatch/internal/alert"
	"github.com/safesite-data/ppewatch/internal/compliance"
	"github.com/safesite-data/ppewatch/internal/detect"
	"github.com/safesite-data/ppewatch/internal/monitoring"
	"github.com/safesite-data/ppewatch/internal/session"
	"github.com/safesite-data/ppewatch/internal/timeutil"
	"github.com/safesite-data/ppewatch/internal/track"
)

// ErrNoActiveSession is returned by ProcessFrame and StopSession when no
// monitoring session is running.
var ErrNoActiveSession = errors.New("no active monitoring session")

// ErrSessionActive is returned by StartSession when a session is already
// running; it must be stopped first so its counters get flushed.
var ErrSessionActive = errors.New("a monitoring session is already active")

// Store is the persistence surface the pipeline writes through.
// Satisfied by *db.DB.
type Store interface {
	RecordViolation(zoneName, sessionID string, personID int64, violationType string, confidence float64, imagePath string) (int64, error)
	RecordDetection(zoneName, sessionID string, personID int64, compliant bool, status compliance.PPEStatus) (int64, error)
	UpsertDailyStats(date, zoneName string, detections, violations int64) error
}

// Alerter dispatches violation alerts. Satisfied by *alert.Orchestrator.
type Alerter interface {
	Trigger(channel, message string, image []byte) bool
}

// Frame is one detector output: the detections plus an optional JPEG of
// the frame for violation snapshots.
type Frame struct {
	Detections []detect.Detection `json:"detections"`
	Image      []byte             `json:"image,omitempty"`
}

// PersonResult is the per-person outcome of one processed frame.
type PersonResult struct {
	PersonID  int64  `json:"person_id"`
	Violation bool   `json:"violation"`
	Reason    string `json:"reason,omitempty"`
	First     bool   `json:"first_sighting"`
}

// FrameResult summarizes one processed frame.
type FrameResult struct {
	Persons  []PersonResult   `json:"persons"`
	Dropped  int              `json:"dropped_detections"`
	Counters session.Counters `json:"session_counters"`
}

// SessionStatus is the API-visible snapshot of the runtime.
type SessionStatus struct {
	Active          bool             `json:"active"`
	SessionID       string           `json:"session_id,omitempty"`
	StartedAt       time.Time        `json:"started_at,omitzero"`
	Zone            string           `json:"zone"`
	Counters        session.Counters `json:"counters"`
	ActiveTracks    int              `json:"active_tracks"`
	FramesProcessed int64            `json:"frames_processed"`
}

// SessionReport is returned when a session is stopped.
type SessionReport struct {
	SessionID string           `json:"session_id"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Counters  session.Counters `json:"counters"`
}

// Options configures a Runtime.
type Options struct {
	Zone                string
	ConfidenceThreshold float64
	Policy              compliance.Policy
	Tracker             track.Config
	Store               Store
	Alerts              Alerter
	Images              *ImageStore
	Clock               timeutil.Clock // defaults to timeutil.RealClock
}

// Runtime owns the per-zone processing state: evaluator, tracker,
// session ledger and the alert/persistence hookups. One goroutine may
// call ProcessFrame at a time; the mutex only guards against concurrent
// API reads of the status snapshot.
type Runtime struct {
	mu sync.Mutex

	zone       string
	confidence float64
	evaluator  *compliance.Evaluator
	tracker    *track.Tracker
	ledger     *session.Ledger
	store      Store
	alerts     Alerter
	images     *ImageStore
	clock      timeutil.Clock

	framesProcessed int64
}

// NewRuntime validates the policy and wires up a Runtime.
func NewRuntime(opts Options) (*Runtime, error) {
	evaluator, err := compliance.NewEvaluator(opts.Policy)
	if err != nil {
		return nil, fmt.Errorf("invalid compliance policy: %w", err)
	}
	if opts.ConfidenceThreshold < 0 || opts.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold %v out of range [0,1]", opts.ConfidenceThreshold)
	}
	if opts.Store == nil {
		return nil, errors.New("a persistence store is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runtime{
		zone:       opts.Zone,
		confidence: opts.ConfidenceThreshold,
		evaluator:  evaluator,
		tracker:    track.NewTracker(opts.Tracker),
		ledger:     session.NewLedger(),
		store:      opts.Store,
		alerts:     opts.Alerts,
		images:     opts.Images,
		clock:      clock,
	}, nil
}

// StartSession begins a monitoring session: fresh session ID, fresh
// tracker identities, zeroed counters.
func (r *Runtime) StartSession() (SessionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ledger.Active() {
		return SessionStatus{}, ErrSessionActive
	}

	r.tracker.Reset()
	r.ledger.Start(r.clock.Now())
	r.framesProcessed = 0
	monitoring.Logf("pipeline: session %s started in zone %s", r.ledger.ID(), r.zone)
	return r.statusLocked(), nil
}

// StopSession ends the active session and flushes its counters into the
// daily rollup. Sessions that observed nobody leave no rollup row.
func (r *Runtime) StopSession() (SessionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ledger.Active() {
		return SessionReport{}, ErrNoActiveSession
	}

	report := SessionReport{
		SessionID: r.ledger.ID(),
		StartedAt: r.ledger.StartedAt(),
		EndedAt:   r.clock.Now(),
	}
	report.Counters = r.ledger.End()

	if report.Counters.Total > 0 {
		date := report.EndedAt.Format("2006-01-02")
		if err := r.store.UpsertDailyStats(date, r.zone, int64(report.Counters.Total), int64(report.Counters.Violations)); err != nil {
			monitoring.Logf("pipeline: failed to flush daily stats for session %s: %v", report.SessionID, err)
		}
	}

	monitoring.Logf("pipeline: session %s ended: %d observed, %d violations",
		report.SessionID, report.Counters.Total, report.Counters.Violations)
	return report, nil
}

// Status returns the API-visible snapshot.
func (r *Runtime) Status() SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Runtime) statusLocked() SessionStatus {
	status := SessionStatus{
		Active:          r.ledger.Active(),
		Zone:            r.zone,
		Counters:        r.ledger.Counters(),
		ActiveTracks:    r.tracker.ActiveCount(),
		FramesProcessed: r.framesProcessed,
	}
	if status.Active {
		status.SessionID = r.ledger.ID()
		status.StartedAt = r.ledger.StartedAt()
	}
	return status
}

// ProcessFrame runs one frame through the full pipeline: filter,
// evaluate, track, count, persist, alert. Persistence and alert
// failures are logged but never fail the frame.
func (r *Runtime) ProcessFrame(frame Frame) (FrameResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ledger.Active() {
		return FrameResult{}, ErrNoActiveSession
	}

	kept, dropped := detect.FilterValid(frame.Detections)
	confident := kept[:0]
	for _, d := range kept {
		if d.Confidence >= r.confidence {
			confident = append(confident, d)
		} else {
			dropped++
		}
	}

	results := r.evaluator.Evaluate(confident)
	boxes := make([]detect.BBox, len(results))
	for i := range results {
		boxes[i] = results[i].Box
	}
	ids := r.tracker.Update(boxes)

	out := FrameResult{Dropped: dropped, Persons: make([]PersonResult, 0, len(results))}
	for i, res := range results {
		id := ids[i]
		obs := r.ledger.Observe(id, res.Violation)
		out.Persons = append(out.Persons, PersonResult{
			PersonID:  id,
			Violation: res.Violation,
			Reason:    res.Reason,
			First:     obs.First,
		})
		if obs.First {
			r.tracker.MarkLogged(id)
			r.logObservation(id, res, frame.Image)
		}
	}

	r.framesProcessed++
	out.Counters = r.ledger.Counters()
	return out, nil
}

// logObservation persists a first sighting and, for violations, saves
// the snapshot and fires the alert channels.
func (r *Runtime) logObservation(id int64, res compliance.Result, image []byte) {
	sessionID := r.ledger.ID()
	if _, err := r.store.RecordDetection(r.zone, sessionID, id, !res.Violation, res.Status); err != nil {
		monitoring.Logf("pipeline: failed to record detection for person %d: %v", id, err)
	}
	if !res.Violation {
		return
	}

	imagePath := ""
	if r.images != nil && len(image) > 0 {
		path, err := r.images.Save(r.zone, id, image, r.clock.Now())
		if err != nil {
			monitoring.Logf("pipeline: failed to save violation snapshot for person %d: %v", id, err)
		} else {
			imagePath = path
		}
	}

	if _, err := r.store.RecordViolation(r.zone, sessionID, id, res.Reason, res.Confidence, imagePath); err != nil {
		monitoring.Logf("pipeline: failed to record violation for person %d: %v", id, err)
	}

	if r.alerts != nil {
		message := fmt.Sprintf("PPE violation in %s: %s (person %d)", r.zone, res.Reason, id)
		r.alerts.Trigger(alert.ChannelAudio, message, nil)
		r.alerts.Trigger(alert.ChannelEmail, message, image)
		r.alerts.Trigger(alert.ChannelTelegram, message, image)
	}
}
