// Package session scopes counting and logging to one detection session: the
// interval between starting and stopping detection. The ledger guarantees
// each tracked identity is counted exactly once per session no matter how
// many frames it stays visible.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Counters are the running per-session tallies.
type Counters struct {
	Total      int `json:"total_people"`
	Compliant  int `json:"compliant"`
	Violations int `json:"violations"`
}

// ComplianceRate returns the compliant share as a percentage, 0 when the
// session saw nobody.
func (c Counters) ComplianceRate() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Compliant) / float64(c.Total) * 100
}

// Observation is the ledger's verdict for one (identity, frame) pair.
type Observation struct {
	First    bool // identity seen for the first time this session
	Counters Counters
}

// Ledger deduplicates per-identity counting within one session. Owned and
// mutated only by the frame loop.
type Ledger struct {
	id       string
	started  time.Time
	active   bool
	logged   map[int64]bool
	counters Counters
}

// NewLedger returns an inactive ledger; Start begins the first session.
func NewLedger() *Ledger {
	return &Ledger{logged: make(map[int64]bool)}
}

// Start begins a new session: fresh session ID, zeroed counters, empty
// logged-identity set.
func (l *Ledger) Start(now time.Time) {
	l.id = uuid.NewString()
	l.started = now
	l.active = true
	l.logged = make(map[int64]bool)
	l.counters = Counters{}
}

// End closes the session and returns the final counters for aggregate
// persistence. Ending an inactive ledger returns the last counters.
func (l *Ledger) End() Counters {
	l.active = false
	return l.counters
}

// Active reports whether a session is running.
func (l *Ledger) Active() bool { return l.active }

// ID returns the current session identifier, empty before the first Start.
func (l *Ledger) ID() string { return l.id }

// StartedAt returns when the current session began.
func (l *Ledger) StartedAt() time.Time { return l.started }

// Counters returns the current tallies.
func (l *Ledger) Counters() Counters { return l.counters }

// Observe records one sighting of an identity. The first sighting per
// session increments total and exactly one of compliant/violations and
// reports First=true so the caller persists and alerts exactly once.
// Repeat sightings are counting no-ops, still usable for live display.
func (l *Ledger) Observe(id int64, violation bool) Observation {
	if !l.active || l.logged[id] {
		return Observation{First: false, Counters: l.counters}
	}
	l.logged[id] = true
	l.counters.Total++
	if violation {
		l.counters.Violations++
	} else {
		l.counters.Compliant++
	}
	return Observation{First: true, Counters: l.counters}
}
