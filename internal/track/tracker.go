// Package track assigns stable numeric identities to person bounding boxes
// across frames using centroid proximity. Identities exist to deduplicate
// counting and logging, not to re-identify people with frame accuracy, so a
// greedy nearest-centroid match is used instead of optimal assignment.
package track

import (
	"math"
	"sort"

	"github.com/safesite-data/ppewatch/internal/detect"
)

// Config holds the tracker parameters. Immutable once constructed.
type Config struct {
	// MaxDistance is the centroid distance (pixels) above which an input
	// box cannot match an existing track.
	MaxDistance float64
	// MemoryFrames is how many consecutive missed frames a track survives
	// before it is removed.
	MemoryFrames int
}

// Track is one identity hypothesis: a person believed to persist across
// consecutive frames.
type Track struct {
	ID     int64
	CX, CY float64 // last matched centroid
	Misses int     // consecutive frames without a match
	Logged bool    // set once the identity has been counted this session
}

// Tracker owns all live tracks. It is mutated exclusively by the frame loop
// and is not safe for concurrent use; callers needing a view of live tracks
// take a Snapshot on the loop thread.
type Tracker struct {
	cfg    Config
	nextID int64
	tracks map[int64]*Track
}

// NewTracker creates a tracker with identity numbering starting at 1.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:    cfg,
		nextID: 1,
		tracks: make(map[int64]*Track),
	}
}

// Reset clears all tracks and restarts identity numbering from 1. Invoked
// at session start so per-session identities stay small and predictable.
func (t *Tracker) Reset() {
	t.tracks = make(map[int64]*Track)
	t.nextID = 1
}

// Update matches the frame's person boxes against live tracks and returns
// one identity per input box, in input order. Unmatched boxes register new
// tracks; unmatched tracks age and eventually expire. An expired identity
// is never reused: a person reappearing after the memory window gets a
// fresh identity.
func (t *Tracker) Update(boxes []detect.BBox) []int64 {
	if len(boxes) == 0 {
		t.ageAll()
		return nil
	}

	ids := make([]int64, 0, len(boxes))

	if len(t.tracks) == 0 {
		for _, b := range boxes {
			cx, cy := b.Centroid()
			ids = append(ids, t.register(cx, cy))
		}
		return ids
	}

	// Candidate tracks in ascending-ID order so ties resolve to the oldest
	// track regardless of map iteration order.
	candidates := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		candidates = append(candidates, id)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	used := make(map[int64]bool, len(candidates))
	for _, b := range boxes {
		cx, cy := b.Centroid()

		best := int64(-1)
		bestDist := t.cfg.MaxDistance
		for _, id := range candidates {
			if used[id] {
				continue
			}
			tr := t.tracks[id]
			if d := dist(cx, cy, tr.CX, tr.CY); d < bestDist {
				bestDist = d
				best = id
			}
		}

		if best >= 0 {
			tr := t.tracks[best]
			tr.CX, tr.CY = cx, cy
			tr.Misses = 0
			used[best] = true
			ids = append(ids, best)
		} else {
			ids = append(ids, t.register(cx, cy))
		}
	}

	// Age every pre-existing track that went unmatched this frame.
	for _, id := range candidates {
		if used[id] {
			continue
		}
		t.age(id)
	}
	return ids
}

// MarkLogged flags the identity as already counted this session.
func (t *Tracker) MarkLogged(id int64) {
	if tr, ok := t.tracks[id]; ok {
		tr.Logged = true
	}
}

// IsLogged reports whether the identity has been counted this session.
// Unknown (expired) identities report false.
func (t *Tracker) IsLogged(id int64) bool {
	if tr, ok := t.tracks[id]; ok {
		return tr.Logged
	}
	return false
}

// ActiveCount returns the number of live tracks.
func (t *Tracker) ActiveCount() int {
	return len(t.tracks)
}

// Snapshot returns copies of all live tracks in ascending-ID order, safe to
// hand to display or API code.
func (t *Tracker) Snapshot() []Track {
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Tracker) register(cx, cy float64) int64 {
	id := t.nextID
	t.nextID++
	t.tracks[id] = &Track{ID: id, CX: cx, CY: cy}
	return id
}

func (t *Tracker) age(id int64) {
	tr := t.tracks[id]
	tr.Misses++
	if tr.Misses > t.cfg.MemoryFrames {
		delete(t.tracks, id)
	}
}

func (t *Tracker) ageAll() {
	for id := range t.tracks {
		t.age(id)
	}
}

func dist(x1, y1, x2, y2 float64) float64 {
	dx := x1 - x2
	dy := y1 - y2
	return math.Sqrt(dx*dx + dy*dy)
}
