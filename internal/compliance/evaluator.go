// Package compliance maps one frame of raw detections to per-person PPE
// compliance verdicts. Association between a person and an equipment
// detection is a one-way overlap test: intersection area over person box
// area above a configured threshold.
package compliance

import (
	"fmt"
	"strings"

	"github.com/safesite-data/ppewatch/internal/detect"
)

// Mode selects the violation policy.
type Mode int

const (
	// ModeAnyMissing flags a person when any proper PPE item is absent or
	// any explicit violation class is associated with them.
	ModeAnyMissing Mode = 1
	// ModeRequired evaluates only the configured required PPE subset.
	ModeRequired Mode = 2
)

// PPEStatus is the fixed-shape equipment record for one person. Using named
// fields instead of a map makes unknown or missing keys impossible.
type PPEStatus struct {
	Helmet  bool `json:"helmet"`
	Vest    bool `json:"vest"`
	Gloves  bool `json:"gloves"`
	Boots   bool `json:"boots"`
	Goggles bool `json:"goggles"`
}

// Has reports whether the named proper-PPE class is present.
func (s PPEStatus) Has(class string) bool {
	switch class {
	case detect.ClassHelmet:
		return s.Helmet
	case detect.ClassVest:
		return s.Vest
	case detect.ClassGloves:
		return s.Gloves
	case detect.ClassBoots:
		return s.Boots
	case detect.ClassGoggles:
		return s.Goggles
	}
	return false
}

func (s *PPEStatus) set(class string) {
	switch class {
	case detect.ClassHelmet:
		s.Helmet = true
	case detect.ClassVest:
		s.Vest = true
	case detect.ClassGloves:
		s.Gloves = true
	case detect.ClassBoots:
		s.Boots = true
	case detect.ClassGoggles:
		s.Goggles = true
	}
}

// Result is the per-person verdict for one frame. Recomputed every frame;
// nothing here outlives the frame that produced it.
type Result struct {
	Box        detect.BBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	Status     PPEStatus   `json:"ppe_status"`
	Violation  bool        `json:"violation"`
	Reason     string      `json:"reason,omitempty"`
}

// Policy holds the evaluator configuration. Immutable once constructed.
type Policy struct {
	Mode             Mode
	RequiredPPE      []string // proper-PPE classes evaluated in ModeRequired
	OverlapThreshold float64  // association threshold on person-relative overlap
}

// Evaluator turns raw frame detections into per-person verdicts.
type Evaluator struct {
	policy Policy
}

// NewEvaluator validates the policy and returns an Evaluator.
func NewEvaluator(policy Policy) (*Evaluator, error) {
	if policy.Mode != ModeAnyMissing && policy.Mode != ModeRequired {
		return nil, fmt.Errorf("unknown violation mode %d", policy.Mode)
	}
	if policy.OverlapThreshold <= 0 || policy.OverlapThreshold >= 1 {
		return nil, fmt.Errorf("overlap threshold %v out of range (0,1)", policy.OverlapThreshold)
	}
	if policy.Mode == ModeRequired {
		if len(policy.RequiredPPE) == 0 {
			return nil, fmt.Errorf("mode 2 requires a non-empty required PPE list")
		}
		for _, class := range policy.RequiredPPE {
			if !isProperPPE(class) {
				return nil, fmt.Errorf("required PPE %q is not a proper PPE class", class)
			}
		}
	}
	return &Evaluator{policy: policy}, nil
}

func isProperPPE(class string) bool {
	for _, c := range detect.ProperPPEClasses {
		if class == c {
			return true
		}
	}
	return false
}

// Evaluate returns one Result per person detection in the frame, in the
// order the persons appear in the input. Equipment shared between two
// overlapping persons is attributed to both; identities downstream only
// serve counting, so the double-count is accepted.
func (e *Evaluator) Evaluate(frame []detect.Detection) []Result {
	var persons []detect.Detection
	for _, d := range frame {
		if d.Class == detect.ClassPerson {
			persons = append(persons, d)
		}
	}

	results := make([]Result, 0, len(persons))
	for _, person := range persons {
		results = append(results, e.evaluatePerson(person, frame))
	}
	return results
}

func (e *Evaluator) evaluatePerson(person detect.Detection, frame []detect.Detection) Result {
	res := Result{Box: person.Box, Confidence: person.Confidence}

	for _, d := range frame {
		if !isProperPPE(d.Class) {
			continue
		}
		if person.Box.OverlapRatio(d.Box) > e.policy.OverlapThreshold {
			res.Status.set(d.Class)
		}
	}

	// First associated violation class wins, scanned in canonical class
	// order so the outcome does not depend on detector output ordering.
	violationClass := ""
	for _, class := range detect.ViolationClasses {
		for _, d := range frame {
			if d.Class != class {
				continue
			}
			if person.Box.OverlapRatio(d.Box) > e.policy.OverlapThreshold {
				violationClass = class
				break
			}
		}
		if violationClass != "" {
			break
		}
	}

	switch e.policy.Mode {
	case ModeAnyMissing:
		if violationClass != "" {
			res.Violation = true
			res.Reason = fmt.Sprintf("violation detected: %s", violationClass)
			return res
		}
		if missing := e.missingPPE(res.Status, detect.ProperPPEClasses); len(missing) > 0 {
			res.Violation = true
			res.Reason = fmt.Sprintf("missing PPE: %s", strings.Join(missing, ", "))
		}
	case ModeRequired:
		if violationClass != "" && e.violationCoversRequired(violationClass) {
			res.Violation = true
			res.Reason = fmt.Sprintf("required PPE violation: %s", violationClass)
			return res
		}
		if missing := e.missingPPE(res.Status, e.policy.RequiredPPE); len(missing) > 0 {
			res.Violation = true
			res.Reason = fmt.Sprintf("missing required PPE: %s", strings.Join(missing, ", "))
		}
	}
	return res
}

func (e *Evaluator) missingPPE(status PPEStatus, classes []string) []string {
	var missing []string
	for _, class := range classes {
		if !status.Has(class) {
			missing = append(missing, class)
		}
	}
	return missing
}

// violationCoversRequired reports whether an explicit violation class
// corresponds to one of the required PPE items (e.g. no_helmet when helmet
// is required).
func (e *Evaluator) violationCoversRequired(violationClass string) bool {
	for _, req := range e.policy.RequiredPPE {
		if violationClass == "no_"+req {
			return true
		}
	}
	return false
}
