// Package detect defines the per-frame detection records produced by the
// external object-detection model and the bounding-box geometry used by the
// compliance and tracking layers. The model itself is a black box: this
// package only validates and interprets its labelled boxes.
package detect

import (
	"fmt"
	"math"
)

// Class names emitted by the detection model.
const (
	ClassPerson = "Person"

	ClassHelmet  = "helmet"
	ClassVest    = "vest"
	ClassGloves  = "gloves"
	ClassBoots   = "boots"
	ClassGoggles = "goggles"

	ClassNoHelmet = "no_helmet"
	ClassNoGoggle = "no_goggle"
	ClassNoGloves = "no_gloves"
	ClassNoBoots  = "no_boots"
	ClassNone     = "none"
)

// ProperPPEClasses lists the proper-equipment classes in canonical order.
var ProperPPEClasses = []string{ClassHelmet, ClassGloves, ClassVest, ClassBoots, ClassGoggles}

// ViolationClasses lists the explicit violation classes the model can emit.
var ViolationClasses = []string{ClassNoHelmet, ClassNoGoggle, ClassNoGloves, ClassNoBoots, ClassNone}

// IsViolationClass reports whether class is one of the explicit violation classes.
func IsViolationClass(class string) bool {
	for _, v := range ViolationClasses {
		if class == v {
			return true
		}
	}
	return false
}

// BBox is an axis-aligned bounding box in frame pixel coordinates,
// with (X1,Y1) the top-left and (X2,Y2) the bottom-right corner.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width in pixels.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// Centroid returns the box centre point.
func (b BBox) Centroid() (cx, cy float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Valid reports whether the box is well formed: finite coordinates,
// x2 ≥ x1, y2 ≥ y1 and a non-zero area.
func (b BBox) Valid() bool {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if b.X2 < b.X1 || b.Y2 < b.Y1 {
		return false
	}
	return b.Area() > 0
}

// Intersection returns the overlapping region of two boxes and whether
// they overlap at all.
func (b BBox) Intersection(other BBox) (BBox, bool) {
	inter := BBox{
		X1: math.Max(b.X1, other.X1),
		Y1: math.Max(b.Y1, other.Y1),
		X2: math.Min(b.X2, other.X2),
		Y2: math.Min(b.Y2, other.Y2),
	}
	if inter.X2 < inter.X1 || inter.Y2 < inter.Y1 {
		return BBox{}, false
	}
	return inter, true
}

// OverlapRatio returns the intersection area divided by the area of the
// receiver box. This is the proximity-association test used to attach PPE
// items to a person: the reference is always the person box, so the ratio
// is deliberately not a symmetric IoU.
func (b BBox) OverlapRatio(other BBox) float64 {
	area := b.Area()
	if area <= 0 {
		return 0
	}
	inter, ok := b.Intersection(other)
	if !ok {
		return 0
	}
	return inter.Area() / area
}

// Detection is one labelled bounding box from the model for one frame.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"bbox"`
}

// Validate checks that the detection can be processed. The frame loop drops
// invalid detections individually rather than aborting the frame.
func (d Detection) Validate() error {
	if d.Class == "" {
		return fmt.Errorf("detection has empty class")
	}
	if d.Confidence < 0 || d.Confidence > 1 || math.IsNaN(d.Confidence) {
		return fmt.Errorf("detection confidence %v out of range [0,1]", d.Confidence)
	}
	if !d.Box.Valid() {
		return fmt.Errorf("detection %q has degenerate bounding box %+v", d.Class, d.Box)
	}
	return nil
}

// FilterValid returns the detections that pass Validate, preserving order,
// plus the number dropped.
func FilterValid(frame []Detection) ([]Detection, int) {
	out := make([]Detection, 0, len(frame))
	dropped := 0
	for _, d := range frame {
		if d.Validate() != nil {
			dropped++
			continue
		}
		out = append(out, d)
	}
	return out, dropped
}
