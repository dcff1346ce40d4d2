package vision

import "github.com/your-org/sitewatch/internal/models"

// Compliance determination is shared between the annotator and the event
// processor so what is rendered and what is recorded never drift apart.

type Status int

const (
	StatusUnknown Status = iota
	StatusCompliant
	StatusViolation
)

const (
	// DefaultHeadFraction is the share of a person box treated as the head.
	DefaultHeadFraction = 0.30
	// DefaultOverlapThreshold is the minimum IoU between the head region
	// and a (no-)hardhat detection to count as evidence.
	DefaultOverlapThreshold = 0.3
	// vestOverlapThreshold is the minimum share of a vest evidence box that
	// must lie inside the person box.
	vestOverlapThreshold = 0.1
)

// PersonAssessment is the per-person compliance verdict for one inference
// result.
type PersonAssessment struct {
	Person  Detection
	Hardhat Status
	Vest    Status
	// Zone is set in zone mode only: violation inside the polygon,
	// compliant outside. Containment is never ambiguous, so zone mode
	// has no unknown verdicts.
	Zone       Status
	Violations []models.ViolationType
	// Confidence carries the strongest violating evidence, or the person
	// confidence when there is no violation.
	Confidence float32
}

// Overall collapses the per-item statuses into one render color class:
// any violation wins, then positive evidence, then unknown. Unknown only
// happens in PPE mode when a person carries no evidence either way; such
// a person is reported, never silently dropped.
func (a PersonAssessment) Overall() Status {
	if len(a.Violations) > 0 {
		return StatusViolation
	}
	if a.Zone == StatusCompliant || a.Hardhat == StatusCompliant || a.Vest == StatusCompliant {
		return StatusCompliant
	}
	return StatusUnknown
}

// AssessPPE classifies every person detection for hardhat and safety-vest
// compliance. headFrac/overlapThr of 0 select the defaults.
func AssessPPE(dets []Detection, headFrac, overlapThr float32) []PersonAssessment {
	if headFrac <= 0 {
		headFrac = DefaultHeadFraction
	}
	if overlapThr <= 0 {
		overlapThr = DefaultOverlapThreshold
	}

	var persons, hardhats, noHardhats, vests, noVests []Detection
	for _, d := range dets {
		switch d.Label {
		case LabelPerson:
			persons = append(persons, d)
		case LabelHardhat:
			hardhats = append(hardhats, d)
		case LabelNoHardhat:
			noHardhats = append(noHardhats, d)
		case LabelVest:
			vests = append(vests, d)
		case LabelNoVest:
			noVests = append(noVests, d)
		}
	}

	out := make([]PersonAssessment, 0, len(persons))
	for _, p := range persons {
		head := HeadRegion(p.Box, headFrac)
		a := PersonAssessment{Person: p, Confidence: p.Confidence}

		if ev, ok := bestMatch(head, noHardhats, overlapThr, IoU); ok {
			a.Hardhat = StatusViolation
			a.Violations = append(a.Violations, models.ViolationNoHardhat)
			if ev.Confidence > a.Confidence || len(a.Violations) == 1 {
				a.Confidence = ev.Confidence
			}
		} else if _, ok := bestMatch(head, hardhats, overlapThr, IoU); ok {
			a.Hardhat = StatusCompliant
		}

		if ev, ok := bestMatch(p.Box, noVests, vestOverlapThreshold, OverlapRatio); ok {
			a.Vest = StatusViolation
			a.Violations = append(a.Violations, models.ViolationNoVest)
			if ev.Confidence > a.Confidence {
				a.Confidence = ev.Confidence
			}
		} else if _, ok := bestMatch(p.Box, vests, vestOverlapThreshold, OverlapRatio); ok {
			a.Vest = StatusCompliant
		}

		out = append(out, a)
	}
	return out
}

// AssessZone classifies every person detection by centroid containment in
// the zone polygon. Inside means violation; outside means compliant.
func AssessZone(dets []Detection, polygon []models.Point) []PersonAssessment {
	var out []PersonAssessment
	for _, d := range dets {
		if d.Label != LabelPerson {
			continue
		}
		cx, cy := Centroid(d.Box)
		a := PersonAssessment{Person: d, Confidence: d.Confidence, Zone: StatusCompliant}
		if PointInPolygon(cx, cy, polygon) {
			a.Zone = StatusViolation
			a.Violations = append(a.Violations, models.ViolationZoneBreach)
		}
		out = append(out, a)
	}
	return out
}

// Assess dispatches on the detection mode, keeping one entry point for both
// the render path and the event path.
func Assess(dets []Detection, mode models.DetectionMode, polygon []models.Point, headFrac, overlapThr float32) []PersonAssessment {
	if mode == models.ModeZone {
		return AssessZone(dets, polygon)
	}
	return AssessPPE(dets, headFrac, overlapThr)
}

func bestMatch(region [4]float32, evidence []Detection, threshold float32, overlap func(a, b [4]float32) float32) (Detection, bool) {
	var best Detection
	found := false
	for _, e := range evidence {
		if overlap(region, e.Box) > threshold {
			if !found || e.Confidence > best.Confidence {
				best = e
				found = true
			}
		}
	}
	return best, found
}
