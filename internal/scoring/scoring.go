// Package scoring turns a scan's findings into an overall compliance score.
package scoring

import (
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// Default weights and caps. A section's penalties are capped so one very
// broken area cannot zero out the whole score on its own.
const (
	defaultSectionCap = 30.0
	partialFactor     = 0.5
)

var defaultWeights = map[scan.Severity]float64{
	scan.SeverityCritical: 15,
	scan.SeverityHigh:     10,
	scan.SeverityMedium:   5,
	scan.SeverityLow:      2,
}

// SectionPenalty scores by subtracting severity-weighted penalties from 100,
// aggregated and capped per regulation section. Passing findings carry no
// weight; partial findings count at half.
type SectionPenalty struct {
	Weights    map[scan.Severity]float64
	SectionCap float64
}

// NewSectionPenalty returns a scorer with the default weights.
func NewSectionPenalty() *SectionPenalty {
	return &SectionPenalty{Weights: defaultWeights, SectionCap: defaultSectionCap}
}

// Score implements scan.Scorer.
func (s *SectionPenalty) Score(findings []scan.Finding, pagesScanned int) float64 {
	if pagesScanned <= 0 {
		return 0
	}

	// The same failed check on many pages is one defect, not many: count
	// each check once per section at its worst observed weight.
	type key struct {
		section string
		check   scan.CheckType
	}
	worst := make(map[key]float64)
	for _, f := range findings {
		w, ok := s.Weights[f.Severity]
		if !ok {
			continue
		}
		switch f.Status {
		case scan.FindingFail:
		case scan.FindingPartial:
			w *= partialFactor
		default:
			continue
		}
		k := key{section: f.Section, check: f.CheckType}
		if w > worst[k] {
			worst[k] = w
		}
	}

	perSection := make(map[string]float64)
	for k, w := range worst {
		perSection[k.section] += w
	}

	score := 100.0
	for _, penalty := range perSection {
		if penalty > s.SectionCap {
			penalty = s.SectionCap
		}
		score -= penalty
	}
	if score < 0 {
		score = 0
	}
	return score
}
