package detector

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

var (
	shamingPattern = regexp.MustCompile(`(?i)(no thanks?,? i (don't|do not|prefer)|i don'?t (want|care|need)|i('| a)m not interested|i hate saving|i'?d rather pay)`)
	urgencyPattern = regexp.MustCompile(`(?i)(only \d+ (left|remaining|seats?|spots?)|hurry|limited time|offer (ends|expires)|act now|expires in|\d+ people (are )?(viewing|looking))`)
)

// DarkPatternDetector looks for manipulative interface patterns: pre-ticked
// marketing opt-ins, confirm-shaming decline copy, and false urgency cues.
type DarkPatternDetector struct{}

func (d *DarkPatternDetector) Name() string    { return "dark_patterns" }
func (d *DarkPatternDetector) Section() string { return "Section 6(4)" }

func (d *DarkPatternDetector) Detect(_ context.Context, page scan.CrawledPage, doc *goquery.Document) ([]scan.Finding, error) {
	var findings []scan.Finding

	doc.Find(`input[type="checkbox"][checked]`).Each(func(_ int, s *goquery.Selection) {
		label := checkboxLabel(s)
		lower := strings.ToLower(label)
		if strings.Contains(lower, "marketing") || strings.Contains(lower, "newsletter") ||
			strings.Contains(lower, "offers") || strings.Contains(lower, "promotional") {
			name, _ := s.Attr("name")
			findings = append(findings, scan.Finding{
				CheckType:       scan.CheckDarkPatternPreselected,
				Severity:        scan.SeverityMedium,
				Status:          scan.FindingFail,
				ElementSelector: `input[name="` + name + `"]`,
				Title:           "Marketing opt-in is pre-ticked",
				Description:     "A marketing or newsletter checkbox defaults to checked, opting the user in without action.",
				Remediation:     "Default all optional opt-ins to unchecked.",
				ExtraData:       map[string]any{"label": label},
			})
		}
	})

	seenShaming := map[string]struct{}{}
	doc.Find("button, a, label").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if len(text) > 200 || !shamingPattern.MatchString(text) {
			return
		}
		if _, dup := seenShaming[text]; dup {
			return
		}
		seenShaming[text] = struct{}{}
		findings = append(findings, scan.Finding{
			CheckType:   scan.CheckDarkPatternShaming,
			Severity:    scan.SeverityLow,
			Status:      scan.FindingFail,
			Title:       "Confirm-shaming decline option",
			Description: "The decline option guilt-trips the user: \"" + text + "\".",
			Remediation: "Use neutral wording for decline actions, such as \"No thanks\".",
			ExtraData:   map[string]any{"text": text},
		})
	})

	if m := urgencyPattern.FindString(doc.Text()); m != "" {
		findings = append(findings, scan.Finding{
			CheckType:   scan.CheckDarkPatternUrgency,
			Severity:    scan.SeverityLow,
			Status:      scan.FindingFail,
			Title:       "Urgency or scarcity pressure cue",
			Description: "The page pressures the user with urgency language: \"" + strings.TrimSpace(m) + "\".",
			Remediation: "Remove countdowns and scarcity claims from consent and sign-up flows, or make them verifiably accurate.",
			ExtraData:   map[string]any{"match": m},
		})
	}

	return findings, nil
}

func checkboxLabel(s *goquery.Selection) string {
	if id, ok := s.Attr("id"); ok && id != "" {
		if label := s.Closest("body").Find(`label[for="` + id + `"]`); label.Length() > 0 {
			return strings.TrimSpace(label.Text())
		}
	}
	return strings.TrimSpace(s.Parent().Text())
}
