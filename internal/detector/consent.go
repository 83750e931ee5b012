package detector

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

var withdrawalPattern = regexp.MustCompile(`(?i)(withdraw|revoke|opt[\s-]?out of).{0,40}(consent|permission)`)

// ConsentDetector checks how the page collects consent: boxes must not be
// pre-ticked, purposes must not be bundled into one blanket checkbox, and
// withdrawal must be as easy to find as the consent itself.
type ConsentDetector struct{}

func (d *ConsentDetector) Name() string    { return "consent" }
func (d *ConsentDetector) Section() string { return "Section 6" }

func (d *ConsentDetector) Detect(_ context.Context, page scan.CrawledPage, doc *goquery.Document) ([]scan.Finding, error) {
	var findings []scan.Finding

	var consentBoxes []scan.ConsentElement
	for _, el := range page.ConsentElements {
		if el.Kind == "checkbox" {
			consentBoxes = append(consentBoxes, el)
		}
	}

	for _, cb := range consentBoxes {
		if cb.PreChecked || cb.Checked {
			findings = append(findings, scan.Finding{
				CheckType:       scan.CheckConsentPreselected,
				Severity:        scan.SeverityHigh,
				Status:          scan.FindingFail,
				ElementSelector: cb.Selector,
				Title:           "Consent checkbox is pre-selected",
				Description:     "A consent checkbox is checked before the user acts. Consent must be a clear affirmative action.",
				Remediation:     "Render consent checkboxes unchecked and require the user to opt in explicitly.",
				ExtraData:       map[string]any{"label": cb.Label},
			})
		}
		if bundlesPurposes(cb.Label) {
			findings = append(findings, scan.Finding{
				CheckType:       scan.CheckConsentBundled,
				Severity:        scan.SeverityMedium,
				Status:          scan.FindingFail,
				ElementSelector: cb.Selector,
				Title:           "Multiple purposes bundled into one consent",
				Description:     "A single checkbox covers several unrelated purposes. Each purpose needs its own consent.",
				Remediation:     "Split the checkbox so each processing purpose can be accepted or declined independently.",
				ExtraData:       map[string]any{"label": cb.Label},
			})
		}
	}

	// Withdrawal only matters on pages that actually ask for consent.
	if len(consentBoxes) > 0 || hasConsentBanner(page) {
		if withdrawalPattern.MatchString(doc.Text()) || hasWithdrawalLink(doc) {
			findings = append(findings, scan.Finding{
				CheckType:   scan.CheckConsentWithdrawal,
				Severity:    scan.SeverityInfo,
				Status:      scan.FindingPass,
				Title:       "Consent withdrawal option present",
				Description: "The page offers a way to withdraw previously given consent.",
			})
		} else {
			findings = append(findings, scan.Finding{
				CheckType:   scan.CheckConsentWithdrawal,
				Severity:    scan.SeverityMedium,
				Status:      scan.FindingFail,
				Title:       "No visible way to withdraw consent",
				Description: "Consent is collected here but no withdrawal mechanism is offered alongside it.",
				Remediation: "Add a withdrawal link or control wherever consent is requested.",
			})
		}
	}

	return findings, nil
}

// bundlesPurposes flags labels that chain several purposes under one tick.
func bundlesPurposes(label string) bool {
	l := strings.ToLower(label)
	purposes := 0
	for _, kw := range []string{"terms", "privacy", "marketing", "newsletter", "analytics", "partner", "promotional"} {
		if strings.Contains(l, kw) {
			purposes++
		}
	}
	return purposes >= 2
}

func hasConsentBanner(page scan.CrawledPage) bool {
	for _, el := range page.ConsentElements {
		if el.Kind == "banner" {
			return true
		}
	}
	return false
}

func hasWithdrawalLink(doc *goquery.Document) bool {
	found := false
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(s.Text())
		if strings.Contains(text, "withdraw") || strings.Contains(text, "manage consent") ||
			strings.Contains(text, "cookie settings") || strings.Contains(text, "consent preferences") {
			found = true
			return false
		}
		return true
	})
	return found
}
