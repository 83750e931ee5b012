package detector

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

var (
	breachContactPattern = regexp.MustCompile(`(?i)(report (a )?(security|data) (issue|breach|incident)|security@|dpo@|responsible disclosure|vulnerability disclosure)`)
	emailPattern         = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// BreachReadinessDetector checks that a security or data-incident contact is
// published. Evaluated on privacy and contact pages only.
type BreachReadinessDetector struct{}

func (d *BreachReadinessDetector) Name() string    { return "breach_readiness" }
func (d *BreachReadinessDetector) Section() string { return "Section 8(6)" }

func (d *BreachReadinessDetector) Detect(_ context.Context, page scan.CrawledPage, doc *goquery.Document) ([]scan.Finding, error) {
	if !breachRelevantPage(page) {
		return nil, nil
	}
	text := doc.Text()

	if breachContactPattern.MatchString(text) {
		return []scan.Finding{{
			CheckType:   scan.CheckBreachContact,
			Severity:    scan.SeverityInfo,
			Status:      scan.FindingPass,
			Title:       "Security incident contact published",
			Description: "The page provides a channel for reporting security or data incidents.",
		}}, nil
	}
	if email := emailPattern.FindString(text); email != "" {
		return []scan.Finding{{
			CheckType:   scan.CheckBreachContact,
			Severity:    scan.SeverityLow,
			Status:      scan.FindingPartial,
			Title:       "Only a generic contact address found",
			Description: "A contact email exists but no dedicated security or breach reporting channel: " + email + ".",
			Remediation: "Publish a dedicated security contact for incident reports.",
			ExtraData:   map[string]any{"email": email},
		}}, nil
	}
	return []scan.Finding{{
		CheckType:   scan.CheckBreachContact,
		Severity:    scan.SeverityMedium,
		Status:      scan.FindingFail,
		Title:       "No breach reporting contact",
		Description: "Neither a security contact nor a general contact address appears on this page.",
		Remediation: "Publish contact details for reporting data incidents on the privacy or contact page.",
	}}, nil
}

func breachRelevantPage(page scan.CrawledPage) bool {
	target := strings.ToLower(page.URL + " " + page.RoutePath + " " + page.Title)
	return strings.Contains(target, "privacy") || strings.Contains(target, "contact") ||
		strings.Contains(target, "security") || strings.Contains(target, "about")
}
