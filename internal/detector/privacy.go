package detector

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

var privacyLinkPattern = regexp.MustCompile(`(?i)privacy\s*(policy|notice|statement)?`)

// Topics a complete privacy notice has to cover, with the keywords that
// signal each one is addressed.
var noticeTopics = map[string][]string{
	"purpose of processing": {"purpose", "why we collect", "how we use"},
	"data categories":       {"personal data", "information we collect", "categories of data"},
	"retention":             {"retention", "how long", "store your data", "delete your data"},
	"user rights":           {"right to", "your rights", "access, correction", "erasure"},
	"grievance contact":     {"grievance", "data protection officer", "dpo", "contact us"},
}

// PrivacyNoticeDetector verifies a privacy notice is linked from every page
// and, on the notice itself, that the mandatory topics are covered.
type PrivacyNoticeDetector struct{}

func (d *PrivacyNoticeDetector) Name() string    { return "privacy_notice" }
func (d *PrivacyNoticeDetector) Section() string { return "Section 5" }

func (d *PrivacyNoticeDetector) Detect(_ context.Context, page scan.CrawledPage, doc *goquery.Document) ([]scan.Finding, error) {
	var findings []scan.Finding

	link := findPrivacyLink(doc)
	if link == "" {
		findings = append(findings, scan.Finding{
			CheckType:   scan.CheckPrivacyNoticeMissing,
			Severity:    scan.SeverityHigh,
			Status:      scan.FindingFail,
			Title:       "No privacy notice link on page",
			Description: "The page does not link to a privacy notice. Users must be able to reach it from anywhere personal data is collected.",
			Remediation: "Add a persistent footer or header link to the privacy notice.",
		})
	} else {
		findings = append(findings, scan.Finding{
			CheckType:   scan.CheckPrivacyNoticeMissing,
			Severity:    scan.SeverityInfo,
			Status:      scan.FindingPass,
			Title:       "Privacy notice link present",
			Description: "The page links to a privacy notice.",
			ExtraData:   map[string]any{"href": link},
		})
	}

	if isPrivacyPage(page) {
		text := strings.ToLower(doc.Text())
		var missing []string
		for topic, keywords := range noticeTopics {
			if !containsAny(text, keywords) {
				missing = append(missing, topic)
			}
		}
		if len(missing) > 0 {
			status := scan.FindingPartial
			if len(missing) >= len(noticeTopics)-1 {
				status = scan.FindingFail
			}
			findings = append(findings, scan.Finding{
				CheckType:   scan.CheckPrivacyNoticeIncomplete,
				Severity:    scan.SeverityMedium,
				Status:      status,
				Title:       "Privacy notice is missing required topics",
				Description: "The privacy notice does not address: " + strings.Join(missing, ", ") + ".",
				Remediation: "Extend the notice to cover every missing topic.",
				ExtraData:   map[string]any{"missing_topics": missing},
			})
		} else {
			findings = append(findings, scan.Finding{
				CheckType:   scan.CheckPrivacyNoticeIncomplete,
				Severity:    scan.SeverityInfo,
				Status:      scan.FindingPass,
				Title:       "Privacy notice covers required topics",
				Description: "All mandatory notice topics were found.",
			})
		}
	}

	return findings, nil
}

func findPrivacyLink(doc *goquery.Document) string {
	link := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if privacyLinkPattern.MatchString(s.Text()) || strings.Contains(strings.ToLower(href), "privacy") {
			link = href
			return false
		}
		return true
	})
	return link
}

func isPrivacyPage(page scan.CrawledPage) bool {
	target := strings.ToLower(page.URL + " " + page.RoutePath + " " + page.Title)
	return strings.Contains(target, "privacy")
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
