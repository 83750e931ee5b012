package detector

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

var (
	accessRightsPattern = regexp.MustCompile(`(?i)(right to (access|correction|erasure)|access (your|my) data|download (your|my) data|delete (your|my) (account|data)|data portability)`)
	grievancePattern    = regexp.MustCompile(`(?i)(grievance officer|grievance redressal|nodal officer|data protection officer)`)
)

// RightsDetector checks that users can exercise access, correction and
// erasure rights and can reach a grievance officer. Evaluated on the pages
// where such affordances belong: privacy, account, settings and contact.
type RightsDetector struct{}

func (d *RightsDetector) Name() string    { return "user_rights" }
func (d *RightsDetector) Section() string { return "Sections 11-13" }

func (d *RightsDetector) Detect(_ context.Context, page scan.CrawledPage, doc *goquery.Document) ([]scan.Finding, error) {
	if !rightsRelevantPage(page) {
		return nil, nil
	}
	text := doc.Text()
	var findings []scan.Finding

	if accessRightsPattern.MatchString(text) {
		findings = append(findings, scan.Finding{
			CheckType:   scan.CheckRightsAccess,
			Severity:    scan.SeverityInfo,
			Status:      scan.FindingPass,
			Title:       "Data access and erasure rights are surfaced",
			Description: "The page mentions mechanisms for accessing, correcting or erasing personal data.",
		})
	} else {
		findings = append(findings, scan.Finding{
			CheckType:   scan.CheckRightsAccess,
			Severity:    scan.SeverityMedium,
			Status:      scan.FindingFail,
			Title:       "No data access or erasure mechanism found",
			Description: "This page is where users would look for access, correction and erasure options, and none are mentioned.",
			Remediation: "Expose self-service controls or documented request channels for access, correction and erasure.",
		})
	}

	if grievancePattern.MatchString(text) {
		findings = append(findings, scan.Finding{
			CheckType:   scan.CheckRightsGrievance,
			Severity:    scan.SeverityInfo,
			Status:      scan.FindingPass,
			Title:       "Grievance officer is identified",
			Description: "The page names a grievance or data protection officer.",
		})
	} else if isPrivacyPage(page) {
		findings = append(findings, scan.Finding{
			CheckType:   scan.CheckRightsGrievance,
			Severity:    scan.SeverityMedium,
			Status:      scan.FindingFail,
			Title:       "No grievance officer identified",
			Description: "The privacy notice does not identify a grievance officer or contact.",
			Remediation: "Publish the grievance officer's name and contact details in the privacy notice.",
		})
	}

	return findings, nil
}

func rightsRelevantPage(page scan.CrawledPage) bool {
	target := strings.ToLower(page.URL + " " + page.RoutePath + " " + page.Title)
	for _, kw := range []string{"privacy", "account", "settings", "profile", "contact", "support", "help"} {
		if strings.Contains(target, kw) {
			return true
		}
	}
	return false
}
