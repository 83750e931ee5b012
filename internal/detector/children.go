package detector

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// ChildrenDataDetector checks registration flows for age verification. Any
// form that looks like an account sign-up must establish the user's age or
// require verifiable guardian consent.
type ChildrenDataDetector struct{}

func (d *ChildrenDataDetector) Name() string    { return "children_data" }
func (d *ChildrenDataDetector) Section() string { return "Section 9" }

func (d *ChildrenDataDetector) Detect(_ context.Context, page scan.CrawledPage, _ *goquery.Document) ([]scan.Finding, error) {
	var findings []scan.Finding
	for _, form := range page.Forms {
		if !looksLikeSignup(form) {
			continue
		}
		if hasAgeField(form) {
			findings = append(findings, scan.Finding{
				CheckType:   scan.CheckChildrenAgeVerification,
				Severity:    scan.SeverityInfo,
				Status:      scan.FindingPass,
				Title:       "Sign-up form verifies age",
				Description: "The registration form collects age or date of birth.",
				ExtraData:   map[string]any{"form_id": form.ID},
			})
		} else {
			findings = append(findings, scan.Finding{
				CheckType:   scan.CheckChildrenAgeVerification,
				Severity:    scan.SeverityHigh,
				Status:      scan.FindingFail,
				Title:       "Sign-up form has no age verification",
				Description: "The registration form collects personal data without establishing whether the user is a child.",
				Remediation: "Add a date-of-birth field or an equivalent age gate before account creation.",
				ExtraData:   map[string]any{"form_id": form.ID, "form_action": form.Action},
			})
		}
	}
	return findings, nil
}

func looksLikeSignup(form scan.Form) bool {
	haystack := strings.ToLower(form.Action + " " + form.ID)
	if strings.Contains(haystack, "register") || strings.Contains(haystack, "signup") ||
		strings.Contains(haystack, "sign-up") {
		return true
	}
	hasEmail, hasPassword, inputs := false, false, 0
	for _, f := range form.Fields {
		switch f.Type {
		case "email":
			hasEmail = true
		case "password":
			hasPassword = true
		}
		if strings.Contains(strings.ToLower(f.Name), "email") {
			hasEmail = true
		}
		inputs++
	}
	// Login forms are email+password only; sign-ups carry more fields.
	return hasEmail && hasPassword && inputs > 3
}

func hasAgeField(form scan.Form) bool {
	for _, f := range form.Fields {
		haystack := strings.ToLower(f.Name + " " + f.ID + " " + f.Placeholder)
		if f.Type == "date" || strings.Contains(haystack, "age") ||
			strings.Contains(haystack, "birth") || strings.Contains(haystack, "dob") {
			return true
		}
	}
	return false
}
