// Package scan defines core types shared across subsystems.
package scan

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a scan.
type Status string

// Scan status values persisted in the scan store. Transitions follow
// PENDING -> QUEUED -> RUNNING -> {COMPLETED | FAILED | CANCELLED}; a
// terminal state is never left, and CANCELLED may be requested from any
// pre-terminal state.
const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Type selects the depth tier of a scan: page budget, crawl timeout,
// and the detector subset are all resolved from it before crawling begins.
type Type string

// Supported scan tiers.
const (
	TypeQuick    Type = "quick"
	TypeStandard Type = "standard"
	TypeDeep     Type = "deep"
)

// Severity orders findings from critical down to informational.
type Severity string

// Finding severity levels, ordered critical > high > medium > low > info.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// FindingStatus is the outcome class of one compliance check.
type FindingStatus string

// Finding outcome values.
const (
	FindingPass          FindingStatus = "pass"
	FindingPartial       FindingStatus = "partial"
	FindingFail          FindingStatus = "fail"
	FindingNotApplicable FindingStatus = "not_applicable"
	FindingError         FindingStatus = "error"
)

// CheckType identifies the rule that produced a finding.
type CheckType string

// Check types emitted by the built-in detectors.
const (
	CheckPrivacyNoticeMissing    CheckType = "privacy_notice_missing_link"
	CheckPrivacyNoticeIncomplete CheckType = "privacy_notice_incomplete"
	CheckConsentPreselected      CheckType = "consent_not_preselected"
	CheckConsentBundled          CheckType = "consent_granular"
	CheckConsentWithdrawal       CheckType = "withdrawal_visible"
	CheckDarkPatternPreselected  CheckType = "dark_pattern_preselected"
	CheckDarkPatternShaming      CheckType = "dark_pattern_confirm_shaming"
	CheckDarkPatternUrgency      CheckType = "dark_pattern_urgency"
	CheckChildrenAgeVerification CheckType = "children_age_verification"
	CheckRightsAccess            CheckType = "rights_access"
	CheckRightsGrievance         CheckType = "rights_grievance"
	CheckBreachContact           CheckType = "data_breach_contact"
	CheckOther                   CheckType = "other"
)

// FormField describes one input inside a captured form.
type FormField struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	Required    bool   `json:"required"`
	Placeholder string `json:"placeholder"`
}

// Form is a structured snapshot of a <form> element.
type Form struct {
	Action string      `json:"action"`
	Method string      `json:"method"`
	ID     string      `json:"id"`
	Fields []FormField `json:"fields"`
}

// Cookie is a session cookie snapshot at capture time.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"http_only"`
}

// ConsentElement is a checkbox, banner, or button candidate pre-filtered
// by the extraction heuristic as consent-related.
type ConsentElement struct {
	Kind       string `json:"kind"` // checkbox, banner, button
	Selector   string `json:"selector,omitempty"`
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Label      string `json:"label,omitempty"`
	Text       string `json:"text,omitempty"`
	Checked    bool   `json:"checked,omitempty"`
	PreChecked bool   `json:"pre_checked,omitempty"`
	Required   bool   `json:"required,omitempty"`
	Visible    bool   `json:"visible,omitempty"`
}

// CrawledPage is one observation of a rendered page. It is created once per
// successful visit by the discovery engine, never mutated afterward, and
// consumed exactly once by the detector framework. Pages themselves are not
// persisted; only derived findings are.
type CrawledPage struct {
	URL             string
	Title           string
	HTMLContent     string
	RoutePath       string
	Links           []string
	Forms           []Form
	Cookies         []Cookie
	ConsentElements []ConsentElement
}

// NavElement is a clickable candidate discovered during DOM introspection.
// Ephemeral: consumed within the same discovery pass, never persisted.
type NavElement struct {
	Selector string
	Text     string
	Tag      string
}

// Finding is one compliance observation tied to a page or element. ExtraData
// is owned by the detector that produced it and is opaque to the framework
// and orchestrator.
type Finding struct {
	ID              uuid.UUID      `json:"id"`
	ScanID          uuid.UUID      `json:"scan_id"`
	CheckType       CheckType      `json:"check_type"`
	Severity        Severity       `json:"severity"`
	Status          FindingStatus  `json:"status"`
	Section         string         `json:"section,omitempty"`
	Location        string         `json:"location"`
	ElementSelector string         `json:"element_selector,omitempty"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Remediation     string         `json:"remediation,omitempty"`
	ExtraData       map[string]any `json:"extra_data,omitempty"`
	ScreenshotPath  string         `json:"screenshot_path,omitempty"`
}

// Counters are the aggregate progress numbers persisted on the scan row at
// each page boundary.
type Counters struct {
	PagesScanned  int    `json:"pages_scanned"`
	TotalPages    int    `json:"total_pages"`
	FindingsCount int    `json:"findings_count"`
	CriticalCount int    `json:"critical_count"`
	HighCount     int    `json:"high_count"`
	MediumCount   int    `json:"medium_count"`
	LowCount      int    `json:"low_count"`
	CurrentURL    string `json:"current_url,omitempty"`
}

// Observe tallies one finding into the severity counters.
func (c *Counters) Observe(f Finding) {
	c.FindingsCount++
	switch f.Severity {
	case SeverityCritical:
		c.CriticalCount++
	case SeverityHigh:
		c.HighCount++
	case SeverityMedium:
		c.MediumCount++
	case SeverityLow:
		c.LowCount++
	}
}

// Scan is the unit of work and its state machine.
type Scan struct {
	ID            uuid.UUID  `json:"id"`
	ApplicationID uuid.UUID  `json:"application_id"`
	Type          Type       `json:"scan_type"`
	Status        Status     `json:"status"`
	StatusMessage string     `json:"status_message,omitempty"`
	Counters      Counters   `json:"counters"`
	OverallScore  *float64   `json:"overall_score,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// AuthType selects the authentication sub-protocol used before crawling.
type AuthType string

// Supported authentication modes.
const (
	AuthNone    AuthType = "none"
	AuthForm    AuthType = "form"
	AuthBasic   AuthType = "basic"
	AuthCookie  AuthType = "cookie"
	AuthSession AuthType = "session"
)

// AuthConfig carries target credentials for the discovery engine. Selector
// fields are optional; when empty the engine falls back to its prioritized
// selector strategies.
type AuthConfig struct {
	Type             AuthType `json:"auth_type"`
	LoginURL         string   `json:"login_url,omitempty"`
	Username         string   `json:"username,omitempty"`
	Password         string   `json:"password,omitempty"`
	UsernameSelector string   `json:"username_selector,omitempty"`
	PasswordSelector string   `json:"password_selector,omitempty"`
	SubmitSelector   string   `json:"submit_selector,omitempty"`
	Cookies          []Cookie `json:"cookies,omitempty"`
}

// Application is the audited target.
type Application struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	URL        string      `json:"url"`
	AuthConfig *AuthConfig `json:"auth_config,omitempty"`
}

// QueueItem wraps a scan ready to run.
type QueueItem struct {
	ScanID        uuid.UUID
	ApplicationID uuid.UUID
	Submitted     time.Time
}
