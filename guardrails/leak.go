package guardrails

import (
	"context"
)

// Leak categories.
const (
	CategoryEmail         = "email"
	CategoryPhone         = "phone"
	CategorySSN           = "ssn"
	CategoryCreditCard    = "credit-card"
	CategoryIPAddress     = "ip-address"
	CategoryIBAN          = "iban"
	CategoryNationalID    = "national-id"
	CategoryAPIKey        = "api-key"
	CategoryAWSAccessKey  = "aws-access-key"
	CategoryPrivateKey    = "private-key"
	CategoryJWT           = "jwt"
	CategoryPassword      = "password"
	CategoryGenericSecret = "generic-secret"
)

// DefaultPIIRules returns the built-in PII rules. Confidence is chosen so the
// default breakpoints land each category in its documented severity.
func DefaultPIIRules() []Rule {
	return []Rule{
		{
			ID:          "email",
			Technique:   string(LeakKindPII),
			Category:    CategoryEmail,
			Kind:        LeakKindPII,
			Pattern:     `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
			Confidence:  0.7,
			Description: "Email address",
		},
		{
			ID:          "ssn",
			Technique:   string(LeakKindPII),
			Category:    CategorySSN,
			Kind:        LeakKindPII,
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Confidence:  0.95,
			Description: "US social security number",
		},
		{
			ID:          "credit-card",
			Technique:   string(LeakKindPII),
			Category:    CategoryCreditCard,
			Kind:        LeakKindPII,
			Pattern:     `\b(?:\d[ -]?){15,18}\d\b`,
			Confidence:  0.95,
			Description: "Payment card number",
		},
		{
			ID:          "phone",
			Technique:   string(LeakKindPII),
			Category:    CategoryPhone,
			Kind:        LeakKindPII,
			Pattern:     `(?:\+\d{1,3}[\s.-]?)?\(?\b\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`,
			Confidence:  0.65,
			Description: "Phone number",
		},
		{
			ID:          "phone-cn",
			Technique:   string(LeakKindPII),
			Category:    CategoryPhone,
			Kind:        LeakKindPII,
			Pattern:     `\b1[3-9]\d{9}\b`,
			Confidence:  0.65,
			Description: "中国大陆手机号",
		},
		{
			ID:          "national-id-cn",
			Technique:   string(LeakKindPII),
			Category:    CategoryNationalID,
			Kind:        LeakKindPII,
			Pattern:     `\b[1-9]\d{5}(?:19|20)\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])\d{3}[\dXx]\b`,
			Confidence:  0.95,
			Description: "中国大陆身份证号",
		},
		{
			ID:          "iban",
			Technique:   string(LeakKindPII),
			Category:    CategoryIBAN,
			Kind:        LeakKindPII,
			Pattern:     `\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`,
			Confidence:  0.85,
			Description: "International bank account number",
		},
		{
			ID:          "ipv4",
			Technique:   string(LeakKindPII),
			Category:    CategoryIPAddress,
			Kind:        LeakKindPII,
			Pattern:     `\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`,
			Confidence:  0.4,
			Description: "IPv4 address",
		},
	}
}

// DefaultSecretRules returns the built-in credential rules.
func DefaultSecretRules() []Rule {
	return []Rule{
		{
			ID:          "aws-access-key",
			Technique:   string(LeakKindSecret),
			Category:    CategoryAWSAccessKey,
			Kind:        LeakKindSecret,
			Pattern:     `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`,
			Confidence:  0.95,
			Description: "AWS access key id",
		},
		{
			ID:          "api-key",
			Technique:   string(LeakKindSecret),
			Category:    CategoryAPIKey,
			Kind:        LeakKindSecret,
			Pattern:     `\b(?:sk|pk|rk)-[A-Za-z0-9_-]{20,}`,
			Confidence:  0.95,
			Description: "Provider API key",
		},
		{
			ID:          "github-token",
			Technique:   string(LeakKindSecret),
			Category:    CategoryAPIKey,
			Kind:        LeakKindSecret,
			Pattern:     `\bgh[pousr]_[A-Za-z0-9]{36,}\b`,
			Confidence:  0.95,
			Description: "GitHub token",
		},
		{
			ID:          "private-key",
			Technique:   string(LeakKindSecret),
			Category:    CategoryPrivateKey,
			Kind:        LeakKindSecret,
			Pattern:     `-----BEGIN (?:RSA |EC |DSA |OPENSSH |ENCRYPTED )?PRIVATE KEY-----`,
			Confidence:  0.95,
			Description: "PEM private key header",
		},
		{
			ID:          "jwt",
			Technique:   string(LeakKindSecret),
			Category:    CategoryJWT,
			Kind:        LeakKindSecret,
			Pattern:     `\beyJ[A-Za-z0-9_-]{5,}\.eyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{5,}`,
			Confidence:  0.85,
			Description: "JSON web token",
		},
		{
			ID:          "password-assignment",
			Technique:   string(LeakKindSecret),
			Category:    CategoryPassword,
			Kind:        LeakKindSecret,
			Pattern:     `(?i)\b(?:password|passwd|pwd)\s*[:=]\s*\S{4,}`,
			Confidence:  0.85,
			Description: "Password assignment",
		},
		{
			ID:          "generic-secret",
			Technique:   string(LeakKindSecret),
			Category:    CategoryGenericSecret,
			Kind:        LeakKindSecret,
			Pattern:     `(?i)\b(?:secret|token|api[_-]?key)\s*[:=]\s*['"]?[A-Za-z0-9_\-/+=]{12,}`,
			Confidence:  0.85,
			Description: "Generic secret assignment",
		},
	}
}

// NewPIIDetector builds the default PII detector.
func NewPIIDetector() (*PatternDetector, error) {
	return NewPatternDetector(ClassDataLeak, "pii-patterns", DefaultPIIRules())
}

// NewSecretDetector builds the default secret detector.
func NewSecretDetector() (*PatternDetector, error) {
	return NewPatternDetector(ClassDataLeak, "secret-patterns", DefaultSecretRules())
}

// LeakScanner is implemented by data-leak detectors that know the category
// of each match. Other detectors fall back to LeakItemsFromFindings.
type LeakScanner interface {
	ScanLeaks(ctx context.Context, text string) ([]LeakItem, error)
}

// ScanLeaks converts each match into a LeakItem using the rule category.
func (d *PatternDetector) ScanLeaks(ctx context.Context, text string) ([]LeakItem, error) {
	findings, err := d.Detect(ctx, text)
	if err != nil {
		return nil, err
	}
	items := make([]LeakItem, 0, len(findings))
	for _, f := range findings {
		category, kind := f.Technique, LeakKindPII
		if r, ok := d.Rule(f.RuleID); ok {
			if r.Category != "" {
				category = r.Category
			}
			if r.Kind != "" {
				kind = r.Kind
			}
		}
		items = append(items, NewLeakItem(text, f, category, kind))
	}
	return items, nil
}

// LeakItemsFromFindings treats each finding's technique as its category.
func LeakItemsFromFindings(text string, findings []Finding) []LeakItem {
	items := make([]LeakItem, 0, len(findings))
	for _, f := range findings {
		if len(f.Spans) == 0 || !f.Spans[0].Valid(len(text)) {
			continue
		}
		items = append(items, NewLeakItem(text, f, f.Technique, LeakKindPII))
	}
	return items
}

// NewLeakItem builds a LeakItem for the first span of f. The evidence is
// replaced by the masked value so raw leaks never travel in results.
func NewLeakItem(text string, f Finding, category string, kind LeakKind) LeakItem {
	sp := f.Spans[0]
	original := text[sp.Start:sp.End]
	masked := Mask(category, original)
	f.Spans = []Span{sp}
	f.Evidence = masked
	return LeakItem{
		Finding:       f,
		Category:      category,
		Kind:          kind,
		OriginalValue: original,
		MaskedValue:   masked,
	}
}

// ScoreLeaks returns min(1, avg(severity weight) + 0.1*count), or 0 for no items.
func ScoreLeaks(items []LeakItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Severity.Weight()
	}
	score := sum/float64(len(items)) + 0.1*float64(len(items))
	if score > 1 {
		return 1
	}
	return score
}

// LeakCategories returns the distinct categories in item order.
func LeakCategories(items []LeakItem) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, it := range items {
		if _, ok := seen[it.Category]; ok {
			continue
		}
		seen[it.Category] = struct{}{}
		out = append(out, it.Category)
	}
	return out
}
