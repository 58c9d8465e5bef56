package guardrails

import (
	"fmt"
	"slices"
	"time"
)

// Default thresholds applied when configuration is missing or out of range.
const (
	DefaultInjectionThreshold = 0.7
	DefaultJailbreakThreshold = 0.75
	DefaultToxicityThreshold  = 0.6

	DefaultEvidenceSampleLength = 100
	DefaultMaxEvidence          = 50
	DefaultDetectorTimeout      = 250 * time.Millisecond
	DefaultSanitizeReplacement  = "[FILTERED]"
	DefaultBlockMessage         = "request blocked by guardrails policy"
)

// Thresholds holds every numeric cut-off used by the policy ladders.
// All comparisons are strictly greater-than.
type Thresholds struct {
	Injection         float64 `yaml:"injection" json:"injection" env:"INJECTION"`
	InjectionSanitize float64 `yaml:"injection_sanitize" json:"injection_sanitize" env:"INJECTION_SANITIZE"`
	InjectionFlag     float64 `yaml:"injection_flag" json:"injection_flag" env:"INJECTION_FLAG"`
	Jailbreak         float64 `yaml:"jailbreak" json:"jailbreak" env:"JAILBREAK"`
	ConversationWarn  float64 `yaml:"conversation_warn" json:"conversation_warn" env:"CONVERSATION_WARN"`
	DataLeakBlock     float64 `yaml:"data_leak_block" json:"data_leak_block" env:"DATA_LEAK_BLOCK"`
	DataLeakRedact    float64 `yaml:"data_leak_redact" json:"data_leak_redact" env:"DATA_LEAK_REDACT"`
	Toxicity          float64 `yaml:"toxicity" json:"toxicity" env:"TOXICITY"`
	ToxicityBlock     float64 `yaml:"toxicity_block" json:"toxicity_block" env:"TOXICITY_BLOCK"`
}

// DefaultThresholds returns the documented default ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Injection:         DefaultInjectionThreshold,
		InjectionSanitize: 0.5,
		InjectionFlag:     0.3,
		Jailbreak:         DefaultJailbreakThreshold,
		ConversationWarn:  0.5,
		DataLeakBlock:     0.7,
		DataLeakRedact:    0.3,
		Toxicity:          DefaultToxicityThreshold,
		ToxicityBlock:     0.7,
	}
}

// Exemptions bypass detection for matching callers. Matching is exact.
type Exemptions struct {
	Users     []string `yaml:"users" json:"users" env:"USERS"`
	Roles     []string `yaml:"roles" json:"roles" env:"ROLES"`
	Endpoints []string `yaml:"endpoints" json:"endpoints" env:"ENDPOINTS"`
	Models    []string `yaml:"models" json:"models" env:"MODELS"`
}

// Match reports whether rc is exempt and which rule matched.
func (e Exemptions) Match(rc RequestContext) (bool, string) {
	switch {
	case rc.UserID != "" && slices.Contains(e.Users, rc.UserID):
		return true, "user:" + rc.UserID
	case rc.Role != "" && slices.Contains(e.Roles, rc.Role):
		return true, "role:" + rc.Role
	}
	for _, role := range rc.Roles {
		if role != "" && slices.Contains(e.Roles, role) {
			return true, "role:" + role
		}
	}
	switch {
	case rc.Endpoint != "" && slices.Contains(e.Endpoints, rc.Endpoint):
		return true, "endpoint:" + rc.Endpoint
	case rc.ModelID != "" && slices.Contains(e.Models, rc.ModelID):
		return true, "model:" + rc.ModelID
	}
	return false, ""
}

// ActionConfig describes how each recommendation is surfaced.
type ActionConfig struct {
	BlockMessage        string `yaml:"block_message" json:"block_message" env:"BLOCK_MESSAGE"`
	WarnMessage         string `yaml:"warn_message" json:"warn_message" env:"WARN_MESSAGE"`
	SanitizeReplacement string `yaml:"sanitize_replacement" json:"sanitize_replacement" env:"SANITIZE_REPLACEMENT"`
	// LogAllowed logs allow decisions too; non-allow decisions are always logged.
	LogAllowed bool `yaml:"log_allowed" json:"log_allowed" env:"LOG_ALLOWED"`
}

// Config 护栏引擎配置
type Config struct {
	EnabledClasses      []ThreatClass       `yaml:"enabled_classes" json:"enabled_classes" env:"ENABLED_CLASSES"`
	Thresholds          Thresholds          `yaml:"thresholds" json:"thresholds" env:"THRESHOLDS"`
	SeverityBreakpoints SeverityBreakpoints `yaml:"severity_breakpoints" json:"severity_breakpoints" env:"SEVERITY_BREAKPOINTS"`
	Exemptions          Exemptions          `yaml:"exemptions" json:"exemptions" env:"EXEMPTIONS"`
	Actions             ActionConfig        `yaml:"actions" json:"actions" env:"ACTIONS"`

	EvidenceSampleLength int           `yaml:"evidence_sample_length" json:"evidence_sample_length" env:"EVIDENCE_SAMPLE_LENGTH"`
	MaxEvidence          int           `yaml:"max_evidence" json:"max_evidence" env:"MAX_EVIDENCE"`
	DetectorTimeout      time.Duration `yaml:"detector_timeout" json:"detector_timeout" env:"DETECTOR_TIMEOUT"`
	// DirectionDefaults evaluates only data-leak, toxicity and bias on
	// output text when a request names no classes.
	DirectionDefaults bool `yaml:"direction_defaults" json:"direction_defaults" env:"DIRECTION_DEFAULTS"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		EnabledClasses:      slices.Clone(AllClasses),
		Thresholds:          DefaultThresholds(),
		SeverityBreakpoints: DefaultSeverityBreakpoints(),
		Actions: ActionConfig{
			BlockMessage:        DefaultBlockMessage,
			SanitizeReplacement: DefaultSanitizeReplacement,
		},
		EvidenceSampleLength: DefaultEvidenceSampleLength,
		MaxEvidence:          DefaultMaxEvidence,
		DetectorTimeout:      DefaultDetectorTimeout,
		DirectionDefaults:    true,
	}
}

// Normalize replaces unset or out-of-range values with defaults and returns
// one warning per replacement. A zero-value Thresholds or SeverityBreakpoints
// block counts as unset. The receiver is not modified.
func (c Config) Normalize() (Config, []string) {
	out := c
	var warnings []string
	def := DefaultThresholds()

	if out.Thresholds == (Thresholds{}) {
		warnings = append(warnings, "thresholds unset, using defaults")
		out.Thresholds = def
	}

	fix := func(name string, v *float64, fallback float64) {
		if !inUnitRange(*v) {
			warnings = append(warnings, fmt.Sprintf("threshold %s=%v outside [0,1], using %v", name, *v, fallback))
			*v = fallback
		}
	}
	fix("injection", &out.Thresholds.Injection, def.Injection)
	fix("injection_sanitize", &out.Thresholds.InjectionSanitize, def.InjectionSanitize)
	fix("injection_flag", &out.Thresholds.InjectionFlag, def.InjectionFlag)
	fix("jailbreak", &out.Thresholds.Jailbreak, def.Jailbreak)
	fix("conversation_warn", &out.Thresholds.ConversationWarn, def.ConversationWarn)
	fix("data_leak_block", &out.Thresholds.DataLeakBlock, def.DataLeakBlock)
	fix("data_leak_redact", &out.Thresholds.DataLeakRedact, def.DataLeakRedact)
	fix("toxicity", &out.Thresholds.Toxicity, def.Toxicity)
	fix("toxicity_block", &out.Thresholds.ToxicityBlock, def.ToxicityBlock)
	warnings = append(warnings, out.Thresholds.fixLadders(def)...)

	switch {
	case out.SeverityBreakpoints == (SeverityBreakpoints{}):
		warnings = append(warnings, "severity breakpoints unset, using defaults")
		out.SeverityBreakpoints = DefaultSeverityBreakpoints()
	case !out.SeverityBreakpoints.valid():
		warnings = append(warnings, "severity breakpoints invalid, using defaults")
		out.SeverityBreakpoints = DefaultSeverityBreakpoints()
	}

	var classes []ThreatClass
	for _, cl := range c.EnabledClasses {
		if !cl.Valid() {
			warnings = append(warnings, fmt.Sprintf("unknown threat class %q ignored", cl))
			continue
		}
		if !slices.Contains(classes, cl) {
			classes = append(classes, cl)
		}
	}
	if len(classes) == 0 {
		classes = slices.Clone(AllClasses)
	}
	out.EnabledClasses = canonicalOrder(classes)

	if out.EvidenceSampleLength <= 0 {
		out.EvidenceSampleLength = DefaultEvidenceSampleLength
	}
	if out.MaxEvidence <= 0 {
		out.MaxEvidence = DefaultMaxEvidence
	}
	if out.DetectorTimeout <= 0 {
		out.DetectorTimeout = DefaultDetectorTimeout
	}
	if out.Actions.SanitizeReplacement == "" {
		out.Actions.SanitizeReplacement = DefaultSanitizeReplacement
	}
	if out.Actions.BlockMessage == "" {
		out.Actions.BlockMessage = DefaultBlockMessage
	}

	out.Exemptions = Exemptions{
		Users:     slices.Clone(c.Exemptions.Users),
		Roles:     slices.Clone(c.Exemptions.Roles),
		Endpoints: slices.Clone(c.Exemptions.Endpoints),
		Models:    slices.Clone(c.Exemptions.Models),
	}
	return out, warnings
}

// fixLadders resets any ladder whose tiers are out of order.
// Injection and data-leak tiers must strictly increase toward block.
func (t *Thresholds) fixLadders(def Thresholds) []string {
	var warnings []string
	if !(t.InjectionFlag < t.InjectionSanitize && t.InjectionSanitize < t.Injection) {
		warnings = append(warnings, fmt.Sprintf(
			"injection ladder flag=%v sanitize=%v block=%v not increasing, using defaults",
			t.InjectionFlag, t.InjectionSanitize, t.Injection))
		t.InjectionFlag, t.InjectionSanitize, t.Injection = def.InjectionFlag, def.InjectionSanitize, def.Injection
	}
	if !(t.DataLeakRedact < t.DataLeakBlock) {
		warnings = append(warnings, fmt.Sprintf(
			"data leak ladder redact=%v block=%v not increasing, using defaults", t.DataLeakRedact, t.DataLeakBlock))
		t.DataLeakRedact, t.DataLeakBlock = def.DataLeakRedact, def.DataLeakBlock
	}
	if t.Toxicity > t.ToxicityBlock {
		warnings = append(warnings, fmt.Sprintf(
			"toxicity flag=%v above block=%v, using defaults", t.Toxicity, t.ToxicityBlock))
		t.Toxicity, t.ToxicityBlock = def.Toxicity, def.ToxicityBlock
	}
	return warnings
}

// canonicalOrder sorts classes into AllClasses order.
func canonicalOrder(classes []ThreatClass) []ThreatClass {
	out := make([]ThreatClass, 0, len(classes))
	for _, c := range AllClasses {
		if slices.Contains(classes, c) {
			out = append(out, c)
		}
	}
	return out
}
