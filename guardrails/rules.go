package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"github.com/E4Itraining/AIOBS-sub000/types"
)

// Rule 检测规则
// Pattern is compiled with Go's RE2 engine, so matching time is linear in
// the input length regardless of the pattern.
type Rule struct {
	ID          string   `yaml:"id" json:"id"`
	Technique   string   `yaml:"technique" json:"technique"`
	Pattern     string   `yaml:"pattern" json:"pattern"`
	Confidence  float64  `yaml:"confidence" json:"confidence"`
	Category    string   `yaml:"category,omitempty" json:"category,omitempty"`
	Kind        LeakKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Detector is a capability that finds signals of one threat class.
// Implementations must be safe for concurrent use.
type Detector interface {
	Class() ThreatClass
	Name() string
	Detect(ctx context.Context, text string) ([]Finding, error)
}

// PatternDetector matches an ordered list of regex rules.
type PatternDetector struct {
	class ThreatClass
	name  string
	rules []compiledRule
	byID  map[string]*compiledRule
}

// NewPatternDetector compiles every rule eagerly. Any invalid rule fails the
// whole detector with ErrInvalidRule.
func NewPatternDetector(class ThreatClass, name string, rules []Rule) (*PatternDetector, error) {
	if !class.Valid() {
		return nil, types.NewError(types.ErrInvalidRule, fmt.Sprintf("detector %q: unknown class %q", name, class))
	}
	d := &PatternDetector{
		class: class,
		name:  name,
		rules: make([]compiledRule, 0, len(rules)),
		byID:  make(map[string]*compiledRule, len(rules)),
	}
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, types.NewError(types.ErrInvalidRule,
				fmt.Sprintf("detector %q rule #%d (%s)", name, i, r.ID)).WithCause(err)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRule,
				fmt.Sprintf("detector %q rule %s: invalid pattern", name, r.ID)).WithCause(err)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, types.NewError(types.ErrInvalidRule,
				fmt.Sprintf("detector %q: duplicate rule id %s", name, r.ID))
		}
		seen[r.ID] = struct{}{}
		d.rules = append(d.rules, compiledRule{Rule: r, re: re})
	}
	for i := range d.rules {
		d.byID[d.rules[i].ID] = &d.rules[i]
	}
	return d, nil
}

// MustPatternDetector is like NewPatternDetector but panics on error. It is
// meant for built-in rule sets only.
func MustPatternDetector(class ThreatClass, name string, rules []Rule) *PatternDetector {
	d, err := NewPatternDetector(class, name, rules)
	if err != nil {
		panic(err)
	}
	return d
}

func validateRule(r Rule) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("empty rule id")
	case r.Technique == "":
		return fmt.Errorf("empty technique")
	case r.Pattern == "":
		return fmt.Errorf("empty pattern")
	case !inUnitRange(r.Confidence):
		return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
	}
	return nil
}

// Class returns the threat class the detector reports on.
func (d *PatternDetector) Class() ThreatClass { return d.class }

// Name returns the detector name.
func (d *PatternDetector) Name() string { return d.name }

// Rules returns a copy of the rule list in registration order.
func (d *PatternDetector) Rules() []Rule {
	out := make([]Rule, len(d.rules))
	for i, r := range d.rules {
		out[i] = r.Rule
	}
	return out
}

// Rule looks up a rule by id.
func (d *PatternDetector) Rule(id string) (Rule, bool) {
	r, ok := d.byID[id]
	if !ok {
		return Rule{}, false
	}
	return r.Rule, true
}

// Detect runs every rule in order and returns one Finding per match. Severity
// is filled with the default breakpoints; Evidence holds the full match.
func (d *PatternDetector) Detect(ctx context.Context, text string) ([]Finding, error) {
	if text == "" {
		return nil, nil
	}
	bp := DefaultSeverityBreakpoints()
	var findings []Finding
	for _, r := range d.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			findings = append(findings, Finding{
				Class:       d.class,
				RuleID:      r.ID,
				Technique:   r.Technique,
				Confidence:  r.Confidence,
				Spans:       []Span{{Start: loc[0], End: loc[1]}},
				Explanation: r.Description,
				Severity:    bp.Classify(r.Confidence),
				Evidence:    text[loc[0]:loc[1]],
			})
		}
	}
	return findings, nil
}

// Matches reports whether any rule matches text.
func (d *PatternDetector) Matches(text string) bool {
	for _, r := range d.rules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}

// ============================================================
// Registry
// ============================================================

// Registry holds ordered detectors per threat class. It is written during
// setup and read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	detectors map[ThreatClass][]Detector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[ThreatClass][]Detector)}
}

// Register appends d to its class. Detectors of a class run in registration order.
func (r *Registry) Register(d Detector) error {
	if d == nil {
		return types.NewError(types.ErrInvalidRule, "nil detector")
	}
	if !d.Class().Valid() {
		return types.NewError(types.ErrInvalidRule, fmt.Sprintf("detector %q: unknown class %q", d.Name(), d.Class()))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.detectors[d.Class()] {
		if existing.Name() == d.Name() {
			return types.NewError(types.ErrInvalidRule, fmt.Sprintf("detector %q already registered for %s", d.Name(), d.Class()))
		}
	}
	r.detectors[d.Class()] = append(r.detectors[d.Class()], d)
	return nil
}

// Detectors returns a copy of the detectors registered for class.
func (r *Registry) Detectors(class ThreatClass) []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.detectors[class])
}

// Classes returns the classes with at least one detector, in canonical order.
func (r *Registry) Classes() []ThreatClass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ThreatClass
	for _, c := range AllClasses {
		if len(r.detectors[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Detect runs every detector of class and concatenates their findings.
func (r *Registry) Detect(ctx context.Context, class ThreatClass, text string) ([]Finding, error) {
	var out []Finding
	for _, d := range r.Detectors(class) {
		findings, err := d.Detect(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", d.Name(), err)
		}
		out = append(out, findings...)
	}
	return out, nil
}

// NewDefaultRegistry loads every built-in rule set.
func NewDefaultRegistry() (*Registry, error) {
	builders := []func() (*PatternDetector, error){
		NewInjectionDetector,
		NewJailbreakDetector,
		NewPIIDetector,
		NewSecretDetector,
		NewToxicityDetector,
		NewBiasDetector,
	}
	reg := NewRegistry()
	for _, build := range builders {
		d, err := build()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
