package guardrails

// Injection technique families.
const (
	TechniqueInstructionOverride = "instruction-override"
	TechniqueRoleManipulation    = "role-manipulation"
	TechniqueContextManipulation = "context-manipulation"
	TechniqueDelimiterInjection  = "delimiter-injection"
	TechniqueEncodingAttack      = "encoding-attack"
)

// DefaultInjectionRules returns the built-in prompt injection rules in
// registration order. Earlier rules win confidence ties.
func DefaultInjectionRules() []Rule {
	return []Rule{
		// 指令覆盖
		{
			ID:          "ignore-previous",
			Technique:   TechniqueInstructionOverride,
			Pattern:     `(?i)\bignore\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|guidelines?)`,
			Confidence:  0.95,
			Description: "Attempt to ignore previous instructions",
		},
		{
			ID:          "disregard-previous",
			Technique:   TechniqueInstructionOverride,
			Pattern:     `(?i)\bdisregard\s+(all\s+)?(previous|prior|above|earlier|the\s+above)\s*(instructions?|prompts?|rules?|guidelines?)?`,
			Confidence:  0.9,
			Description: "Attempt to disregard instructions",
		},
		{
			ID:          "override-rules",
			Technique:   TechniqueInstructionOverride,
			Pattern:     `(?i)\b(override|bypass)\s+(your|the|all)\s+(instructions?|rules?|guidelines?|restrictions?|safety)`,
			Confidence:  0.9,
			Description: "Attempt to override model rules",
		},
		{
			ID:          "zh-ignore-previous",
			Technique:   TechniqueInstructionOverride,
			Pattern:     `忽略(之前|上面|以上|先前|前面)(的)?(指令|指示|规则|提示|要求)`,
			Confidence:  0.95,
			Description: "尝试忽略之前的指令",
		},
		{
			ID:          "zh-disobey",
			Technique:   TechniqueInstructionOverride,
			Pattern:     `不要(遵守|遵循|听从)(之前|上面|以上|任何)(的)?(指令|指示|规则)?`,
			Confidence:  0.9,
			Description: "尝试让模型不遵守指令",
		},
		// 角色操纵
		{
			ID:          "you-are-now",
			Technique:   TechniqueRoleManipulation,
			Pattern:     `(?i)\byou\s+are\s+now\b`,
			Confidence:  0.8,
			Description: "Attempt to change model role",
		},
		{
			ID:          "pretend",
			Technique:   TechniqueRoleManipulation,
			Pattern:     `(?i)\bpretend\s+(to\s+be|you\s+are)\b`,
			Confidence:  0.75,
			Description: "Attempt to make model pretend",
		},
		{
			ID:          "act-as",
			Technique:   TechniqueRoleManipulation,
			Pattern:     `(?i)\bact\s+as\s+(if\s+you\s+are\s+)?(a|an|the)\b`,
			Confidence:  0.7,
			Description: "Attempt to change model behavior",
		},
		{
			ID:          "zh-you-are-now",
			Technique:   TechniqueRoleManipulation,
			Pattern:     `你现在是(一个|一名)?`,
			Confidence:  0.85,
			Description: "尝试改变模型角色",
		},
		{
			ID:          "zh-roleplay",
			Technique:   TechniqueRoleManipulation,
			Pattern:     `(假装|扮演)(你是)?`,
			Confidence:  0.7,
			Description: "尝试让模型扮演角色",
		},
		// 上下文操纵
		{
			ID:          "reveal-system-prompt",
			Technique:   TechniqueContextManipulation,
			Pattern:     `(?i)\b(reveal|show|print|repeat|output)\s+(me\s+)?(your|the)\s+(system\s+prompt|hidden\s+instructions|initial\s+instructions)`,
			Confidence:  0.8,
			Description: "Attempt to extract the system prompt",
		},
		{
			ID:          "zh-from-now-on",
			Technique:   TechniqueContextManipulation,
			Pattern:     `从现在开始(你是|你要|你将)`,
			Confidence:  0.8,
			Description: "尝试改变模型行为",
		},
		// 分隔符注入
		{
			ID:          "system-role-marker",
			Technique:   TechniqueDelimiterInjection,
			Pattern:     `(?im)^\s*system\s*:`,
			Confidence:  0.85,
			Description: "System role marker injection",
		},
		{
			ID:          "system-tag",
			Technique:   TechniqueDelimiterInjection,
			Pattern:     `(?i)<\s*/?\s*system\s*>`,
			Confidence:  0.85,
			Description: "XML system tag injection",
		},
		{
			ID:          "inst-tag",
			Technique:   TechniqueDelimiterInjection,
			Pattern:     `(?i)\[\s*/?\s*INST\s*\]`,
			Confidence:  0.8,
			Description: "Instruction tag injection",
		},
		{
			ID:          "bracket-escape",
			Technique:   TechniqueDelimiterInjection,
			Pattern:     `(?i)\]\s*\[\s*(system|inst)`,
			Confidence:  0.8,
			Description: "Delimiter escape attempt",
		},
		{
			ID:          "assistant-role-marker",
			Technique:   TechniqueDelimiterInjection,
			Pattern:     `(?im)^\s*assistant\s*:`,
			Confidence:  0.75,
			Description: "Assistant role marker injection",
		},
		{
			ID:          "dash-delimiter",
			Technique:   TechniqueDelimiterInjection,
			Pattern:     `(?i)-{3,}\s*(system|instructions?|rules?)\s*-{3,}`,
			Confidence:  0.75,
			Description: "Delimiter-based injection attempt",
		},
		{
			ID:          "equals-delimiter",
			Technique:   TechniqueDelimiterInjection,
			Pattern:     `(?i)={3,}\s*(system|instructions?|rules?)\s*={3,}`,
			Confidence:  0.75,
			Description: "Delimiter-based injection attempt",
		},
		// 编码攻击
		{
			ID:          "base64-instruction",
			Technique:   TechniqueEncodingAttack,
			Pattern:     `(?i)\b(decode|execute|run|follow)\s+(this|the\s+following)\s+(base64|hex|rot13|encoded)\b`,
			Confidence:  0.7,
			Description: "Instruction hidden behind an encoding",
		},
		{
			ID:          "hex-escape-run",
			Technique:   TechniqueEncodingAttack,
			Pattern:     `(\\x[0-9a-fA-F]{2}){8,}`,
			Confidence:  0.6,
			Description: "Long run of hex escapes",
		},
		{
			ID:          "unicode-escape-run",
			Technique:   TechniqueEncodingAttack,
			Pattern:     `(\\u[0-9a-fA-F]{4}){6,}`,
			Confidence:  0.6,
			Description: "Long run of unicode escapes",
		},
	}
}

// NewInjectionDetector builds the default prompt injection detector.
func NewInjectionDetector() (*PatternDetector, error) {
	return NewPatternDetector(ClassInjection, "injection-patterns", DefaultInjectionRules())
}

// ScoreInjection returns the maximum confidence and the technique of the
// first finding that reached it.
func ScoreInjection(findings []Finding) (float64, string) {
	return maxConfidence(findings)
}

func maxConfidence(findings []Finding) (float64, string) {
	var (
		score     float64
		technique string
	)
	for _, f := range findings {
		if f.Confidence > score {
			score = f.Confidence
			technique = f.Technique
		}
	}
	return score, technique
}
