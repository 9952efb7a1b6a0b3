package safety

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"
)

// Sensitivity 控制注入检测的严格程度。
type Sensitivity int

const (
	SensitivityLow Sensitivity = iota
	SensitivityMedium
	SensitivityHigh
)

// ParseSensitivity maps "low"/"medium"/"high"; anything else yields medium.
func ParseSensitivity(raw string) Sensitivity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return SensitivityLow
	case "high":
		return SensitivityHigh
	default:
		return SensitivityMedium
	}
}

// Category 标识注入手法。
type Category string

const (
	CategoryOverride  Category = "instruction_override"
	CategoryRole      Category = "role_hijacking"
	CategoryDelimiter Category = "delimiter_injection"
	CategoryEncoding  Category = "encoding_attack"
	CategoryJailbreak Category = "jailbreak"
	CategoryHomoglyph Category = "mixed_script"
	CategoryKeyword   Category = "tampering_keyword"
)

type injectionPattern struct {
	re       *regexp.Regexp
	category Category
	weight   float64
	name     string
	minLevel Sensitivity
}

var injectionPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(the\s+)?(previous|prior|above)\s+(instructions?|rules)`), CategoryOverride, 1.0, "ignore previous instructions", SensitivityLow},
	{regexp.MustCompile(`(?i)disregard\s+(your\s+|all\s+|the\s+)?(instructions?|rules)`), CategoryOverride, 1.0, "disregard instructions", SensitivityLow},
	{regexp.MustCompile(`(?i)forget\s+(everything|all\s+(your\s+)?rules|your\s+instructions?)`), CategoryOverride, 1.0, "forget instructions", SensitivityLow},
	{regexp.MustCompile(`(?i)override\s+(your\s+)?(system|instructions?|programming)`), CategoryOverride, 0.9, "override system", SensitivityLow},
	{regexp.MustCompile(`(?i)(reveal|print|show|repeat)\s+(me\s+)?(your\s+|the\s+)?(system\s+prompt|hidden\s+instructions?|initial\s+prompt)`), CategoryOverride, 0.9, "prompt extraction", SensitivityLow},
	{regexp.MustCompile(`(?i)new\s+instructions?\s*:`), CategoryOverride, 0.7, "new instructions", SensitivityMedium},

	{regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+`), CategoryRole, 1.0, "you are now", SensitivityLow},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`), CategoryRole, 0.9, "pretend to be", SensitivityLow},
	{regexp.MustCompile(`(?i)\bact\s+as\s+(if|though|an?)\b`), CategoryRole, 0.8, "act as", SensitivityMedium},
	{regexp.MustCompile(`(?i)roleplay\s+as`), CategoryRole, 0.7, "roleplay as", SensitivityMedium},
	{regexp.MustCompile(`(?i)imagine\s+you\s+are\s+(not|an?\s+unrestricted)`), CategoryRole, 0.6, "imagine you are", SensitivityHigh},

	{regexp.MustCompile(`(?im)^\s*system\s*:`), CategoryDelimiter, 1.0, "system: prefix", SensitivityLow},
	{regexp.MustCompile(`(?i)\[/?INST\]`), CategoryDelimiter, 1.0, "[INST] tag", SensitivityLow},
	{regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant)`), CategoryDelimiter, 0.9, "### delimiter", SensitivityLow},
	{regexp.MustCompile(`<\|?(system|user|assistant|im_start|im_end)\|?>`), CategoryDelimiter, 1.0, "chat template tag", SensitivityLow},
	{regexp.MustCompile(`(?i)</?system>`), CategoryDelimiter, 0.9, "<system> tag", SensitivityLow},

	{regexp.MustCompile(`(?i)\bDAN\s+(mode|prompt)`), CategoryJailbreak, 0.9, "DAN jailbreak", SensitivityLow},
	{regexp.MustCompile(`(?i)jail\s*break`), CategoryJailbreak, 0.8, "jailbreak keyword", SensitivityLow},
	{regexp.MustCompile(`(?i)developer\s+mode`), CategoryJailbreak, 0.7, "developer mode", SensitivityMedium},
	{regexp.MustCompile(`(?i)bypass\s+(your\s+|the\s+)?(filters?|restrictions?|safety|rules)`), CategoryJailbreak, 0.9, "bypass filters", SensitivityLow},
}

var (
	whitespaceRun = regexp.MustCompile(`[ \t]+`)
	base64Run     = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)
)

// maxBase64Candidates bounds how many encoded runs are decoded per check.
const maxBase64Candidates = 10

// Detection 描述一次注入检测结果。
type Detection struct {
	Detected   bool
	Confidence float64
	Category   Category
	Matched    []string
}

// InjectionDetector recognises attempts to manipulate the assistant's instructions.
type InjectionDetector struct {
	sensitivity Sensitivity
}

// NewInjectionDetector creates a detector at the given sensitivity.
func NewInjectionDetector(sensitivity Sensitivity) *InjectionDetector {
	return &InjectionDetector{sensitivity: sensitivity}
}

// Detect inspects input for injection attempts.
func (d *InjectionDetector) Detect(input string) Detection {
	if strings.TrimSpace(input) == "" {
		return Detection{}
	}
	// 整条消息都要检查，填充文本不能把注入挤出检测范围。
	if res := d.detectEncoded(input); res.Detected {
		return res
	}
	if d.sensitivity >= SensitivityMedium {
		if res := detectMixedScript(input); res.Detected {
			return res
		}
	}

	return d.matchPatterns(normalizeInput(input))
}

func (d *InjectionDetector) matchPatterns(text string) Detection {
	var res Detection
	for _, p := range injectionPatterns {
		if p.minLevel > d.sensitivity {
			continue
		}
		if !p.re.MatchString(text) {
			continue
		}
		res.Matched = append(res.Matched, p.name)
		if p.weight > res.Confidence {
			res.Confidence = p.weight
			res.Category = p.category
		}
	}
	if len(res.Matched) == 0 {
		return Detection{}
	}
	res.Detected = true
	if n := len(res.Matched); n > 1 {
		res.Confidence = min(1.0, res.Confidence+0.1*float64(n-1))
	}
	return res
}

func (d *InjectionDetector) detectEncoded(input string) Detection {
	for _, run := range base64Run.FindAllString(input, maxBase64Candidates) {
		decoded, err := base64.StdEncoding.DecodeString(run)
		if err != nil {
			continue
		}
		inner := d.matchPatterns(normalizeInput(string(decoded)))
		if !inner.Detected {
			continue
		}
		return Detection{
			Detected:   true,
			Confidence: 0.95,
			Category:   CategoryEncoding,
			Matched:    prefixAll("base64: ", inner.Matched),
		}
	}
	return Detection{}
}

// detectMixedScript flags words that mix Latin letters with Cyrillic or Greek
// look-alikes. Words written entirely in one script (Russian text, say) pass.
func detectMixedScript(input string) Detection {
	words := strings.FieldsFunc(input, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, word := range words {
		var latin, lookalike bool
		for _, r := range word {
			switch {
			case unicode.Is(unicode.Latin, r):
				latin = true
			case unicode.Is(unicode.Cyrillic, r), unicode.Is(unicode.Greek, r):
				lookalike = true
			}
		}
		if latin && lookalike {
			return Detection{
				Detected:   true,
				Confidence: 0.8,
				Category:   CategoryHomoglyph,
				Matched:    []string{"mixed script word"},
			}
		}
	}
	return Detection{}
}

// normalizeInput drops zero-width characters and collapses horizontal whitespace.
func normalizeInput(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u00AD', '\u2060':
			continue
		}
		b.WriteRune(r)
	}
	return whitespaceRun.ReplaceAllString(b.String(), " ")
}

func prefixAll(prefix string, items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = prefix + item
	}
	return out
}
