// Package safety 对用户输入做启发式安全判定。
package safety

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
)

// Decision 是启发式判定结果。
type Decision struct {
	Status     chat.SafetyStatus
	Category   Category
	Confidence float64
	Matches    []string
}

// Reason renders a short explanation suitable for logs.
func (d Decision) Reason() string {
	if len(d.Matches) == 0 {
		return ""
	}
	if d.Category != "" {
		return fmt.Sprintf("%s: %s", d.Category, strings.Join(d.Matches, ", "))
	}
	return strings.Join(d.Matches, ", ")
}

// Analyzer combines the keyword lists with the injection detector.
type Analyzer struct {
	words    WordList
	detector *InjectionDetector
}

// NewAnalyzer builds an Analyzer. Word lists are normalized on construction.
func NewAnalyzer(words WordList, sensitivity Sensitivity) *Analyzer {
	return &Analyzer{
		words: WordList{
			Unsafe:    normalizeWords(words.Unsafe),
			Tampering: normalizeWords(words.Tampering),
		},
		detector: NewInjectionDetector(sensitivity),
	}
}

// NewDefaultAnalyzer uses the built-in lists at medium sensitivity.
func NewDefaultAnalyzer() *Analyzer {
	return NewAnalyzer(DefaultWordList(), SensitivityMedium)
}

// Analyze classifies text. Tampering outranks unsafe language.
func (a *Analyzer) Analyze(text string) Decision {
	if strings.TrimSpace(text) == "" {
		return Decision{Status: chat.SafetySafe}
	}

	if det := a.detector.Detect(text); det.Detected {
		return Decision{
			Status:     chat.SafetyTampering,
			Category:   det.Category,
			Confidence: det.Confidence,
			Matches:    det.Matched,
		}
	}

	tokens := tokenize(text)
	if hits := matchWords(tokens, a.words.Tampering); len(hits) > 0 {
		return Decision{
			Status:     chat.SafetyTampering,
			Category:   CategoryKeyword,
			Confidence: 0.7,
			Matches:    hits,
		}
	}

	if hits := matchWords(tokens, a.words.Unsafe); len(hits) > 0 {
		confidence := 0.6 + 0.1*float64(len(hits)-1)
		if confidence > 1 {
			confidence = 1
		}
		return Decision{
			Status:     chat.SafetyUnsafe,
			Confidence: confidence,
			Matches:    hits,
		}
	}

	return Decision{Status: chat.SafetySafe}
}
