package chat

import "strings"

// LanguageOriginal 表示展示消息原文。
const LanguageOriginal = "Original"

// SupportedLanguages lists the translation targets offered to users.
var SupportedLanguages = []string{
	"English", "Arabic", "Urdu", "Hindi", "Bengali",
	"Indonesian", "Turkish", "Persian", "Malay",
	"French", "Spanish", "Russian", "Somali", "Swahili",
}

// CanonicalLanguage 返回规范化的语言标签；不支持时返回 false。
func CanonicalLanguage(label string) (string, bool) {
	trimmed := strings.TrimSpace(label)
	if strings.EqualFold(trimmed, LanguageOriginal) {
		return LanguageOriginal, true
	}
	for _, lang := range SupportedLanguages {
		if strings.EqualFold(trimmed, lang) {
			return lang, true
		}
	}
	return "", false
}
