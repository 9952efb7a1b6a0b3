package safety

import (
	"strings"
	"unicode"
)

// inflections are the suffixes a keyword may carry and still match a token.
var inflections = []string{"", "s", "es", "ed", "d", "ing", "er", "ers", "ism", "ist", "ists", "ful"}

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matchWords returns the keywords present in tokens. Single words match whole
// tokens (allowing common inflections) so "skill" does not trigger "kill";
// phrases match consecutive tokens.
func matchWords(tokens []string, words []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	joined := " " + strings.Join(tokens, " ") + " "
	var matches []string
	for _, word := range words {
		if word == "" {
			continue
		}
		if strings.Contains(word, " ") {
			if strings.Contains(joined, " "+word+" ") {
				matches = append(matches, word)
			}
			continue
		}
		for _, tok := range tokens {
			if tokenMatches(tok, word) {
				matches = append(matches, word)
				break
			}
		}
	}
	return matches
}

func tokenMatches(token, word string) bool {
	if !strings.HasPrefix(token, word) {
		return false
	}
	rest := token[len(word):]
	for _, suffix := range inflections {
		if rest == suffix {
			return true
		}
	}
	return false
}
