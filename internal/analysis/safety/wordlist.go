package safety

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// WordList 是关键词过滤使用的词表。
type WordList struct {
	Unsafe    []string `yaml:"unsafe"`
	Tampering []string `yaml:"tampering"`
}

// DefaultWordList returns the built-in lists.
//
// "haram" and "die" are left out: both occur in ordinary religious questions.
func DefaultWordList() WordList {
	return WordList{
		Unsafe: []string{
			"hate", "violence", "kill",
			"pagal", "kutta", "kamina", "stupid", "idiot",
			"porn", "sex", "terror",
		},
		Tampering: []string{
			"system prompt", "reveal your instructions", "api key",
		},
	}
}

// LoadWordList reads a YAML word list. Missing sections fall back to the defaults.
func LoadWordList(path string) (WordList, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		return WordList{}, fmt.Errorf("read word list: %w", err)
	}

	var list WordList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return WordList{}, fmt.Errorf("parse word list %s: %w", path, err)
	}

	defaults := DefaultWordList()
	if len(list.Unsafe) == 0 {
		list.Unsafe = defaults.Unsafe
	}
	if len(list.Tampering) == 0 {
		list.Tampering = defaults.Tampering
	}
	list.Unsafe = normalizeWords(list.Unsafe)
	list.Tampering = normalizeWords(list.Tampering)
	return list, nil
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Join(tokenize(w), " ")
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
