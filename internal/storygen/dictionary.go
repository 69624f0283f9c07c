package storygen

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var wordPattern = regexp.MustCompile(`[A-Za-z]+`)

// placeholderWords appear inside tokens that are still unresolved when word
// transforms run, so dictionaries must never rewrite them.
var placeholderWords = map[string]struct{}{
	"main":      {},
	"character": {},
	"setting":   {},
	"details":   {},
}

// WordMap rewrites whole words using a fixed dictionary. Matching is case
// insensitive and the replacement follows the casing of the matched word.
// A single Apply never feeds a replacement back into another rule, and
// applying the same map twice yields the same text as applying it once.
type WordMap struct {
	name    string
	entries map[string]string
}

func newWordMap(name string, raw map[string]string) (*WordMap, error) {
	entries := make(map[string]string, len(raw))
	for key, value := range raw {
		k := strings.ToLower(strings.TrimSpace(key))
		v := strings.TrimSpace(value)
		if k == "" || v == "" {
			return nil, &ConfigurationError{Pool: "dictionaries." + name, Reason: "blank entry"}
		}
		if !wordPattern.MatchString(k) || wordPattern.FindString(k) != k {
			return nil, &ConfigurationError{Pool: "dictionaries." + name, Reason: fmt.Sprintf("key %q is not a single word", key)}
		}
		if _, reserved := placeholderWords[k]; reserved {
			return nil, &ConfigurationError{Pool: "dictionaries." + name, Reason: fmt.Sprintf("key %q collides with a placeholder", key)}
		}
		entries[k] = v
	}

	for key, value := range entries {
		for i, word := range wordPattern.FindAllString(strings.ToLower(value), -1) {
			if i == 0 && word == key {
				continue
			}
			if _, chained := entries[word]; chained {
				return nil, &ConfigurationError{
					Pool:   "dictionaries." + name,
					Reason: fmt.Sprintf("replacement for %q contains rewritable word %q", key, word),
				}
			}
		}
	}
	return &WordMap{name: name, entries: entries}, nil
}

// Len reports the number of dictionary entries.
func (m *WordMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns the dictionary keys in sorted order.
func (m *WordMap) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply rewrites every dictionary word in text.
func (m *WordMap) Apply(text string) string {
	if m == nil || len(m.entries) == 0 || text == "" {
		return text
	}
	matches := wordPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + len(text)/8)
	last := 0
	for _, loc := range matches {
		word := text[loc[0]:loc[1]]
		key := strings.ToLower(word)
		repl, ok := m.entries[key]
		if !ok {
			continue
		}
		if suffix, extends := strings.CutPrefix(repl, key); extends && suffix != "" {
			if strings.HasPrefix(strings.ToLower(text[loc[1]:]), strings.ToLower(suffix)) {
				continue
			}
		}
		b.WriteString(text[last:loc[0]])
		b.WriteString(matchCase(word, repl))
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func matchCase(original, replacement string) string {
	if original == "" || replacement == "" {
		return replacement
	}
	if utf8.RuneCountInString(original) > 1 && strings.ToUpper(original) == original {
		return strings.ToUpper(replacement)
	}
	first, _ := utf8.DecodeRuneInString(original)
	if unicode.IsUpper(first) {
		r, size := utf8.DecodeRuneInString(replacement)
		return string(unicode.ToUpper(r)) + replacement[size:]
	}
	return replacement
}
