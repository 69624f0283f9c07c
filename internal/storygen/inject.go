package storygen

import (
	"math"
	"strings"

	"github.com/kidsdream/api/internal/domain"
)

const (
	firstWindowStart  = 0.3
	firstWindowEnd    = 0.7
	secondWindowStart = 0.75
	secondWindowEnd   = 1.0

	minSentencesForSecondInsert = 4
)

type sentence struct {
	text string
	sep  string
}

// splitSentences cuts text after terminal punctuation followed by whitespace.
// Each sentence keeps the whitespace that followed it, so joining the parts
// reproduces the input exactly.
func splitSentences(text string) []sentence {
	var out []sentence
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
		default:
			continue
		}
		end := i + 1
		if end < len(text) && text[end] == '"' {
			end++
		}
		ws := end
		for ws < len(text) && isSpace(text[ws]) {
			ws++
		}
		if ws == end {
			continue
		}
		out = append(out, sentence{text: text[start:end], sep: text[end:ws]})
		start = ws
		i = ws - 1
	}
	if start < len(text) {
		out = append(out, sentence{text: text[start:]})
	}
	return out
}

func joinSentences(parts []sentence) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.text)
		b.WriteString(p.sep)
	}
	return b.String()
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t' || ch == '\r'
}

// insertSentence places text before parts[idx]. idx is clamped to [0, len(parts)].
func insertSentence(parts []sentence, idx int, text string) []sentence {
	idx = clamp(idx, 0, len(parts))
	sep := " "
	if idx > 0 && parts[idx-1].sep != "" {
		sep = parts[idx-1].sep
	}
	out := make([]sentence, 0, len(parts)+1)
	out = append(out, parts[:idx]...)
	if idx == len(parts) {
		if idx > 0 {
			out[idx-1].sep = sep
		}
		sep = ""
	}
	out = append(out, sentence{text: text, sep: sep})
	return append(out, parts[idx:]...)
}

// windowIndex draws an index between start and end of n sentences, clamped to [0, n].
func windowIndex(src RandomSource, n int, start, end float64, ceilStart bool) int {
	lo := int(math.Floor(start * float64(n)))
	if ceilStart {
		lo = int(math.Ceil(start * float64(n)))
	}
	hi := int(math.Floor(end * float64(n)))
	lo = clamp(lo, 0, n)
	hi = clamp(hi, lo, n)
	return clamp(lo+pick(src, hi-lo+1), 0, n)
}

// insertionIndices computes where premium detail sentences go for n sentences.
// Indices are ascending and each lies in [0, n].
func insertionIndices(src RandomSource, n int) []int {
	if n < 0 {
		n = 0
	}
	first := windowIndex(src, n, firstWindowStart, firstWindowEnd, false)
	indices := []int{first}
	if n >= minSentencesForSecondInsert {
		second := windowIndex(src, n, secondWindowStart, secondWindowEnd, true)
		if second <= first {
			second = first + 1
		}
		indices = append(indices, clamp(second, 0, n))
	}
	return indices
}

// cleanDetails trims whitespace and trailing terminal punctuation so frames
// can supply their own.
func cleanDetails(details string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(details), ".!?"))
}

// injectDetails substitutes the prompt into template text and weaves the
// prompt's additional details into it. Sentence boundaries are taken from the
// template before substitution, so punctuation inside a name or setting never
// starts a new sentence. Blank details consume no randomness.
func (c *Corpus) injectDetails(src RandomSource, text string, prompt domain.StoryPrompt, tier domain.Tier) (string, error) {
	details := cleanDetails(prompt.AdditionalDetails)
	if details == "" {
		return SubstitutePrompt(text, prompt), nil
	}
	frames, err := c.framePool(tier)
	if err != nil {
		return "", err
	}
	render := strings.NewReplacer(
		"{details}", details,
		"{main_character}", prompt.MainCharacter,
		"{setting}", prompt.Setting,
	)

	if tier != domain.TierPremium {
		frame, err := PickOne(src, frames)
		if err != nil {
			return "", err
		}
		if text == "" {
			return render.Replace(frame), nil
		}
		return SubstitutePrompt(text, prompt) + paragraphBreak + render.Replace(frame), nil
	}

	parts := splitSentences(text)
	for i := range parts {
		parts[i].text = SubstitutePrompt(parts[i].text, prompt)
	}
	indices := insertionIndices(src, len(parts))
	chosen, err := PickMany(src, frames, len(indices))
	if err != nil {
		return "", err
	}
	for i := len(indices) - 1; i >= 0; i-- {
		frame := chosen[i%len(chosen)]
		parts = insertSentence(parts, indices[i], render.Replace(frame))
	}
	return joinSentences(parts), nil
}
