package storygen

import (
	"regexp"
	"strings"

	"github.com/kidsdream/api/internal/domain"
)

const paragraphBreak = "\n\n"

var sentenceGap = regexp.MustCompile(`([.!?]"?)[ \t]+`)

func (el elements) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{companion}", el.companion,
		"{obstacles}", joinList(el.obstacles),
		"{discovery}", el.discovery,
		"{plot_twist}", el.plotTwist,
		"{character_arc}", el.characterArc,
		"{atmosphere}", el.atmosphere,
		"{time}", el.time,
		"{weather}", el.weather,
		"{sound}", el.sound,
		"{scent}", el.scent,
	)
}

// joinList renders items as an English list: "a", "a and b", "a, b, and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

// assemble picks one template per beat, fills variation tokens and joins the
// beats into paragraphs. Prompt placeholders are left in place.
func (c *Corpus) assemble(src RandomSource, theme string, tier domain.Tier, structure Structure, el elements) (string, error) {
	fill := el.replacer()
	paragraphs := make([]string, 0, len(structure.Beats))
	for _, beat := range structure.Beats {
		pool, err := c.pool(theme, tier, beat)
		if err != nil {
			return "", err
		}
		tmpl, err := PickOne(src, pool)
		if err != nil {
			return "", err
		}
		paragraph := fill.Replace(tmpl)
		if tier == domain.TierPremium && beat == BeatOpening {
			lines, err := c.atmospherePool()
			if err != nil {
				return "", err
			}
			line, _ := PickOne(src, lines)
			paragraph += " " + fill.Replace(line)
		}
		paragraphs = append(paragraphs, paragraph)
	}
	return strings.Join(paragraphs, paragraphBreak), nil
}

// transformWords applies the age band dictionary and, for premium, the sensory pass.
// It runs before prompt substitution so user supplied names are never rewritten.
func (c *Corpus) transformWords(text string, age domain.AgeGroup, tier domain.Tier) string {
	switch age {
	case domain.AgeGroupPreschool:
		text = c.simplify.Apply(text)
	case domain.AgeGroupMiddle:
		text = c.elevate.Apply(text)
	}
	if tier == domain.TierPremium {
		text = c.sensory.Apply(text)
	}
	return text
}

// SubstitutePrompt replaces every {main_character} and {setting} placeholder.
func SubstitutePrompt(text string, prompt domain.StoryPrompt) string {
	return strings.NewReplacer(
		"{main_character}", prompt.MainCharacter,
		"{setting}", prompt.Setting,
	).Replace(text)
}

// Densify starts a new paragraph after every sentence so early readers get
// short visual chunks. Existing paragraph breaks are kept.
func Densify(text string) string {
	return sentenceGap.ReplaceAllString(text, "$1"+paragraphBreak)
}

// Simplify applies the early reader vocabulary dictionary.
func (c *Corpus) Simplify(text string) string { return c.simplify.Apply(text) }

// Elevate applies the older reader vocabulary dictionary.
func (c *Corpus) Elevate(text string) string { return c.elevate.Apply(text) }

// Sensory applies the premium sensory language pass.
func (c *Corpus) Sensory(text string) string { return c.sensory.Apply(text) }
