package storygen

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kidsdream/api/internal/domain"
)

// titleCaser returns a fresh caser; cases.Caser keeps state and must not be shared.
func titleCaser() cases.Caser {
	return cases.Title(language.English)
}

// DisplayTheme renders a theme the way titles show it, e.g. "fairy-tale" becomes "Fairy-Tale".
func DisplayTheme(theme string) string {
	return titleCaser().String(strings.TrimSpace(theme))
}

func (c *Corpus) title(src RandomSource, prompt domain.StoryPrompt, tier domain.Tier) (string, error) {
	pool, err := c.titlePool(tier)
	if err != nil {
		return "", err
	}
	tmpl, err := PickOne(src, pool)
	if err != nil {
		return "", err
	}
	theme := strings.TrimSpace(prompt.Theme)
	if theme == "" {
		theme = c.defaultTheme
	}
	return strings.NewReplacer(
		"{main_character}", prompt.MainCharacter,
		"{setting}", prompt.Setting,
		"{Theme}", DisplayTheme(theme),
	).Replace(tmpl), nil
}
