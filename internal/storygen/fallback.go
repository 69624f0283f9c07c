package storygen

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kidsdream/api/internal/domain"
)

// FallbackStory is served when the corpus cannot produce a story. It never fails.
func FallbackStory(prompt domain.StoryPrompt) domain.GeneratedStory {
	character := strings.TrimSpace(prompt.MainCharacter)
	if character == "" {
		character = "a brave little dreamer"
	}
	setting := strings.TrimSpace(prompt.Setting)
	if setting == "" {
		setting = "a faraway land"
	}
	theme := strings.ToLower(strings.TrimSpace(prompt.Theme))
	if theme == "" {
		theme = "adventure"
	}

	paragraphs := []string{
		fmt.Sprintf("Once upon a time, there was %s who lived in %s.", character, setting),
		fmt.Sprintf("%s loved stories about %s, and every day was full of wonder.", upperFirst(character), theme),
		"One day, something magical happened, and it was the start of a brand new adventure.",
	}
	if details := cleanDetails(prompt.AdditionalDetails); details != "" {
		paragraphs = append(paragraphs, fmt.Sprintf("What made this adventure even more special was %s.", details))
	}
	return domain.GeneratedStory{
		Title:   fmt.Sprintf("The %s of %s", DisplayTheme(theme), character),
		Content: strings.Join(paragraphs, paragraphBreak),
	}
}

func upperFirst(value string) string {
	r, size := utf8.DecodeRuneInString(value)
	if r == utf8.RuneError {
		return value
	}
	return string(unicode.ToUpper(r)) + value[size:]
}
