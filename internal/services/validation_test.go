package services

import (
	"errors"
	"strings"
	"testing"

	domain "github.com/kidsdream/api/internal/domain"
)

func TestValidatePromptNormalizesInput(t *testing.T) {
	prompt, err := ValidatePrompt(StoryPrompt{
		MainCharacter:     "  <b>Luna</b>   the fox ",
		AgeGroup:          " 6-8 ",
		Setting:           "a   snowy\nmountain",
		Theme:             " Courage ",
		AdditionalDetails: "Loves <script>alert(1)</script>berries &amp; honey",
	})
	if err != nil {
		t.Fatalf("ValidatePrompt: %v", err)
	}
	if prompt.MainCharacter != "Luna the fox" {
		t.Fatalf("unexpected character %q", prompt.MainCharacter)
	}
	if prompt.AgeGroup != domain.AgeGroupEarly {
		t.Fatalf("unexpected age group %q", prompt.AgeGroup)
	}
	if prompt.Setting != "a snowy mountain" {
		t.Fatalf("unexpected setting %q", prompt.Setting)
	}
	if prompt.Theme != "courage" {
		t.Fatalf("expected lowercased theme, got %q", prompt.Theme)
	}
	if strings.Contains(prompt.AdditionalDetails, "<") || !strings.Contains(prompt.AdditionalDetails, "& honey") {
		t.Fatalf("unexpected details %q", prompt.AdditionalDetails)
	}
}

func TestValidatePromptDropsEncodedMarkup(t *testing.T) {
	prompt, err := ValidatePrompt(StoryPrompt{
		MainCharacter:     "&lt;b&gt;Luna&lt;/b&gt;",
		AgeGroup:          "6-8",
		Setting:           "Tom &amp; Jerry's &lt;i&gt;garden",
		Theme:             "courage",
		AdditionalDetails: "&lt;script&gt;alert(1)&lt;/script&gt;a kite",
	})
	if err != nil {
		t.Fatalf("ValidatePrompt: %v", err)
	}
	if prompt.MainCharacter != "Luna" {
		t.Fatalf("unexpected character %q", prompt.MainCharacter)
	}
	if prompt.Setting != "Tom & Jerry's garden" {
		t.Fatalf("unexpected setting %q", prompt.Setting)
	}
	if strings.ContainsAny(prompt.AdditionalDetails, "<>") || !strings.Contains(prompt.AdditionalDetails, "a kite") {
		t.Fatalf("unexpected details %q", prompt.AdditionalDetails)
	}
}

func TestValidatePromptReportsFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*StoryPrompt)
		field  string
		reason string
	}{
		{"missing character", func(p *StoryPrompt) { p.MainCharacter = "   " }, "main_character", "is required"},
		{"markup only", func(p *StoryPrompt) { p.Setting = "<i></i>" }, "setting", "is required"},
		{"long character", func(p *StoryPrompt) { p.MainCharacter = strings.Repeat("a", 81) }, "main_character", "must be at most 80 characters"},
		{"braces", func(p *StoryPrompt) { p.Setting = "a {castle}" }, "setting", "must not contain braces"},
		{"age group", func(p *StoryPrompt) { p.AgeGroup = "13-15" }, "age_group", "must be one of 3-5, 6-8, 9-12"},
		{"long details", func(p *StoryPrompt) { p.AdditionalDetails = strings.Repeat("b", 501) }, "additional_details", "must be at most 500 characters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prompt := validPrompt()
			tc.mutate(&prompt)
			_, err := ValidatePrompt(prompt)
			if !errors.Is(err, ErrStoryInvalidInput) {
				t.Fatalf("expected ErrStoryInvalidInput, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || len(verr.Fields) != 1 {
				t.Fatalf("expected a single field error, got %v", err)
			}
			if verr.Fields[0].Field != tc.field || verr.Fields[0].Reason != tc.reason {
				t.Fatalf("unexpected field error %+v", verr.Fields[0])
			}
		})
	}
}

func TestValidatePromptAcceptsUnknownTheme(t *testing.T) {
	prompt := validPrompt()
	prompt.Theme = "dinosaurs"
	if _, err := ValidatePrompt(prompt); err != nil {
		t.Fatalf("expected free-form theme to be accepted, got %v", err)
	}
}
