package services

import (
	"errors"
	"fmt"
	"html"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	domain "github.com/kidsdream/api/internal/domain"
)

// FieldError names one rejected prompt field.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError lists every field that failed validation. It matches ErrStoryInvalidInput.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrStoryInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrStoryInvalidInput, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrStoryInvalidInput }

var (
	validateOnce   sync.Once
	promptValidate *validator.Validate
	stripTags      = bluemonday.StrictPolicy()
)

func promptValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
		_ = v.RegisterValidation("nobraces", func(fl validator.FieldLevel) bool {
			return !strings.ContainsAny(fl.Field().String(), "{}")
		})
		promptValidate = v
	})
	return promptValidate
}

// ValidatePrompt normalises a prompt and checks it against the StoryPrompt rules.
// Markup is stripped before length checks so tags cannot smuggle placeholders.
func ValidatePrompt(prompt StoryPrompt) (StoryPrompt, error) {
	normalized := StoryPrompt{
		MainCharacter:     cleanText(prompt.MainCharacter),
		AgeGroup:          domain.AgeGroup(strings.TrimSpace(string(prompt.AgeGroup))),
		Setting:           cleanText(prompt.Setting),
		Theme:             strings.ToLower(cleanText(prompt.Theme)),
		AdditionalDetails: cleanText(prompt.AdditionalDetails),
	}

	err := promptValidator().Struct(normalized)
	if err == nil {
		return normalized, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return StoryPrompt{}, fmt.Errorf("%w: %v", ErrStoryInvalidInput, err)
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Reason: reasonFor(fe)})
	}
	return StoryPrompt{}, out
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "nobraces":
		return "must not contain braces"
	default:
		return "is invalid"
	}
}

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// cleanText decodes entities before stripping markup so encoded tags cannot
// survive as literal tags.
func cleanText(value string) string {
	stripped := html.UnescapeString(stripTags.Sanitize(html.UnescapeString(value)))
	return strings.Join(strings.Fields(angleBrackets.Replace(stripped)), " ")
}
