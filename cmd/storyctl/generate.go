package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/export"
	"github.com/kidsdream/api/internal/services"
	"github.com/kidsdream/api/internal/storygen"
)

const maxGenerateCount = 50

type generateOptions struct {
	prompt  domain.StoryPrompt
	premium bool
	seed    uint64
	count   int
	format  string
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions
	var age string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one or more stories",
		Example: `  storyctl generate --character Luna --setting "an enchanted forest" --theme friendship --age 6-8
  storyctl generate --character Max --setting "a space station" --theme space --age 9-12 --premium --seed 42 --format markdown`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.prompt.AgeGroup = domain.AgeGroup(age)
			corpus, err := loadCorpus()
			if err != nil {
				return err
			}
			engine, err := storygen.NewEngine(corpus)
			if err != nil {
				return err
			}
			return runGenerate(cmd.OutOrStdout(), engine, opts, time.Now().UTC())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.prompt.MainCharacter, "character", "", "main character name (required)")
	flags.StringVar(&opts.prompt.Setting, "setting", "", "where the story takes place (required)")
	flags.StringVar(&opts.prompt.Theme, "theme", "adventure", "story theme; see `storyctl themes`")
	flags.StringVar(&age, "age", string(domain.AgeGroupEarly), "age group: 3-5, 6-8 or 9-12")
	flags.StringVar(&opts.prompt.AdditionalDetails, "details", "", "extra details woven into the story")
	flags.BoolVar(&opts.premium, "premium", false, "use the premium story structures")
	flags.Uint64Var(&opts.seed, "seed", 0, "random seed for reproducible output (0 picks a random seed)")
	flags.IntVar(&opts.count, "count", 1, "number of stories to generate")
	flags.StringVar(&opts.format, "format", string(export.FormatText), "output format: text, json, markdown or html")
	_ = cmd.MarkFlagRequired("character")
	_ = cmd.MarkFlagRequired("setting")
	return cmd
}

func runGenerate(out io.Writer, engine *storygen.Engine, opts generateOptions, now time.Time) error {
	if opts.count < 1 || opts.count > maxGenerateCount {
		return fmt.Errorf("--count must be between 1 and %d", maxGenerateCount)
	}
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	prompt, err := services.ValidatePrompt(opts.prompt)
	if err != nil {
		var validation *services.ValidationError
		if errors.As(err, &validation) {
			reasons := make([]string, 0, len(validation.Fields))
			for _, f := range validation.Fields {
				reasons = append(reasons, flagName(f.Field)+" "+f.Reason)
			}
			return fmt.Errorf("invalid prompt: %s", strings.Join(reasons, "; "))
		}
		return err
	}

	src := storygen.NewRandomSource()
	if opts.seed != 0 {
		src = storygen.NewSeededSource(opts.seed)
	}
	renderer := export.NewRenderer()

	for i := 0; i < opts.count; i++ {
		generated, err := engine.GenerateWith(src, prompt, opts.premium)
		if err != nil {
			var cfgErr *storygen.ConfigurationError
			if !errors.As(err, &cfgErr) {
				return err
			}
			generated = storygen.FallbackStory(prompt)
		}
		story := domain.Story{
			ID:                ulid.Make().String(),
			Title:             generated.Title,
			Content:           generated.Content,
			Theme:             prompt.Theme,
			AgeGroup:          prompt.AgeGroup,
			MainCharacter:     prompt.MainCharacter,
			Setting:           prompt.Setting,
			AdditionalDetails: prompt.AdditionalDetails,
			Tier:              domain.TierFor(opts.premium),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		doc, err := renderer.Render(story, format)
		if err != nil {
			return err
		}
		if i > 0 && format != export.FormatJSON {
			fmt.Fprintln(out, "\n---")
		}
		if _, err := out.Write(doc.Data); err != nil {
			return err
		}
	}
	return nil
}

func loadCorpus() (*storygen.Corpus, error) {
	if path := strings.TrimSpace(corpusPath); path != "" {
		return storygen.LoadCorpusFile(path)
	}
	return storygen.DefaultCorpus()
}

func flagName(field string) string {
	switch field {
	case "main_character":
		return "--character"
	case "setting":
		return "--setting"
	case "theme":
		return "--theme"
	case "age_group":
		return "--age"
	case "additional_details":
		return "--details"
	default:
		return field
	}
}
