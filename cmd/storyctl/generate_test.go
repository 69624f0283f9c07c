package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/storygen"
)

var cliNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func testEngine(t *testing.T) *storygen.Engine {
	t.Helper()
	corpus, err := storygen.DefaultCorpus()
	if err != nil {
		t.Fatalf("default corpus: %v", err)
	}
	engine, err := storygen.NewEngine(corpus)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return engine
}

func lunaOptions() generateOptions {
	return generateOptions{
		prompt: domain.StoryPrompt{
			MainCharacter: "Luna",
			Setting:       "an enchanted forest",
			Theme:         "friendship",
			AgeGroup:      domain.AgeGroupEarly,
		},
		seed:   42,
		count:  1,
		format: "text",
	}
}

func TestRunGenerateIsReproducibleWithSeed(t *testing.T) {
	engine := testEngine(t)

	var first, second bytes.Buffer
	if err := runGenerate(&first, engine, lunaOptions(), cliNow); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := runGenerate(&second, engine, lunaOptions(), cliNow); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first.String() != second.String() {
		t.Fatalf("expected identical output for the same seed")
	}
	if !strings.Contains(first.String(), "Luna") {
		t.Fatalf("expected the character in the story, got %q", first.String())
	}
}

func TestRunGenerateJSON(t *testing.T) {
	opts := lunaOptions()
	opts.format = "json"

	var out bytes.Buffer
	if err := runGenerate(&out, testEngine(t), opts, cliNow); err != nil {
		t.Fatalf("generate: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("expected json output: %v\n%s", err, out.String())
	}
}

func TestRunGenerateMultipleStories(t *testing.T) {
	opts := lunaOptions()
	opts.count = 3

	var out bytes.Buffer
	if err := runGenerate(&out, testEngine(t), opts, cliNow); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := strings.Count(out.String(), "\n---\n"); got != 2 {
		t.Fatalf("expected 2 separators, got %d", got)
	}
}

func TestRunGenerateRejectsBadInput(t *testing.T) {
	engine := testEngine(t)
	cases := map[string]func(*generateOptions){
		"missing character": func(o *generateOptions) { o.prompt.MainCharacter = "" },
		"bad age":           func(o *generateOptions) { o.prompt.AgeGroup = "13-15" },
		"bad format":        func(o *generateOptions) { o.format = "pdf" },
		"zero count":        func(o *generateOptions) { o.count = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := lunaOptions()
			mutate(&opts)
			if err := runGenerate(&bytes.Buffer{}, engine, opts, cliNow); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRunGenerateNamesFlagsInErrors(t *testing.T) {
	opts := lunaOptions()
	opts.prompt.MainCharacter = ""

	err := runGenerate(&bytes.Buffer{}, testEngine(t), opts, cliNow)
	if err == nil || !strings.Contains(err.Error(), "--character") {
		t.Fatalf("expected --character in error, got %v", err)
	}
}
